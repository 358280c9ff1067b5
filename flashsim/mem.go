// Package flashsim provides simulated flash devices implementing
// jpfs.Device, for tests and host-side tooling. The simulators enforce the
// flash contract: programming may only move bits away from the erased
// state, and erases are page-aligned. Contract violations panic, the way
// real hardware would fault.
package flashsim

import "fmt"

// garbageWord fills a device before its first erase, so nothing can
// mistake unformatted flash for valid content.
const garbageWord = 0xa5a5a5a5

// MemDevice is flash backed by a word slice.
type MemDevice struct {
	words      []uint32
	pageWords  int
	bitDefault int
}

// NewMem returns a flash device of size bytes with the given erase page
// size and bit default. The device starts unerased (garbage-filled).
// Panics on invalid geometry; the parameters mirror hardware properties,
// not runtime input.
func NewMem(size, pageSize, bitDefault int) *MemDevice {
	checkGeometry(size, pageSize, bitDefault)
	d := &MemDevice{
		words:      make([]uint32, size/4),
		pageWords:  pageSize / 4,
		bitDefault: bitDefault,
	}
	for i := range d.words {
		d.words[i] = garbageWord
	}
	return d
}

func checkGeometry(size, pageSize, bitDefault int) {
	if bitDefault != 0 && bitDefault != 1 {
		panic(fmt.Sprintf("flashsim: bit default must be 0 or 1, got %d", bitDefault))
	}
	if pageSize <= 0 || pageSize%4 != 0 {
		panic(fmt.Sprintf("flashsim: bad page size %d", pageSize))
	}
	if size <= 0 || size%pageSize != 0 {
		panic(fmt.Sprintf("flashsim: size %d is not a multiple of the page size %d", size, pageSize))
	}
}

func (d *MemDevice) word(addr uint32) int {
	if addr%4 != 0 {
		panic(fmt.Sprintf("flashsim: unaligned address %#x", addr))
	}
	w := int(addr / 4)
	if w >= len(d.words) {
		panic(fmt.Sprintf("flashsim: address %#x out of range", addr))
	}
	return w
}

func (d *MemDevice) erasedWord() uint32 {
	if d.bitDefault == 1 {
		return ^uint32(0)
	}
	return 0
}

func (d *MemDevice) program(w int, v uint32) {
	if d.bitDefault == 1 {
		d.words[w] &= v
	} else {
		d.words[w] |= v
	}
	if d.words[w] != v {
		panic(fmt.Sprintf("flashsim: word %#x cannot be programmed to %#08x (is %#08x)",
			w*4, v, d.words[w]))
	}
}

func (d *MemDevice) erasePage(w int) {
	p := w - w%d.pageWords
	for i := p; i < p+d.pageWords; i++ {
		d.words[i] = d.erasedWord()
	}
}

func (d *MemDevice) span(addr uint32, nwords int) int {
	w := d.word(addr)
	if w+nwords > len(d.words) {
		panic(fmt.Sprintf("flashsim: %d words at %#x run past the device end", nwords, addr))
	}
	return w
}

// Read implements jpfs.Device.
func (d *MemDevice) Read(dst []uint32, addr uint32) {
	w := d.span(addr, len(dst))
	copy(dst, d.words[w:])
}

// Write implements jpfs.Device.
func (d *MemDevice) Write(addr uint32, src []uint32, erase bool) {
	w := d.span(addr, len(src))
	for i, v := range src {
		if erase && (w+i)%d.pageWords == 0 {
			d.erasePage(w + i)
		}
		d.program(w+i, v)
	}
}

// ReadWord implements jpfs.Device.
func (d *MemDevice) ReadWord(addr uint32) uint32 {
	return d.words[d.word(addr)]
}

// WriteWord implements jpfs.Device.
func (d *MemDevice) WriteWord(addr uint32, v uint32) {
	d.program(d.word(addr), v)
}

// Erase implements jpfs.Device.
func (d *MemDevice) Erase(addr uint32, nwords int) {
	w := d.span(addr, nwords)
	if w%d.pageWords != 0 || nwords%d.pageWords != 0 {
		panic(fmt.Sprintf("flashsim: erase of %d words at %#x is not page aligned", nwords, addr))
	}
	for i := w; i < w+nwords; i++ {
		d.words[i] = d.erasedWord()
	}
}

// BitDefault implements jpfs.Device.
func (d *MemDevice) BitDefault() int { return d.bitDefault }

// Peek reads a word bypassing the device interface.
func (d *MemDevice) Peek(addr uint32) uint32 {
	return d.words[d.word(addr)]
}

// Poke sets a word directly, bypassing programming rules. For fault
// injection in tests.
func (d *MemDevice) Poke(addr uint32, v uint32) {
	d.words[d.word(addr)] = v
}
