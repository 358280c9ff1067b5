package flashsim

import (
	"encoding/binary"
	"fmt"
	"os"
)

// FileDevice is flash persisted in a flat image file, one little-endian
// word per 4 bytes. Words are cached in memory and written through, so an
// image reflects every completed program operation.
type FileDevice struct {
	f   *os.File
	mem *MemDevice
}

// OpenFile opens the flash image at path, creating a garbage-filled one of
// size bytes if it does not exist. An existing image must match size.
func OpenFile(path string, size, pageSize, bitDefault int) (*FileDevice, error) {
	checkGeometry(size, pageSize, bitDefault)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("flashsim: open image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flashsim: stat image: %w", err)
	}

	d := &FileDevice{
		f:   f,
		mem: NewMem(size, pageSize, bitDefault),
	}

	switch st.Size() {
	case 0:
		// fresh image, persist the garbage fill
		if err := d.flush(0, len(d.mem.words)); err != nil {
			f.Close()
			return nil, err
		}
	case int64(size):
		buf := make([]byte, size)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("flashsim: read image: %w", err)
		}
		for i := range d.mem.words {
			d.mem.words[i] = binary.LittleEndian.Uint32(buf[4*i:])
		}
	default:
		f.Close()
		return nil, fmt.Errorf("flashsim: image %s is %d bytes, want %d", path, st.Size(), size)
	}
	return d, nil
}

// Close flushes and closes the image file.
func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return fmt.Errorf("flashsim: sync image: %w", err)
	}
	return d.f.Close()
}

// flush writes words [w, w+n) through to the file.
func (d *FileDevice) flush(w, n int) error {
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], d.mem.words[w+i])
	}
	if _, err := d.f.WriteAt(buf, int64(4*w)); err != nil {
		return fmt.Errorf("flashsim: write image: %w", err)
	}
	return nil
}

func (d *FileDevice) mustFlush(w, n int) {
	if err := d.flush(w, n); err != nil {
		panic(err)
	}
}

// Read implements jpfs.Device.
func (d *FileDevice) Read(dst []uint32, addr uint32) {
	d.mem.Read(dst, addr)
}

// Write implements jpfs.Device.
func (d *FileDevice) Write(addr uint32, src []uint32, erase bool) {
	d.mem.Write(addr, src, erase)
	w := d.mem.word(addr)
	if erase {
		// page erases may have touched words around the write, flush
		// whole pages
		p := w - w%d.mem.pageWords
		last := w + len(src) - 1
		end := last - last%d.mem.pageWords + d.mem.pageWords
		d.mustFlush(p, end-p)
	} else {
		d.mustFlush(w, len(src))
	}
}

// ReadWord implements jpfs.Device.
func (d *FileDevice) ReadWord(addr uint32) uint32 {
	return d.mem.ReadWord(addr)
}

// WriteWord implements jpfs.Device.
func (d *FileDevice) WriteWord(addr uint32, v uint32) {
	d.mem.WriteWord(addr, v)
	d.mustFlush(d.mem.word(addr), 1)
}

// Erase implements jpfs.Device.
func (d *FileDevice) Erase(addr uint32, nwords int) {
	d.mem.Erase(addr, nwords)
	d.mustFlush(d.mem.word(addr), nwords)
}

// BitDefault implements jpfs.Device.
func (d *FileDevice) BitDefault() int { return d.mem.bitDefault }
