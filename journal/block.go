package journal

import (
	"encoding/binary"
	"hash/crc32"
)

// On-flash layout. Every structure is one 32-byte block of eight 32-bit
// little-endian words. The two low bits of word 0 (the info word) tag the
// block kind; tag values are chosen so that any kind can be turned into a
// data continuation block by clearing bits toward the written state, which
// is how blocks are tainted without an erase.
//
//	 3          2          1          0
//	10987654 32109876 54321098 76543210
//	                           iiiiii.. - entry block
//	bbbbbbbb bbbbbbbs ssssssss iiiiii.. - data start block
//	dddddddd dddddddd dddddddd ddddddd. - data continuation block
//
//	i = file id (0-63)
//	s = payload size (0-504)
//	b = preserved low bits of continuation blocks
//	d = payload data
//
// The low bit of a continuation block's info word is forced to the written
// state so the block stays recognizable; the data bit it displaces is kept
// in the bits field of the chain's start block (up to 9, one per possible
// continuation). The last word of the last block of a chain holds the
// CRC-32 over the whole chain; for entry blocks word 7 is the CRC over
// words 0-6.
//
// Entry block:  w[0] info, w[1..3] ufid, w[4..6] reserved, w[7] crc.
// Data blocks:  w[0] info, w[1..7] payload.

const (
	blockWords = 8
	blockBytes = blockWords * 4

	// payload capacity of a data start block, and of the same when it is
	// also the last block of its chain (word 7 goes to the CRC)
	startBytes     = 28
	startBytesLast = 24

	// likewise for continuation blocks (the info word carries payload)
	contBytes     = 32
	contBytesLast = 28
)

// logMagic marks word 0 of block 0 of an active log region ("JPFS").
const logMagic = 0x5346504A

const (
	entryMask = 0x3
	startMask = 0x3
	contMask  = 0x1
)

// tagset holds the block kind tags for one flash polarity.
type tagset struct {
	entry uint32
	start uint32
	cont  uint32

	// defaultWord is a fully erased word.
	defaultWord uint32
}

func tagsFor(bitDefault int) tagset {
	if bitDefault == 1 {
		return tagset{entry: 3, start: 1, cont: 0, defaultWord: ^uint32(0)}
	}
	return tagset{entry: 0, start: 2, cont: 1, defaultWord: 0}
}

func (ts tagset) isEntry(info uint32) bool {
	return info&entryMask == ts.entry
}

func (ts tagset) isDataStart(info uint32) bool {
	return info&startMask == ts.start
}

func (ts tagset) isDataCont(info uint32) bool {
	return info&contMask == ts.cont
}

// block is one 32-byte journal block, staged in RAM.
type block struct {
	w [blockWords]uint32
}

func (b *block) info() uint32 { return b.w[0] }

func infoID(info uint32) uint32   { return (info >> 2) & 0x3f }
func infoSize(info uint32) uint32 { return (info >> 8) & 0x1ff }
func infoBits(info uint32) uint32 { return info >> 17 }

func (ts tagset) infoEntry(id uint32) uint32 {
	return id<<2 | ts.entry
}

func (ts tagset) infoDataStart(id, size, bits uint32) uint32 {
	return bits<<17 | size<<8 | id<<2 | ts.start
}

// blocksFor returns the chain length for a payload of sz bytes.
func blocksFor(sz int) int {
	if sz <= startBytesLast {
		return 1
	}
	// one start block, one final continuation, and a full continuation
	// per 32 bytes in between
	return 2 + (sz-startBytesLast-1)>>5
}

// crcWords folds words into a running CRC-32 (IEEE), byte order as stored
// on flash.
func crcWords(crc uint32, w []uint32) uint32 {
	var buf [4]byte
	for _, v := range w {
		binary.LittleEndian.PutUint32(buf[:], v)
		crc = crc32.Update(crc, crc32.IEEETable, buf[:])
	}
	return crc
}

// fillWords packs bytes from *src into w, consuming up to 4*len(w) bytes
// and zero-padding the rest.
func fillWords(w []uint32, src *[]byte) {
	var buf [4]byte
	s := *src
	for i := range w {
		n := copy(buf[:], s)
		for j := n; j < 4; j++ {
			buf[j] = 0
		}
		s = s[n:]
		w[i] = binary.LittleEndian.Uint32(buf[:])
	}
	*src = s
}

// drainWords unpacks words into *dst, stopping when dst is full.
func drainWords(dst *[]byte, w []uint32) {
	var buf [4]byte
	d := *dst
	for i := 0; len(d) > 0 && i < len(w); i++ {
		binary.LittleEndian.PutUint32(buf[:], w[i])
		n := copy(d, buf[:])
		d = d[n:]
	}
	*dst = d
}
