package journal

import (
	"encoding/binary"
	"math/bits"

	"github.com/keks/jpfs"
)

// The journal has no index. Every lookup is a linear scan of the active
// region from block 1 (block 0 holds the magic word), trusting nothing
// that does not verify its own CRC. Later blocks supersede earlier ones.

// loadNextEntry advances *start to just past the next CRC-valid entry
// block, leaving it in b. Returns false when the scan hits the free
// pointer.
func (fs *FS) loadNextEntry(b *block, start *int) bool {
	for i := *start; i < fs.free; i++ {
		fs.loadBlock(b, i)
		if fs.ts.isEntry(b.info()) && crcWords(0, b.w[:7]) == b.w[7] {
			*start = i + 1
			return true
		}
	}
	return false
}

// findEntry resolves ufid to its file id, advancing *start past the
// matching entry block. If the ufid is unknown, found is false and id is
// the lowest id not claimed by any valid entry, or jpfs.MaxFiles when all
// ids are taken.
func (fs *FS) findEntry(ufid jpfs.UFID, start *int) (id uint32, found bool) {
	want := ufidWords(ufid)
	var mask uint64
	var b block
	for fs.loadNextEntry(&b, start) {
		id = infoID(b.info())
		if [3]uint32{b.w[1], b.w[2], b.w[3]} == want {
			return id, true
		}
		mask |= 1 << id
	}
	return uint32(bits.TrailingZeros64(^mask)), false
}

func ufidWords(u jpfs.UFID) [3]uint32 {
	return [3]uint32{
		binary.LittleEndian.Uint32(u[0:4]),
		binary.LittleEndian.Uint32(u[4:8]),
		binary.LittleEndian.Uint32(u[8:12]),
	}
}

// findNextData scans from *start for the next valid data chain for id and
// returns the index of its start block, advancing *start past the chain.
// A chain is valid only if its declared size is plausible, every expected
// continuation block is tagged as one, and the trailing CRC word checks
// out over the whole chain; anything else is skipped as an orphan.
// Returns -1 when no further chain exists.
func (fs *FS) findNextData(id uint32, start *int) int {
	first := -1
	var sz int
	var crc uint32
	for i := *start; i < fs.free; i++ {
		var b block
		fs.loadBlock(&b, i)
		if first < 0 {
			// searching for a start block
			if !fs.ts.isDataStart(b.info()) || infoID(b.info()) != id {
				continue
			}
			sz = int(infoSize(b.info()))
			if sz > jpfs.MaxFileSize {
				fs.lg.V(1).Info("invalid size in block", "size", sz)
				continue
			}
			if sz <= startBytesLast {
				// single-block chain, crc in word 7
				if crcWords(0, b.w[:7]) != b.w[7] {
					fs.lg.V(1).Info("invalid crc")
					continue
				}
				*start = i + 1
				return i
			}
			first = i
			crc = crcWords(0, b.w[:8])
			// sz may go negative on the last block if it is not
			// fully used; that is fine
			sz -= startBytes
		} else {
			// expecting continuation blocks
			if !fs.ts.isDataCont(b.info()) {
				fs.lg.V(1).Info("unexpected block")
				first = -1
				continue
			}
			if sz <= contBytesLast {
				if crcWords(crc, b.w[:7]) != b.w[7] {
					fs.lg.V(1).Info("invalid crc")
					first = -1
					continue
				}
				*start = i + 1
				return first
			}
			crc = crcWords(crc, b.w[:8])
			sz -= contBytes
		}
	}
	return -1
}

// findData returns the start block of the most recent valid chain for id,
// or -1. With prune set, every superseded chain found along the way is
// retired.
func (fs *FS) findData(id uint32, start int, prune bool) int {
	dsid := -1
	for {
		nid := fs.findNextData(id, &start)
		if nid < 0 {
			return dsid
		}
		if prune && dsid >= 0 {
			fs.taintBlock(dsid)
		}
		dsid = nid
	}
}
