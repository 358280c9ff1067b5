// Package journal implements a journaled flat filesystem for raw flash.
//
// Files are stored in one of two fixed-size log regions as append-only
// chains of 32-byte blocks, keyed by a caller-chosen 12-byte UFID. Saving
// or removing a file never mutates existing data in place: new blocks are
// appended and the most recent CRC-valid chain wins, so a write that is
// cut short by a power loss is simply never trusted. When a save does not
// fit, the live files are compacted into the other region and the regions
// swap roles.
//
// The engine expects a single caller; it is not safe for concurrent use.
package journal

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/keks/jpfs"
)

// FS is a mounted journal. The zero value is not usable; call Mount.
type FS struct {
	dev jpfs.Device

	log     [2]uint32 // region base addresses
	nblocks int       // blocks per region
	idx     int       // active region
	free    int       // first unused block in the active region

	ts         tagset
	bitDefault int

	lg logr.Logger
}

// Option configures a mount.
type Option func(*FS)

// WithLogger routes engine diagnostics to l. The default discards them.
func WithLogger(l logr.Logger) Option {
	return func(fs *FS) {
		fs.lg = l
	}
}

// Mount attaches to the two log regions and selects the active one. If a
// region carries a valid magic word it is used as-is; otherwise regionA is
// erased and initialized empty. When both regions look valid, regionA wins.
//
// size is the byte size of each region and must be a multiple of the
// 32-byte block size. The regions must not overlap and must satisfy the
// device's erase alignment.
func Mount(dev jpfs.Device, regionA, regionB uint32, size int, opts ...Option) (*FS, error) {
	bd := dev.BitDefault()
	if bd != 0 && bd != 1 {
		return nil, fmt.Errorf("journal: device bit default must be 0 or 1, got %d", bd)
	}
	if size%blockBytes != 0 {
		return nil, fmt.Errorf("journal: region size %d is not a multiple of %d", size, blockBytes)
	}
	if size < 2*blockBytes {
		return nil, fmt.Errorf("journal: region size %d is too small, need at least %d", size, 2*blockBytes)
	}
	if regionA%4 != 0 || regionB%4 != 0 {
		return nil, fmt.Errorf("journal: regions must be word aligned")
	}

	fs := &FS{
		dev:        dev,
		log:        [2]uint32{regionA, regionB},
		nblocks:    size / blockBytes,
		ts:         tagsFor(bd),
		bitDefault: bd,
		lg:         logr.Discard(),
	}
	for _, o := range opts {
		o(fs)
	}

	switch {
	case dev.ReadWord(regionA) == logMagic:
		if dev.ReadWord(regionB) == logMagic {
			// Should only happen if a prior rotation was cut short
			// after the commit point but before cleanup.
			fs.lg.V(1).Info("both regions look active, preferring first")
		}
		fs.activate(0, -1)
	case dev.ReadWord(regionB) == logMagic:
		fs.activate(1, -1)
	default:
		fs.eraseLog(0)
		fs.activate(0, 1)
	}
	return fs, nil
}

// Save stores data under ufid, superseding any previous content. At most
// one compaction is attempted to make room.
func (fs *FS) Save(ufid jpfs.UFID, data []byte) error {
	if len(data) > jpfs.MaxFileSize {
		return jpfs.ErrTooLarge
	}

	need := blocksFor(len(data))

	start := 1
	id, found := fs.findEntry(ufid, &start)
	if !found {
		need++ // extra block for the entry
	}

	for rotated := false; need > fs.nblocks-fs.free; rotated = true {
		fs.lg.V(1).Info("journal full", "need", need, "free", fs.nblocks-fs.free)
		if rotated {
			fs.lg.V(1).Info("giving up")
			return jpfs.ErrNoSpace
		}
		fs.rotate()
	}

	if !found {
		if id >= jpfs.MaxFiles {
			fs.lg.V(1).Info("no more file ids available")
			return jpfs.ErrNoID
		}
		var b block
		b.w[0] = fs.ts.infoEntry(id)
		u := ufid[:]
		fillWords(b.w[1:4], &u)
		b.w[7] = crcWords(0, b.w[:7])
		fs.appendBlock(&b)
	}

	fs.writeData(data, id)
	return nil
}

// Read copies the content stored under ufid into buf and returns the true
// stored size, which may exceed len(buf). If buf is longer than the stored
// content its remainder is zeroed; a nil buf queries the size alone. Older
// superseded chains found along the way are retired.
func (fs *FS) Read(ufid jpfs.UFID, buf []byte) (int, error) {
	start := 1
	id, found := fs.findEntry(ufid, &start)
	if !found {
		return 0, jpfs.ErrNotFound
	}

	dsid := fs.findData(id, start, true)
	if dsid < 0 {
		fs.lg.V(1).Info("ignoring orphaned entry", "ufid", ufid)
		return 0, jpfs.ErrNotFound
	}

	size := fs.readData(dsid, buf)
	for i := min(size, len(buf)); i < len(buf); i++ {
		buf[i] = 0
	}
	return size, nil
}

// Remove deletes the file stored under ufid by retiring its entry block.
// Its data chains become orphans and are dropped on the next compaction.
func (fs *FS) Remove(ufid jpfs.UFID) error {
	start := 1
	_, found := fs.findEntry(ufid, &start)
	if !found {
		return jpfs.ErrNotFound
	}
	fs.taintBlock(start - 1) // the entry sits one block before the cursor
	return nil
}

// FileInfo describes one live file.
type FileInfo struct {
	UFID jpfs.UFID
	Size int
}

// Files lists the live files: entries that resolve to a CRC-valid data
// chain. Removed files and orphans are not reported.
func (fs *FS) Files() []FileInfo {
	var out []FileInfo
	var b block
	start := 1
	for fs.loadNextEntry(&b, &start) {
		dsid := fs.findData(infoID(b.info()), start, false)
		if dsid < 0 {
			continue
		}
		var db block
		fs.loadBlock(&db, dsid)
		out = append(out, FileInfo{UFID: entryUFID(&b), Size: int(infoSize(db.info()))})
	}
	return out
}

// NumBlocks returns the number of blocks per region.
func (fs *FS) NumBlocks() int { return fs.nblocks }

// FreeBlocks returns the number of unused blocks left in the active region.
func (fs *FS) FreeBlocks() int { return fs.nblocks - fs.free }

// Active returns the index (0 or 1) of the active region.
func (fs *FS) Active() int { return fs.idx }

// Block access helpers. Blocks are addressed by index within a region.

func (fs *FS) blockAddr(idx, i int) uint32 {
	return fs.log[idx] + uint32(i*blockBytes)
}

func (fs *FS) loadBlockFrom(b *block, i, idx int) {
	fs.dev.Read(b.w[:], fs.blockAddr(idx, i))
}

func (fs *FS) loadBlock(b *block, i int) {
	fs.loadBlockFrom(b, i, fs.idx)
}

func (fs *FS) appendBlockTo(b *block, pfree *int, idx int) {
	fs.dev.Write(fs.blockAddr(idx, *pfree), b.w[:], false)
	*pfree = *pfree + 1
}

func (fs *FS) appendBlock(b *block) {
	fs.appendBlockTo(b, &fs.free, fs.idx)
}

// taintBlock retires block i of the active region by driving its tag bits
// to the fully written state, turning it into a harmless continuation
// block. No erase needed.
func (fs *FS) taintBlock(i int) {
	fs.dev.WriteWord(fs.blockAddr(fs.idx, i), ^fs.ts.defaultWord)
}

func (fs *FS) taintLog(idx int) {
	fs.dev.WriteWord(fs.log[idx], ^fs.ts.defaultWord)
}

func entryUFID(b *block) jpfs.UFID {
	var u jpfs.UFID
	d := u[:]
	drainWords(&d, b.w[1:4])
	return u
}
