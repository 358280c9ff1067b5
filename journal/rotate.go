package journal

// untaintedBlock reports whether block i of the active region is still
// fully erased.
func (fs *FS) untaintedBlock(i int) bool {
	var b block
	fs.loadBlock(&b, i)
	for _, w := range b.w {
		if w != fs.ts.defaultWord {
			return false
		}
	}
	return true
}

// findFree locates the first unused block: the start of the maximal run of
// erased blocks at the end of the region.
func (fs *FS) findFree() int {
	free := fs.nblocks
	for i := fs.nblocks - 1; i >= 1 && fs.untaintedBlock(i); i-- {
		free = i
	}
	return free
}

func (fs *FS) eraseLog(idx int) {
	fs.dev.Erase(fs.log[idx], fs.nblocks*blockWords)
}

// activate makes region idx the active log. free < 0 means scan for the
// free pointer. Writing the magic word is the commit point; clearing a
// stale magic on the other region is cleanup only, so a boot between the
// two writes still resolves deterministically.
func (fs *FS) activate(idx, free int) {
	fs.idx = idx
	if free < 0 {
		fs.free = fs.findFree()
	} else {
		fs.free = free
	}
	if fs.dev.ReadWord(fs.log[idx]) != logMagic {
		fs.dev.WriteWord(fs.log[idx], logMagic)
	}
	if fs.dev.ReadWord(fs.log[1-idx]) == logMagic {
		fs.taintLog(1 - idx)
	}
}

// rotate compacts the journal: the inactive region is erased, every entry
// that still resolves to a valid data chain is copied over verbatim with
// that chain, and the regions swap roles. Orphaned entries are dropped.
func (fs *FS) rotate() {
	nidx := 1 - fs.idx

	fs.eraseLog(nidx)

	free := 1 // free index in the new region

	var b block
	start := 1
	for fs.loadNextEntry(&b, &start) {
		dsid := fs.findData(infoID(b.info()), start, false)
		if dsid < 0 {
			fs.lg.V(1).Info("skipping orphaned entry", "ufid", entryUFID(&b))
			continue
		}
		// copy the entry
		fs.appendBlockTo(&b, &free, nidx)
		// copy the data chain
		fs.loadBlock(&b, dsid)
		dsid++
		n := blocksFor(int(infoSize(b.info())))
		fs.appendBlockTo(&b, &free, nidx)
		for ; n > 1; n-- {
			fs.loadBlock(&b, dsid)
			dsid++
			fs.appendBlockTo(&b, &free, nidx)
		}
	}

	fs.activate(nidx, free)
	fs.lg.Info("journal rotated", "live", free-1, "blocks", fs.nblocks)
}
