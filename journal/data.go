package journal

// writeData appends a data chain for id: a start block holding the first
// 28 payload bytes, then continuation blocks of 32. The low bit of every
// continuation block's first byte would collide with the block tag, so the
// true bits are collected into the start block's info word and the tag
// polarity is forced on flash. The chain's CRC lands in the last word of
// the last block; that single word write is what makes the chain visible.
func (fs *FS) writeData(src []byte, id uint32) {
	n := len(src)

	var pres uint32
	for i, j := startBytes, 0; i < n; i, j = i+contBytes, j+1 {
		pres |= uint32(src[i]&1) << j
	}

	var b block
	b.w[0] = fs.ts.infoDataStart(id, uint32(n), pres)

	var crc uint32
	last := n <= startBytesLast
	fillWords(b.w[1:8], &src)
	for !last {
		crc = crcWords(crc, b.w[:8])
		fs.appendBlock(&b)
		last = len(src) <= contBytesLast
		fillWords(b.w[0:8], &src)
		if fs.bitDefault == 1 {
			b.w[0] &^= 1
		} else {
			b.w[0] |= 1
		}
	}
	b.w[7] = crcWords(crc, b.w[:7])
	fs.appendBlock(&b)
}

// readData reconstructs the payload of the chain starting at block i,
// copying up to len(dst) bytes, and returns the stored size. The chain is
// assumed to have been validated.
func (fs *FS) readData(i int, dst []byte) int {
	var b block
	fs.loadBlock(&b, i)
	i++

	pres := infoBits(b.info())
	size := int(infoSize(b.info()))
	if fs.bitDefault == 0 {
		pres = ^pres
	}

	n := min(size, len(dst))
	rem := dst[:n]
	drainWords(&rem, b.w[1:8])

	for len(rem) > 0 {
		fs.loadBlock(&b, i)
		i++
		// restore the tag bit from the preserved vector
		if fs.bitDefault == 1 {
			b.w[0] |= pres & 1
		} else {
			b.w[0] ^= pres & 1
		}
		pres >>= 1
		drainWords(&rem, b.w[0:8])
	}
	return size
}
