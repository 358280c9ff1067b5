package jpfs // import "github.com/keks/jpfs"

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Limits

const (
	// MaxFileSize is the largest payload a single file can hold, in bytes.
	MaxFileSize = 504

	// MaxFiles is the number of distinct files a journal can name.
	MaxFiles = 64
)

// File Identity

// UFID is the universal file identifier. It names a logical file and is
// chosen by the caller, commonly a hash-derived constant.
type UFID [12]byte

func (u UFID) String() string {
	return hex.EncodeToString(u[:])
}

// ParseUFID parses a UFID from its 24-digit hex representation.
func ParseUFID(s string) (UFID, error) {
	var u UFID
	b, err := hex.DecodeString(s)
	if err != nil {
		return u, fmt.Errorf("jpfs: bad ufid %q: %w", s, err)
	}
	if len(b) != len(u) {
		return u, fmt.Errorf("jpfs: bad ufid %q: need %d hex digits", s, 2*len(u))
	}
	copy(u[:], b)
	return u, nil
}

// Device Layer

// Device is a word-granular flash block device. Addresses are byte offsets
// into the device and must be 4-byte aligned, sizes are in 32-bit words.
//
// Flash bits settle to BitDefault after an erase; a program operation may
// only move bits away from the default value. Restoring a default bit
// requires erasing the containing page. Implementations enforce this
// contract; violating it is a programming error, not a runtime condition,
// so the interface carries no error returns.
type Device interface {
	// Read copies len(dst) words starting at addr into dst.
	Read(dst []uint32, addr uint32)

	// Write programs len(src) words starting at addr. If erase is set,
	// each page is erased as the write first touches it.
	Write(addr uint32, src []uint32, erase bool)

	// ReadWord reads the single word at addr.
	ReadWord(addr uint32) uint32

	// WriteWord programs the single word at addr.
	WriteWord(addr uint32, v uint32)

	// Erase resets nwords words starting at addr to the default bit
	// value. Both addr and the word count must be page-aligned.
	Erase(addr uint32, nwords int)

	// BitDefault reports the value (0 or 1) bits hold after an erase.
	BitDefault() int
}

// Errors

var (
	// ErrTooLarge is returned by Save for payloads over MaxFileSize.
	ErrTooLarge = errors.New("jpfs: file too large")

	// ErrNoSpace is returned by Save when the journal cannot fit the
	// file even after compacting.
	ErrNoSpace = errors.New("jpfs: journal full")

	// ErrNoID is returned by Save when all file ids are taken.
	ErrNoID = errors.New("jpfs: no more file ids available")

	// ErrNotFound is returned when a UFID is unknown or its data is
	// missing or corrupt.
	ErrNotFound = errors.New("jpfs: file not found")
)
