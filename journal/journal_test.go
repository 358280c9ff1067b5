package journal

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keks/jpfs"
	"github.com/keks/jpfs/flashsim"
)

const (
	testRegion = 4096
	testPage   = 4096
)

var ufidTest1 = jpfs.UFID{
	0x70, 0x3f, 0x45, 0xef, 0xbc, 0x46, 0x7e, 0x17, 0xbc, 0x5b, 0x75, 0x76,
}

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur " +
	"adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna " +
	"aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi " +
	"ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in " +
	"voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint " +
	"occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim " +
	"id est laborum."

const loremIpsum2 = "Vitae turpis massa sed elementum tempus " +
	"egestas. Turpis massa sed elementum tempus egestas sed sed. Ultrices vitae " +
	"auctor eu augue ut lectus arcu. In hendrerit gravida rutrum quisque non tellus. " +
	"Ultrices sagittis orci a scelerisque purus semper eget duis. Vel eros donec ac " +
	"odio tempor orci dapibus. Feugiat nibh sed pulvinar proin gravida hendrerit " +
	"lectus a. Enim neque volutpat ac tincidunt vitae."

type testEnv struct {
	dev *flashsim.MemDevice
	fs  *FS
}

func newEnv(t *testing.T, bitDefault, region int) *testEnv {
	t.Helper()
	dev := flashsim.NewMem(2*region, testPage, bitDefault)
	fs, err := Mount(dev, 0, uint32(region), region)
	require.NoError(t, err)
	return &testEnv{dev: dev, fs: fs}
}

func (env *testEnv) remount(t *testing.T) {
	t.Helper()
	fs, err := Mount(env.dev, env.fs.log[0], env.fs.log[1], env.fs.nblocks*blockBytes)
	require.NoError(t, err)
	env.fs = fs
}

// forPolarities runs f once per flash bit default.
func forPolarities(t *testing.T, f func(t *testing.T, bitDefault int)) {
	for _, bd := range []int{1, 0} {
		t.Run(fmt.Sprintf("bitdefault=%d", bd), func(t *testing.T) {
			f(t, bd)
		})
	}
}

type op interface {
	Do(t *testing.T, env *testEnv)
}

type saveOp struct {
	ufid jpfs.UFID
	data string

	expErr error
}

func (op saveOp) Do(t *testing.T, env *testEnv) {
	err := env.fs.Save(op.ufid, []byte(op.data))
	if op.expErr == nil {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, op.expErr)
	}
}

type readOp struct {
	ufid   jpfs.UFID
	buflen int // -1 means nil buffer (size query)

	exp     string
	expSize int
	expErr  error
}

func (op readOp) Do(t *testing.T, env *testEnv) {
	r := require.New(t)

	var buf []byte
	if op.buflen >= 0 {
		buf = bytes.Repeat([]byte{0xaa}, op.buflen)
	}

	n, err := env.fs.Read(op.ufid, buf)
	if op.expErr != nil {
		r.ErrorIs(err, op.expErr)
		return
	}
	r.NoError(err)
	r.Equal(op.expSize, n)

	if op.buflen < 0 {
		// size query, no content to check
		return
	}

	want := op.exp
	if len(want) > len(buf) {
		want = want[:len(buf)]
	}
	r.Equal([]byte(want), buf[:len(want)])
	for i := len(want); i < len(buf); i++ {
		r.Zerof(buf[i], "buf[%d] not zero filled", i)
	}
}

type removeOp struct {
	ufid jpfs.UFID

	expErr error
}

func (op removeOp) Do(t *testing.T, env *testEnv) {
	err := env.fs.Remove(op.ufid)
	if op.expErr == nil {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, op.expErr)
	}
}

type remountOp struct{}

func (op remountOp) Do(t *testing.T, env *testEnv) {
	env.remount(t)
}

type rotateOp struct{}

func (op rotateOp) Do(t *testing.T, env *testEnv) {
	env.fs.rotate()
}

func TestScenarios(t *testing.T) {
	u2 := jpfs.UFID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	tcs := []struct {
		name string
		ops  []op
	}{
		{
			name: "round trip",
			ops: []op{
				saveOp{ufid: ufidTest1, data: loremIpsum},
				readOp{ufid: ufidTest1, buflen: -1, expSize: len(loremIpsum)},
				readOp{ufid: ufidTest1, buflen: 50, exp: loremIpsum, expSize: len(loremIpsum)},
				readOp{ufid: ufidTest1, buflen: len(loremIpsum), exp: loremIpsum, expSize: len(loremIpsum)},
				readOp{ufid: ufidTest1, buflen: 1024, exp: loremIpsum, expSize: len(loremIpsum)},
			},
		},
		{
			name: "idempotent read",
			ops: []op{
				saveOp{ufid: ufidTest1, data: loremIpsum},
				readOp{ufid: ufidTest1, buflen: 1024, exp: loremIpsum, expSize: len(loremIpsum)},
				readOp{ufid: ufidTest1, buflen: 1024, exp: loremIpsum, expSize: len(loremIpsum)},
			},
		},
		{
			name: "supersession",
			ops: []op{
				saveOp{ufid: ufidTest1, data: loremIpsum},
				saveOp{ufid: ufidTest1, data: loremIpsum2},
				readOp{ufid: ufidTest1, buflen: 1024, exp: loremIpsum2, expSize: len(loremIpsum2)},
			},
		},
		{
			name: "deletion",
			ops: []op{
				saveOp{ufid: ufidTest1, data: loremIpsum},
				removeOp{ufid: ufidTest1},
				readOp{ufid: ufidTest1, buflen: 1024, expErr: jpfs.ErrNotFound},
				removeOp{ufid: ufidTest1, expErr: jpfs.ErrNotFound},
			},
		},
		{
			name: "unknown ufid",
			ops: []op{
				saveOp{ufid: ufidTest1, data: loremIpsum},
				readOp{ufid: u2, buflen: 1024, expErr: jpfs.ErrNotFound},
				removeOp{ufid: u2, expErr: jpfs.ErrNotFound},
			},
		},
		{
			name: "too large",
			ops: []op{
				saveOp{ufid: ufidTest1, data: strings.Repeat("x", 504)},
				saveOp{ufid: ufidTest1, data: strings.Repeat("x", 505), expErr: jpfs.ErrTooLarge},
				readOp{ufid: ufidTest1, buflen: 1024, exp: strings.Repeat("x", 504), expSize: 504},
			},
		},
		{
			name: "survives remount",
			ops: []op{
				saveOp{ufid: ufidTest1, data: loremIpsum},
				saveOp{ufid: u2, data: "hi"},
				remountOp{},
				readOp{ufid: ufidTest1, buflen: 1024, exp: loremIpsum, expSize: len(loremIpsum)},
				readOp{ufid: u2, buflen: 1024, exp: "hi", expSize: 2},
			},
		},
		{
			name: "survives rotation",
			ops: []op{
				saveOp{ufid: ufidTest1, data: loremIpsum},
				saveOp{ufid: u2, data: "hi"},
				rotateOp{},
				readOp{ufid: ufidTest1, buflen: 1024, exp: loremIpsum, expSize: len(loremIpsum)},
				readOp{ufid: u2, buflen: 1024, exp: "hi", expSize: 2},
			},
		},
		{
			name: "end to end",
			ops: []op{
				saveOp{ufid: ufidTest1, data: strings.Repeat("a", 75)},
				readOp{ufid: ufidTest1, buflen: 1024, exp: strings.Repeat("a", 75), expSize: 75},
				saveOp{ufid: ufidTest1, data: strings.Repeat("b", 50)},
				readOp{ufid: ufidTest1, buflen: 1024, exp: strings.Repeat("b", 50), expSize: 50},
				removeOp{ufid: ufidTest1},
				readOp{ufid: ufidTest1, buflen: 1024, expErr: jpfs.ErrNotFound},
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			forPolarities(t, func(t *testing.T, bd int) {
				env := newEnv(t, bd, testRegion)
				for _, op := range tc.ops {
					op.Do(t, env)
				}
			})
		})
	}
}

func TestMount(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		r := require.New(t)
		dev := flashsim.NewMem(2*testRegion, testPage, bd)

		fs, err := Mount(dev, 0, testRegion, testRegion)
		r.NoError(err)
		r.Equal(0, fs.idx)
		r.Equal(1, fs.free)
		r.Equal(128, fs.nblocks)

		// mounting again must reproduce the same state
		fs, err = Mount(dev, 0, testRegion, testRegion)
		r.NoError(err)
		r.Equal(0, fs.idx)
		r.Equal(1, fs.free)

		// swapping the region arguments flips the active index
		fs, err = Mount(dev, testRegion, 0, testRegion)
		r.NoError(err)
		r.Equal(1, fs.idx)
		r.Equal(1, fs.free)
	})
}

func TestMountBadGeometry(t *testing.T) {
	dev := flashsim.NewMem(2*testRegion, testPage, 1)

	_, err := Mount(dev, 0, testRegion, testRegion-1)
	require.ErrorContains(t, err, "not a multiple")

	_, err = Mount(dev, 0, testRegion, blockBytes)
	require.ErrorContains(t, err, "too small")

	_, err = Mount(dev, 2, testRegion, testRegion)
	require.ErrorContains(t, err, "word aligned")
}

func TestMountBothValid(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		r := require.New(t)
		env := newEnv(t, bd, testRegion)
		r.NoError(env.fs.Save(ufidTest1, []byte(loremIpsum)))

		// fake a rotation cut short after the commit point: both
		// regions carry a magic word
		env.dev.Poke(testRegion, logMagic)

		env.remount(t)
		r.Equal(0, env.fs.Active())

		// the stale magic must have been cleaned up
		r.NotEqual(uint32(logMagic), env.dev.Peek(testRegion))

		n, err := env.fs.Read(ufidTest1, nil)
		r.NoError(err)
		r.Equal(len(loremIpsum), n)
	})
}

func TestRemountDeterminism(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		r := require.New(t)
		env := newEnv(t, bd, testRegion)

		r.NoError(env.fs.Save(ufidTest1, []byte(loremIpsum)))
		u2 := jpfs.UFID{9, 9, 9}
		r.NoError(env.fs.Save(u2, []byte("second")))
		r.NoError(env.fs.Remove(u2))

		idx, free := env.fs.idx, env.fs.free
		files := env.fs.Files()

		for i := 0; i < 3; i++ {
			env.remount(t)
			r.Equal(idx, env.fs.idx)
			r.Equal(free, env.fs.free)
			r.Equal(files, env.fs.Files())
		}
	})
}

// TestRoundTripAllSizes saves and reads back every legal payload size.
// Random payloads exercise the preserved-bits vector in both states.
func TestRoundTripAllSizes(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		r := require.New(t)
		env := newEnv(t, bd, testRegion)
		rnd := rand.New(rand.NewSource(logMagic))

		buf := make([]byte, jpfs.MaxFileSize)
		for size := 0; size <= jpfs.MaxFileSize; size++ {
			data := make([]byte, size)
			rnd.Read(data)
			r.NoError(env.fs.Save(ufidTest1, data))

			n, err := env.fs.Read(ufidTest1, buf)
			r.NoError(err, "size %d", size)
			r.Equal(size, n, "size %d", size)
			r.Equal(data, buf[:size], "size %d", size)
		}
	})
}

// TestBitPreservation pins the continuation tag bit handling: byte 28+32j
// of the payload lands on a continuation block's info word, whose low bit
// is sacrificed to the block tag and restored from the start block.
func TestBitPreservation(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		r := require.New(t)
		env := newEnv(t, bd, testRegion)

		for _, fill := range []byte{0x01, 0xfe, 0xff, 0x00} {
			data := bytes.Repeat([]byte{fill}, jpfs.MaxFileSize)
			r.NoError(env.fs.Save(ufidTest1, data))

			buf := make([]byte, jpfs.MaxFileSize)
			n, err := env.fs.Read(ufidTest1, buf)
			r.NoError(err)
			r.Equal(len(data), n)
			r.Equal(data, buf)
		}
	})
}

func TestSaveNoSpace(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		env := newEnv(t, bd, testRegion)

		// entry + 16 data blocks = 17 per file, 127 usable blocks:
		// exactly 7 files fit
		data := make([]byte, 500)
		var ufid jpfs.UFID
		for i := 0; i <= 7; i++ {
			ufid[11] = byte(i)
			err := env.fs.Save(ufid, data)
			if i == 7 {
				require.ErrorIs(t, err, jpfs.ErrNoSpace)
			} else {
				require.NoError(t, err)
			}
		}
	})
}

func TestSaveTooMany(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		env := newEnv(t, bd, 2*testRegion)

		data := make([]byte, 10)
		var ufid jpfs.UFID
		for i := 0; i <= 64; i++ {
			ufid[11] = byte(i)
			err := env.fs.Save(ufid, data)
			if i == 64 {
				require.ErrorIs(t, err, jpfs.ErrNoID)
			} else {
				require.NoError(t, err)
			}
		}
	})
}

func TestFiles(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		r := require.New(t)
		env := newEnv(t, bd, testRegion)

		u2 := jpfs.UFID{2}
		u3 := jpfs.UFID{3}
		r.NoError(env.fs.Save(ufidTest1, []byte(loremIpsum)))
		r.NoError(env.fs.Save(u2, []byte("22")))
		r.NoError(env.fs.Save(u3, []byte("333")))
		r.NoError(env.fs.Remove(u2))

		files := env.fs.Files()
		r.Equal([]FileInfo{
			{UFID: ufidTest1, Size: len(loremIpsum)},
			{UFID: u3, Size: 3},
		}, files)
	})
}

// TestLoadTest hammers a small journal with random saves, removes and
// remounts, verifying every file after each step.
func TestLoadTest(t *testing.T) {
	forPolarities(t, func(t *testing.T, bd int) {
		r := require.New(t)
		env := newEnv(t, bd, testRegion)
		rnd := rand.New(rand.NewSource(logMagic))

		const (
			nfiles = 30
			msize  = 75
			rounds = 2000
		)

		type file struct {
			ufid    jpfs.UFID
			data    []byte
			deleted bool
		}

		files := make([]file, nfiles)
		for i := range files {
			rnd.Read(files[i].ufid[:])
			files[i].data = make([]byte, rnd.Intn(msize))
			rnd.Read(files[i].data)
			r.NoError(env.fs.Save(files[i].ufid, files[i].data))
		}

		verify := func() {
			buf := make([]byte, 1024)
			for i := range files {
				n, err := env.fs.Read(files[i].ufid, buf)
				if files[i].deleted {
					r.ErrorIs(err, jpfs.ErrNotFound)
					continue
				}
				r.NoError(err)
				r.Equal(len(files[i].data), n)
				r.Equal(files[i].data, buf[:n])
			}
		}
		verify()

		for x := 0; x < rounds; x++ {
			f := &files[rnd.Intn(nfiles)]

			if rnd.Intn(100) < 10 {
				err := env.fs.Remove(f.ufid)
				if f.deleted {
					r.ErrorIs(err, jpfs.ErrNotFound)
				} else {
					r.NoError(err)
				}
				f.deleted = true
			} else {
				f.data = make([]byte, rnd.Intn(msize))
				rnd.Read(f.data)
				r.NoError(env.fs.Save(f.ufid, f.data))
				f.deleted = false
			}

			verify()

			if rnd.Intn(100) < 5 {
				env.remount(t)
			}
		}
	})
}
