package jpfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUFID(t *testing.T) {
	r := require.New(t)

	u, err := ParseUFID("703f45efbc467e17bc5b7576")
	r.NoError(err)
	r.Equal(UFID{0x70, 0x3f, 0x45, 0xef, 0xbc, 0x46, 0x7e, 0x17, 0xbc, 0x5b, 0x75, 0x76}, u)
	r.Equal("703f45efbc467e17bc5b7576", u.String())

	_, err = ParseUFID("703f")
	r.Error(err)

	_, err = ParseUFID("not hex, definitely not")
	r.Error(err)
}
