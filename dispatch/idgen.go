package dispatch

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/onem2m/cse/resource"
)

// newRI generates a resource identifier: the type's short name plus
// 8 random bytes of hex. oneM2M leaves ri generation to the
// implementation (§3.1); no library in the ambient/domain stack covers
// ID generation, so this uses the standard library only.
func newRI(ty resource.Type) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return ty.String() + "-" + hex.EncodeToString(b[:])
}
