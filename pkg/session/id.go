package session

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// GenerateID combines parts into a hex-encoded SHA-256 identifier.
//
// Each part is written as its Go type name and its %v rendering, both length
// prefixed, so ("ab", "c") and ("a", "bc") differ and so do ("a", 1) and
// ("a", "1"). Identical inputs always produce the same identifier.
func GenerateID(parts ...any) string {
	h := sha256.New()
	for _, p := range parts {
		writeField(h, fmt.Sprintf("%T", p))
		writeField(h, fmt.Sprint(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	w.Write(n[:])
	w.Write([]byte(s))
}
