package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Digest returns keccak256 over the concatenation of parts.
// Each part is length-prefixed so ("ab","c") and ("a","bc") differ.
func Digest(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	var lenBuf [4]byte
	for _, p := range parts {
		n := len(p)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DigestHex is Digest rendered as 0x-prefixed hex.
func DigestHex(parts ...[]byte) string {
	d := Digest(parts...)
	return "0x" + hex.EncodeToString(d[:])
}

// ShortID abbreviates long identifiers for tables and logs.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:8] + ".." + id[len(id)-4:]
}
