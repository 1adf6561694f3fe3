package streamx

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// epoch2025 is 2025-01-01T00:00:00Z; ids count seconds from it.
const epoch2025 int64 = 1735689600

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewStreamID returns a short, roughly time-ordered stream id:
// base62(seconds since 2025) followed by base62 of 48 random bits.
func NewStreamID() string {
	var rnd [8]byte
	if _, err := rand.Read(rnd[2:]); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	secs := uint64(max(time.Now().Unix()-epoch2025, 0))
	return base62(secs) + base62(binary.BigEndian.Uint64(rnd[:]))
}

func base62(n uint64) string {
	if n == 0 {
		return "0"
	}
	var out [11]byte
	i := len(out)
	for n > 0 {
		i--
		out[i] = base62Chars[n%62]
		n /= 62
	}
	return string(out[i:])
}
