package fingerprint

import (
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Signature is a fixed-length bit vector summarizing an image's visual
// appearance. Persisted as a hex string.
type Signature struct {
	words  []uint64
	length int
}

func newSignature(length int) Signature {
	return Signature{
		words:  make([]uint64, (length+63)/64),
		length: length,
	}
}

func (s Signature) Len() int {
	return s.length
}

func (s Signature) Bit(i int) bool {
	return s.words[i/64]&(1<<(uint(i)%64)) != 0
}

func (s *Signature) setBit(i int) {
	s.words[i/64] |= 1 << (uint(i) % 64)
}

// HammingDistance counts differing bits. Panics on unequal lengths: comparing
// signatures produced with different grid sizes is a programming error.
func (s Signature) HammingDistance(other Signature) int {
	if s.length != other.length {
		panic(fmt.Sprintf("fingerprint: signature length mismatch: %d vs %d", s.length, other.length))
	}
	distance := 0
	for i := range s.words {
		distance += bits.OnesCount64(s.words[i] ^ other.words[i])
	}
	return distance
}

// String encodes the signature as lowercase hex, left word first.
func (s Signature) String() string {
	buf := make([]byte, 0, len(s.words)*8)
	for _, w := range s.words {
		for b := 0; b < 8; b++ {
			buf = append(buf, byte(w>>(uint(b)*8)))
		}
	}
	return hex.EncodeToString(buf)
}

// ParseSignature decodes the hex form produced by String for a signature of
// the given bit length.
func ParseSignature(encoded string, length int) (Signature, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return Signature{}, fmt.Errorf("parse signature: %w", err)
	}
	sig := newSignature(length)
	if len(raw) != len(sig.words)*8 {
		return Signature{}, fmt.Errorf("parse signature: got %d bytes, want %d", len(raw), len(sig.words)*8)
	}
	for i := range sig.words {
		var w uint64
		for b := 0; b < 8; b++ {
			w |= uint64(raw[i*8+b]) << (uint(b) * 8)
		}
		sig.words[i] = w
	}
	return sig, nil
}
