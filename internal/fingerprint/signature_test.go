package fingerprint

import "testing"

func TestSignatureRoundTrip(t *testing.T) {
	sig := newSignature(64)
	for _, bit := range []int{0, 7, 13, 31, 32, 63} {
		sig.setBit(bit)
	}

	parsed, err := ParseSignature(sig.String(), 64)
	if err != nil {
		t.Fatalf("ParseSignature() error = %v", err)
	}
	if parsed.String() != sig.String() {
		t.Errorf("round trip mismatch: %s != %s", parsed, sig)
	}
	if parsed.HammingDistance(sig) != 0 {
		t.Errorf("round trip distance = %d, want 0", parsed.HammingDistance(sig))
	}
}

func TestParseSignatureRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"not hex", "zzzz"},
		{"wrong length", "aabb"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSignature(tt.encoded, 64); err == nil {
				t.Errorf("ParseSignature(%q) expected error", tt.encoded)
			}
		})
	}
}

func TestHammingDistance(t *testing.T) {
	a := newSignature(64)
	b := newSignature(64)
	a.setBit(1)
	a.setBit(40)
	b.setBit(1)
	b.setBit(41)

	if got := a.HammingDistance(b); got != 2 {
		t.Errorf("HammingDistance() = %d, want 2", got)
	}
}
