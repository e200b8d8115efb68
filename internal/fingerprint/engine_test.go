package fingerprint

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/pkg/config"
)

func testEngine() *Engine {
	return NewEngine(config.FingerprintConfig{})
}

// gradientPNG renders a horizontal luminance gradient so roughly half the
// grid cells land above the mean.
func gradientPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / width)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestGenerateDeterministic(t *testing.T) {
	engine := testEngine()
	data := gradientPNG(t, 64, 64)

	first, err := engine.Generate(data)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	second, err := engine.Generate(data)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if first.String() != second.String() {
		t.Errorf("Generate() not deterministic: %s != %s", first, second)
	}
	if first.Len() != 64 {
		t.Errorf("signature length = %d, want 64", first.Len())
	}
}

func TestGenerateDecodeError(t *testing.T) {
	engine := testEngine()

	_, err := engine.Generate([]byte("not an image"))
	if err == nil {
		t.Fatal("Generate() expected error for garbage bytes")
	}

	var decodeErr *domain.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("Generate() error = %T, want *domain.DecodeError", err)
	}
}

func TestCompareIdentityAndSymmetry(t *testing.T) {
	engine := testEngine()

	a, err := engine.Generate(gradientPNG(t, 64, 64))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := engine.Generate(gradientPNG(t, 128, 32))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if got := engine.Compare(a, a); got != 1.0 {
		t.Errorf("Compare(a, a) = %v, want 1.0", got)
	}
	if ab, ba := engine.Compare(a, b), engine.Compare(b, a); ab != ba {
		t.Errorf("Compare not symmetric: %v != %v", ab, ba)
	}
}

func TestCompareLengthMismatchPanics(t *testing.T) {
	engine := testEngine()
	a := newSignature(64)
	b := newSignature(16)

	defer func() {
		if recover() == nil {
			t.Error("Compare() with mismatched lengths did not panic")
		}
	}()
	engine.Compare(a, b)
}

func TestCompareThreeBitsFlipped(t *testing.T) {
	engine := testEngine()

	a := newSignature(64)
	b := newSignature(64)
	for _, bit := range []int{0, 1, 2, 3, 10, 20, 30, 40, 63} {
		a.setBit(bit)
		b.setBit(bit)
	}
	for _, bit := range []int{5, 15, 25} {
		b.setBit(bit)
	}

	got := engine.Compare(a, b)
	want := 1.0 - 3.0/64.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Compare() = %v, want %v", got, want)
	}
	if tier := engine.ClassifyConfidence(got); tier != domain.TierVeryHigh {
		t.Errorf("ClassifyConfidence(%v) = %v, want %v", got, tier, domain.TierVeryHigh)
	}
}

func TestClassifyConfidenceTiers(t *testing.T) {
	engine := testEngine()

	tests := []struct {
		similarity float64
		want       domain.ConfidenceTier
	}{
		{1.0, domain.TierVeryHigh},
		{0.95, domain.TierVeryHigh},
		{0.94, domain.TierHigh},
		{0.90, domain.TierHigh},
		{0.89, domain.TierMedium},
		{0.85, domain.TierMedium},
		{0.84, domain.TierLow},
		{0.75, domain.TierLow},
		{0.74, domain.TierVeryLow},
		{0.0, domain.TierVeryLow},
	}

	for _, tt := range tests {
		if got := engine.ClassifyConfidence(tt.similarity); got != tt.want {
			t.Errorf("ClassifyConfidence(%v) = %v, want %v", tt.similarity, got, tt.want)
		}
	}
}

func TestClassifyConfidenceMonotonic(t *testing.T) {
	engine := testEngine()

	prev := -1
	for sim := 0.0; sim <= 1.0; sim += 0.005 {
		rank := engine.ClassifyConfidence(sim).Rank()
		if rank < prev {
			t.Fatalf("tier rank decreased at similarity %v", sim)
		}
		prev = rank
	}
}

func TestIsMatchThreshold(t *testing.T) {
	engine := testEngine()

	if !engine.IsMatch(0.85) {
		t.Error("IsMatch(0.85) = false, want true at default threshold")
	}
	if engine.IsMatch(0.8499) {
		t.Error("IsMatch(0.8499) = true, want false")
	}
}
