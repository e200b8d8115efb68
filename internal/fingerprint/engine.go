package fingerprint

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/pkg/config"
)

const defaultGridSize = 8

// Engine computes average-hash signatures and similarity scores. It is a
// pure function over image bytes and never performs network I/O.
type Engine struct {
	gridSize       int
	matchThreshold float64
	tierVeryHigh   float64
	tierHigh       float64
	tierMedium     float64
	tierLow        float64
}

func NewEngine(cfg config.FingerprintConfig) *Engine {
	e := &Engine{
		gridSize:       defaultGridSize,
		matchThreshold: cfg.MatchThreshold,
		tierVeryHigh:   cfg.TierVeryHigh,
		tierHigh:       cfg.TierHigh,
		tierMedium:     cfg.TierMedium,
		tierLow:        cfg.TierLow,
	}
	if e.matchThreshold == 0 {
		e.matchThreshold = 0.85
	}
	if e.tierVeryHigh == 0 {
		e.tierVeryHigh = 0.95
	}
	if e.tierHigh == 0 {
		e.tierHigh = 0.90
	}
	if e.tierMedium == 0 {
		e.tierMedium = 0.85
	}
	if e.tierLow == 0 {
		e.tierLow = 0.75
	}
	return e
}

// SignatureLength returns the bit length of signatures this engine produces.
func (e *Engine) SignatureLength() int {
	return e.gridSize * e.gridSize
}

// Generate downsamples the image to the grid, converts to grayscale, and
// sets each bit where the cell's mean luminance exceeds the grid mean.
// Identical bytes always yield identical signatures.
func (e *Engine) Generate(imageBytes []byte) (Signature, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return Signature{}, &domain.DecodeError{Reason: "unsupported or corrupt image", Err: err}
	}

	n := e.gridSize
	cells := e.downsample(img)

	var total float64
	for _, lum := range cells {
		total += lum
	}
	mean := total / float64(n*n)

	sig := newSignature(n * n)
	for i, lum := range cells {
		if lum > mean {
			sig.setBit(i)
		}
	}
	return sig, nil
}

// downsample box-averages the image into gridSize² luminance cells,
// row-major.
func (e *Engine) downsample(img image.Image) []float64 {
	n := e.gridSize
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	cells := make([]float64, n*n)
	for row := 0; row < n; row++ {
		y0 := bounds.Min.Y + row*height/n
		y1 := bounds.Min.Y + (row+1)*height/n
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for col := 0; col < n; col++ {
			x0 := bounds.Min.X + col*width/n
			x1 := bounds.Min.X + (col+1)*width/n
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					// Rec.601 luma over 16-bit channels.
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
				}
			}
			cells[row*n+col] = sum / float64((y1-y0)*(x1-x0))
		}
	}
	return cells
}

// Compare scores two signatures in [0,1]: 1 minus normalized Hamming
// distance. Symmetric; panics on length mismatch.
func (e *Engine) Compare(a, b Signature) float64 {
	distance := a.HammingDistance(b)
	return 1.0 - float64(distance)/float64(a.Len())
}

// ClassifyConfidence buckets a similarity score. Assignment is monotonic in
// similarity.
func (e *Engine) ClassifyConfidence(similarity float64) domain.ConfidenceTier {
	switch {
	case similarity >= e.tierVeryHigh:
		return domain.TierVeryHigh
	case similarity >= e.tierHigh:
		return domain.TierHigh
	case similarity >= e.tierMedium:
		return domain.TierMedium
	case similarity >= e.tierLow:
		return domain.TierLow
	default:
		return domain.TierVeryLow
	}
}

// IsMatch reports whether similarity clears the configured match threshold.
func (e *Engine) IsMatch(similarity float64) bool {
	return similarity >= e.matchThreshold
}
