package domain

// ConfidenceTier buckets a similarity score for human triage and for the
// notice-worthiness gate.
type ConfidenceTier string

const (
	TierVeryHigh ConfidenceTier = "very_high"
	TierHigh     ConfidenceTier = "high"
	TierMedium   ConfidenceTier = "medium"
	TierLow      ConfidenceTier = "low"
	TierVeryLow  ConfidenceTier = "very_low"
)

// Rank orders tiers so callers can compare them; higher rank means higher
// confidence.
func (t ConfidenceTier) Rank() int {
	switch t {
	case TierVeryHigh:
		return 4
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether t is ranked at or above other.
func (t ConfidenceTier) AtLeast(other ConfidenceTier) bool {
	return t.Rank() >= other.Rank()
}

func ParseTier(s string) (ConfidenceTier, bool) {
	switch ConfidenceTier(s) {
	case TierVeryHigh, TierHigh, TierMedium, TierLow, TierVeryLow:
		return ConfidenceTier(s), true
	}
	return "", false
}
