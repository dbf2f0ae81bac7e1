package adapt

import "fmt"

// Tier is an index into a tier ladder. Tiers are totally ordered:
// a smaller index means lower resolution and bitrate.
type Tier uint8

// The canonical three-tier ladder.
const (
	// TierLow is the lowest resolution tier.
	TierLow Tier = 0
	// TierMedium is the middle resolution tier.
	TierMedium Tier = 1
	// TierHigh is the highest resolution tier in the default ladder.
	TierHigh Tier = 2
)

// TierConfig maps a tier to its encode parameters.
type TierConfig struct {
	Name          string
	Width         int
	Height        int
	TargetBitrate uint32 // bits per second handed to the encoder
}

// Ladder is an ordered set of tier configurations, lowest first.
type Ladder []TierConfig

// DefaultLadder returns the three-tier low/medium/high ladder.
func DefaultLadder() Ladder {
	return Ladder{
		{Name: "low", Width: 640, Height: 360, TargetBitrate: 400_000},
		{Name: "medium", Width: 1280, Height: 720, TargetBitrate: 1_500_000},
		{Name: "high", Width: 1920, Height: 1080, TargetBitrate: 4_000_000},
	}
}

// ExtendedLadder returns a five-rung ladder mirroring common streaming
// resolution steps, for deployments that want finer-grained adaptation.
func ExtendedLadder() Ladder {
	return Ladder{
		{Name: "240p", Width: 426, Height: 240, TargetBitrate: 250_000},
		{Name: "360p", Width: 640, Height: 360, TargetBitrate: 500_000},
		{Name: "480p", Width: 854, Height: 480, TargetBitrate: 1_000_000},
		{Name: "720p", Width: 1280, Height: 720, TargetBitrate: 2_500_000},
		{Name: "1080p", Width: 1920, Height: 1080, TargetBitrate: 5_000_000},
	}
}

// Lowest returns the bottom tier of the ladder.
func (l Ladder) Lowest() Tier { return 0 }

// Highest returns the top tier of the ladder.
func (l Ladder) Highest() Tier { return Tier(len(l) - 1) }

// Clamp bounds t to the ladder's valid range.
func (l Ladder) Clamp(t Tier) Tier {
	if int(t) >= len(l) {
		return l.Highest()
	}
	return t
}

// Config returns the configuration for tier t.
func (l Ladder) Config(t Tier) (TierConfig, error) {
	if int(t) >= len(l) {
		return TierConfig{}, fmt.Errorf("tier %d out of range for %d-tier ladder", t, len(l))
	}
	return l[t], nil
}

// Name returns the tier's configured name, or a positional fallback.
func (l Ladder) Name(t Tier) string {
	if int(t) < len(l) {
		return l[t].Name
	}
	return fmt.Sprintf("tier-%d", t)
}
