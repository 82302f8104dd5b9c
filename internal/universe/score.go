package universe

import "math"

// Score computes a market's interestingness in [0, 1]. The exact weights
// are tunable; the contract is monotonicity (more volume or more price
// movement never lowers the score) and the 1.0 cap.
//
// Volume contributes up to 0.6 on a saturating curve; recent price movement
// contributes up to 0.4, with the 1h change weighted heavier than the 24h.
func Score(volume24h, priceChange1h, priceChange24h float64) float64 {
	if volume24h < 0 {
		volume24h = 0
	}

	volumeComponent := 0.6 * volume24h / (volume24h + 50_000)

	movement := 4*math.Abs(priceChange1h) + 2*math.Abs(priceChange24h)
	movementComponent := math.Min(movement, 0.4)

	return math.Min(volumeComponent+movementComponent, 1.0)
}
