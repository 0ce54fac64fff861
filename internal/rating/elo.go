package rating

import (
	"math"

	"github.com/park285/chess-arena-server/pkg/protocol"
)

// Band maps a rating floor to the K-factor used from that floor upward.
// The exact curve is an operational policy, not a correctness rule.
type Band struct {
	Floor int
	K     float64
}

// DefaultBands follows the common FIDE-style step-down: volatile below
// 2100, steadier in the candidate range, slow at master level.
func DefaultBands() []Band {
	return []Band{
		{Floor: 0, K: 40},
		{Floor: 2100, K: 20},
		{Floor: 2400, K: 10},
	}
}

// Updater computes post-game Elo ratings. Deterministic: same inputs,
// same outputs.
type Updater struct {
	bands []Band
}

func NewUpdater(bands []Band) *Updater {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	return &Updater{bands: bands}
}

func (u *Updater) kFor(r int) float64 {
	k := u.bands[0].K
	for _, b := range u.bands {
		if r >= b.Floor {
			k = b.K
		}
	}
	return k
}

// ComputeNewRatings returns both players' new ratings given the result from
// White's perspective. Each player's delta uses their own K band, so
// swapping colors and inverting the result yields the swapped deltas.
func (u *Updater) ComputeNewRatings(result protocol.Result, ratingWhite, ratingBlack int) (newWhite, newBlack int) {
	var scoreWhite float64
	switch result {
	case protocol.ResultWhiteWins:
		scoreWhite = 1
	case protocol.ResultBlackWins:
		scoreWhite = 0
	default:
		scoreWhite = 0.5
	}

	expWhite := expectedScore(ratingWhite, ratingBlack)
	deltaWhite := int(math.Round(u.kFor(ratingWhite) * (scoreWhite - expWhite)))
	deltaBlack := int(math.Round(u.kFor(ratingBlack) * ((1 - scoreWhite) - (1 - expWhite))))
	return ratingWhite + deltaWhite, ratingBlack + deltaBlack
}

func expectedScore(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}
