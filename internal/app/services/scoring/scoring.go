// Package scoring turns heat window history into a bounded popularity score.
//
// M is a two-bucket weighted sum of window deltas: the span ending now
// ("recent") weighted by Alpha and the span before it ("past") weighted by
// 1-Alpha. P is a logistic transform of M into (PBase, PBase+U).
package scoring

import (
	"math"
	"time"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
)

// Params are the scoring hyperparameters.
type Params struct {
	Alpha    float64
	X0       float64
	K        float64
	U        float64
	PBase    float64
	Span     time.Duration
	Lookback time.Duration
}

// DefaultParams returns the production constants. Alpha weights the most
// recent span, so the older span currently dominates.
func DefaultParams() Params {
	return Params{
		Alpha:    0.3,
		X0:       0.6,
		K:        8,
		U:        0.5,
		PBase:    5,
		Span:     24 * time.Hour,
		Lookback: 48 * time.Hour,
	}
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	for name, v := range map[string]float64{"alpha": p.Alpha, "x0": p.X0, "k": p.K, "u": p.U, "p_base": p.PBase} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return core.NewValidationError(name, "must be finite")
		}
	}
	switch {
	case p.Alpha < 0 || p.Alpha > 1:
		return core.NewValidationError("alpha", "must be within [0, 1]")
	case p.Span <= 0:
		return core.NewValidationError("span", "must be positive")
	case p.Lookback < 2*p.Span:
		return core.NewValidationError("lookback", "must cover two spans")
	case p.K <= 0:
		return core.NewValidationError("k", "must be positive")
	case p.U <= 0:
		return core.NewValidationError("u", "must be positive")
	}
	return nil
}

// WeightedWindowSum partitions windows by created_at into recent [t, now] and
// past [t-span, t) and returns sum(recent)*alpha + sum(past)*(1-alpha).
// Windows outside both ranges are ignored.
func WeightedWindowSum(t time.Time, span time.Duration, windows []heat.Window, now time.Time, alpha float64) (float64, error) {
	if span <= 0 {
		return 0, core.NewValidationError("span", "must be positive")
	}
	pastStart := t.Add(-span)

	var recent, past float64
	for _, w := range windows {
		at := w.CreatedAt
		switch {
		case !at.Before(t) && !at.After(now):
			recent += w.Delta
		case !at.Before(pastStart) && at.Before(t):
			past += w.Delta
		}
	}
	return recent*alpha + past*(1-alpha), nil
}

// ScoreFromM maps M onto (PBase, PBase+U). The transform is strictly
// increasing and M == X0 yields exactly PBase + U/2.
//
// In float64 the open interval only holds while |K*(M-X0)| stays below about
// 34: beyond that the result rounds to PBase or PBase+U exactly, and items
// that saturate tie on P.
func ScoreFromM(m float64, p Params) float64 {
	a := -p.K * (m - p.X0)
	b := math.Exp(a)
	return p.PBase + p.U/(1+b)
}
