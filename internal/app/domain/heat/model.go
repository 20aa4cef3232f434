package heat

import "time"

// DefaultWindowDuration is the length of one accumulation bucket.
const DefaultWindowDuration = 60 * time.Second

// Window accumulates engagement weight for one item over a fixed duration.
// A window is open while ExpiredAt is after now; closed windows never change.
type Window struct {
	ID        string    `json:"id" db:"id"`
	ItemID    string    `json:"item_id" db:"item_id"`
	Delta     float64   `json:"delta" db:"delta"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiredAt time.Time `json:"expired_at" db:"expired_at"`
}

// OpenAt reports whether the window still accepts increments at now.
func (w Window) OpenAt(now time.Time) bool {
	return w.ExpiredAt.After(now)
}

// Score is the derived popularity of an item at a point in time.
type Score struct {
	ItemID string  `json:"item_id"`
	M      float64 `json:"m"`
	P      float64 `json:"p"`
}

// Rollups are coarse display sums over trailing periods.
type Rollups struct {
	LastMinute    float64 `json:"last_1m"`
	Last15Minutes float64 `json:"last_15m"`
	LastHour      float64 `json:"last_1h"`
	Last24Hours   float64 `json:"last_24h"`
}

// Stats is the per-item view exposed to transport handlers.
type Stats struct {
	ItemID      string    `json:"item_id"`
	Rollups     Rollups   `json:"rollups"`
	M           float64   `json:"m"`
	P           float64   `json:"p"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SumDeltas adds up the deltas of windows.
func SumDeltas(windows []Window) float64 {
	var total float64
	for _, w := range windows {
		total += w.Delta
	}
	return total
}
