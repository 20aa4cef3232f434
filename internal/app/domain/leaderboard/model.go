package leaderboard

import "time"

// Trend describes rank movement relative to the previous snapshot.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSame Trend = "same"
)

// Entry is one ranked item.
type Entry struct {
	Rank   int     `json:"rank"`
	ItemID string  `json:"item_id"`
	P      float64 `json:"p"`
	M      float64 `json:"m"`
	Trend  Trend   `json:"trend"`
}

// Snapshot records a past ranking so later reads can derive trends.
type Snapshot struct {
	TakenAt time.Time      `json:"taken_at"`
	Ranks   map[string]int `json:"ranks"`
}

// TrendFor compares a current rank with the snapshot. A nil snapshot yields
// TrendSame; an item missing from an existing snapshot has risen into view.
func (s *Snapshot) TrendFor(itemID string, rank int) Trend {
	if s == nil {
		return TrendSame
	}
	prev, ok := s.Ranks[itemID]
	switch {
	case !ok:
		return TrendUp
	case rank < prev:
		return TrendUp
	case rank > prev:
		return TrendDown
	default:
		return TrendSame
	}
}

// SnapshotOf builds a snapshot from ranked entries.
func SnapshotOf(entries []Entry, at time.Time) Snapshot {
	ranks := make(map[string]int, len(entries))
	for _, e := range entries {
		ranks[e.ItemID] = e.Rank
	}
	return Snapshot{TakenAt: at.UTC(), Ranks: ranks}
}
