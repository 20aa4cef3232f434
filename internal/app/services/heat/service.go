package heat

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/metrics"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
	"github.com/R3E-Network/tribute_layer/internal/clock"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

// DefaultMaxDelta caps a single increment.
const DefaultMaxDelta = 1000

// DefaultWeights converts named engagement events into deltas.
var DefaultWeights = map[string]float64{
	"view":    0.1,
	"candle":  1,
	"flower":  2,
	"tribute": 5,
	"share":   3,
}

// ItemChecker reports whether an item exists.
type ItemChecker interface {
	Exists(ctx context.Context, itemID string) (bool, error)
}

// Scorer computes an item's current score.
type Scorer interface {
	ItemScore(ctx context.Context, itemID string) (heat.Score, error)
}

// Config tunes the aggregator.
type Config struct {
	Window   time.Duration
	MaxDelta float64
	Weights  map[string]float64
}

// Service coalesces engagement events into heat windows.
type Service struct {
	store  storage.HeatWindowStore
	scorer Scorer
	items  ItemChecker
	cfg    Config
	clock  clock.Clock
	log    *logger.Logger
}

// New creates a heat service. items may be nil, in which case every item is
// treated as existing.
func New(store storage.HeatWindowStore, scorer Scorer, items ItemChecker, cfg Config, clk clock.Clock, log *logger.Logger) *Service {
	if cfg.Window <= 0 {
		cfg.Window = heat.DefaultWindowDuration
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = DefaultMaxDelta
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultWeights
	}
	if log == nil {
		log = logger.NewDefault("heat")
	}
	return &Service{
		store:  store,
		scorer: scorer,
		items:  items,
		cfg:    cfg,
		clock:  clock.OrReal(clk),
		log:    log,
	}
}

// Increment adds delta to the item's open window, opening one if needed.
// Each call is additive; callers own at-most-once delivery.
func (s *Service) Increment(ctx context.Context, itemID string, delta float64) (heat.Window, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return heat.Window{}, core.RequiredError("item_id")
	}
	switch {
	case math.IsNaN(delta) || math.IsInf(delta, 0):
		return heat.Window{}, core.NewValidationError("delta", "must be finite")
	case delta <= 0:
		return heat.Window{}, core.NewValidationError("delta", "must be positive")
	case delta > s.cfg.MaxDelta:
		return heat.Window{}, core.NewValidationError("delta", fmt.Sprintf("must not exceed %g", s.cfg.MaxDelta))
	}

	w, created, err := s.store.IncrementOpenWindow(ctx, itemID, delta, s.clock.Now(), s.cfg.Window)
	if err != nil {
		return heat.Window{}, core.WrapServiceError("heat", "Increment", err)
	}
	metrics.RecordHeatIncrement(created)
	if created {
		s.log.WithField("item_id", itemID).
			WithField("window_id", w.ID).
			Debug("heat window opened")
	}
	return w, nil
}

// Record converts a named engagement event into a delta and applies it.
func (s *Service) Record(ctx context.Context, itemID, kind string) (heat.Window, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	weight, ok := s.cfg.Weights[kind]
	if !ok {
		return heat.Window{}, core.NewValidationError("kind", fmt.Sprintf("unknown engagement kind %q", kind))
	}
	return s.Increment(ctx, itemID, weight)
}

// SumSince totals the item's deltas over windows created at or after since.
func (s *Service) SumSince(ctx context.Context, itemID string, since time.Time) (float64, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return 0, core.RequiredError("item_id")
	}
	sum, err := s.store.SumSince(ctx, itemID, since)
	if err != nil {
		return 0, core.WrapServiceError("heat", "SumSince", err)
	}
	return sum, nil
}

// Stats returns display rollups and the current score for an item.
func (s *Service) Stats(ctx context.Context, itemID string) (heat.Stats, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return heat.Stats{}, core.RequiredError("item_id")
	}
	if s.items != nil {
		ok, err := s.items.Exists(ctx, itemID)
		if err != nil {
			return heat.Stats{}, core.WrapServiceError("heat", "Stats", err)
		}
		if !ok {
			return heat.Stats{}, core.NewNotFoundError("item", itemID)
		}
	}

	now := s.clock.Now()
	stats := heat.Stats{ItemID: itemID, GeneratedAt: now}
	periods := []struct {
		d   time.Duration
		dst *float64
	}{
		{time.Minute, &stats.Rollups.LastMinute},
		{15 * time.Minute, &stats.Rollups.Last15Minutes},
		{time.Hour, &stats.Rollups.LastHour},
		{24 * time.Hour, &stats.Rollups.Last24Hours},
	}
	for _, p := range periods {
		sum, err := s.SumSince(ctx, itemID, now.Add(-p.d))
		if err != nil {
			return heat.Stats{}, err
		}
		*p.dst = sum
	}

	if s.scorer != nil {
		score, err := s.scorer.ItemScore(ctx, itemID)
		if err != nil {
			return heat.Stats{}, err
		}
		stats.M = score.M
		stats.P = score.P
	}
	return stats, nil
}
