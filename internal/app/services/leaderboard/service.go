package leaderboard

import (
	"context"
	"sort"
	"time"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/leaderboard"
	"github.com/R3E-Network/tribute_layer/internal/app/metrics"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
	"github.com/R3E-Network/tribute_layer/internal/clock"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

const (
	DefaultLimit         = 10
	MaxLimit             = 100
	DefaultMaxCandidates = 1000
)

// Scorer computes an item's current score.
type Scorer interface {
	ItemScore(ctx context.Context, itemID string) (heat.Score, error)
}

// Config tunes candidate selection.
type Config struct {
	Lookback      time.Duration
	MaxCandidates int
}

// Service ranks items by score.
type Service struct {
	windows   storage.HeatWindowStore
	snapshots storage.LeaderboardSnapshotStore
	scorer    Scorer
	cfg       Config
	clock     clock.Clock
	log       *logger.Logger
}

// New creates a leaderboard service. snapshots may be nil, in which case
// every trend is TrendSame.
func New(windows storage.HeatWindowStore, snapshots storage.LeaderboardSnapshotStore, scorer Scorer, cfg Config, clk clock.Clock, log *logger.Logger) *Service {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 48 * time.Hour
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if log == nil {
		log = logger.NewDefault("leaderboard")
	}
	return &Service{
		windows:   windows,
		snapshots: snapshots,
		scorer:    scorer,
		cfg:       cfg,
		clock:     clock.OrReal(clk),
		log:       log,
	}
}

// Leaderboard returns the top limit items by P, ties broken by ascending
// item id. Trends compare against the stored snapshot, which reads never
// replace.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	started := time.Now()
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	ranked, err := s.rank(ctx)
	if err != nil {
		return nil, err
	}

	var prev *leaderboard.Snapshot
	if s.snapshots != nil {
		prev, err = s.snapshots.LoadSnapshot(ctx)
		if err != nil {
			s.log.WithError(err).Warn("load leaderboard snapshot failed; trends default to same")
			prev = nil
		}
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Trend = prev.TrendFor(ranked[i].ItemID, ranked[i].Rank)
	}
	metrics.RecordLeaderboardBuild("read", time.Since(started))
	return ranked, nil
}

// TakeSnapshot ranks every candidate and stores the result as the baseline
// for future trends.
func (s *Service) TakeSnapshot(ctx context.Context) (leaderboard.Snapshot, error) {
	if s.snapshots == nil {
		return leaderboard.Snapshot{}, core.NewValidationError("snapshots", "no snapshot store configured")
	}
	started := time.Now()
	ranked, err := s.rank(ctx)
	if err != nil {
		return leaderboard.Snapshot{}, err
	}
	snap := leaderboard.SnapshotOf(ranked, s.clock.Now())
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return leaderboard.Snapshot{}, core.WrapServiceError("leaderboard", "TakeSnapshot", err)
	}
	metrics.RecordLeaderboardBuild("snapshot", time.Since(started))
	s.log.WithField("items", len(snap.Ranks)).Info("leaderboard snapshot stored")
	return snap, nil
}

func (s *Service) rank(ctx context.Context) ([]leaderboard.Entry, error) {
	now := s.clock.Now()
	ids, err := s.windows.ListActiveItems(ctx, now.Add(-s.cfg.Lookback), s.cfg.MaxCandidates)
	if err != nil {
		return nil, core.WrapServiceError("leaderboard", "ListActiveItems", err)
	}

	entries := make([]leaderboard.Entry, 0, len(ids))
	for _, id := range ids {
		score, err := s.scorer.ItemScore(ctx, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, leaderboard.Entry{ItemID: id, P: score.P, M: score.M})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].P != entries[j].P {
			return entries[i].P > entries[j].P
		}
		return entries[i].ItemID < entries[j].ItemID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
