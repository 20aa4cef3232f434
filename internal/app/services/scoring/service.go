package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/metrics"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
	"github.com/R3E-Network/tribute_layer/internal/clock"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

// Service scores items from persisted windows.
type Service struct {
	windows storage.HeatWindowStore
	params  Params
	clock   clock.Clock
	log     *logger.Logger
}

// New creates a scoring service. Zero params select DefaultParams.
func New(windows storage.HeatWindowStore, params Params, clk clock.Clock, log *logger.Logger) (*Service, error) {
	if params == (Params{}) {
		params = DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("scoring params: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("scoring")
	}
	return &Service{
		windows: windows,
		params:  params,
		clock:   clock.OrReal(clk),
		log:     log,
	}, nil
}

// Params returns the active parameters.
func (s *Service) Params() Params { return s.params }

// ItemScore computes M and P for one item relative to the service clock.
func (s *Service) ItemScore(ctx context.Context, itemID string) (heat.Score, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return heat.Score{}, core.RequiredError("item_id")
	}
	now := s.clock.Now()
	windows, err := s.windows.ListWindowsSince(ctx, itemID, now.Add(-s.params.Lookback))
	if err != nil {
		return heat.Score{}, core.WrapServiceError("scoring", "ItemScore", err)
	}
	return s.Score(itemID, windows, now)
}

// Score computes the score of already loaded windows at now.
func (s *Service) Score(itemID string, windows []heat.Window, now time.Time) (heat.Score, error) {
	m, err := WeightedWindowSum(now.Add(-s.params.Span), s.params.Span, windows, now, s.params.Alpha)
	if err != nil {
		return heat.Score{}, err
	}
	metrics.RecordScoreComputation()
	return heat.Score{ItemID: itemID, M: m, P: ScoreFromM(m, s.params)}, nil
}
