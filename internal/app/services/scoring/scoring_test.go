package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/storage/memory"
	"github.com/R3E-Network/tribute_layer/internal/clock"
)

var now = time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

func windowAt(offset time.Duration, delta float64) heat.Window {
	return heat.Window{ItemID: "m1", Delta: delta, CreatedAt: now.Add(offset)}
}

func TestWeightedWindowSum_Partitions(t *testing.T) {
	span := 24 * time.Hour
	tStart := now.Add(-span)
	windows := []heat.Window{
		windowAt(0, 1),                         // recent, at now
		windowAt(-span, 2),                     // recent, exactly at t
		windowAt(-span-time.Nanosecond, 4),     // past
		windowAt(-2*span, 8),                   // past, exactly at t-span
		windowAt(-2*span-time.Nanosecond, 100), // too old
		windowAt(time.Second, 1000),            // future
	}

	got, err := WeightedWindowSum(tStart, span, windows, now, 0.3)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	want := 3*0.3 + 12*0.7
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestWeightedWindowSum_Linear(t *testing.T) {
	span := 24 * time.Hour
	windows := []heat.Window{windowAt(-time.Hour, 3), windowAt(-30*time.Hour, 5), windowAt(-2*time.Minute, 0.5)}
	base, err := WeightedWindowSum(now.Add(-span), span, windows, now, 0.3)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}

	for _, c := range []float64{0, 0.5, 2, 17} {
		scaled := make([]heat.Window, len(windows))
		for i, w := range windows {
			w.Delta *= c
			scaled[i] = w
		}
		got, err := WeightedWindowSum(now.Add(-span), span, scaled, now, 0.3)
		if err != nil {
			t.Fatalf("sum: %v", err)
		}
		if math.Abs(got-c*base) > 1e-9 {
			t.Fatalf("scale %v: expected %v, got %v", c, c*base, got)
		}
	}
}

func TestWeightedWindowSum_RejectsSpan(t *testing.T) {
	for _, span := range []time.Duration{0, -time.Hour} {
		if _, err := WeightedWindowSum(now, span, nil, now, 0.3); !core.IsValidationError(err) {
			t.Fatalf("span %v: expected validation error, got %v", span, err)
		}
	}
}

func TestScoreFromM(t *testing.T) {
	p := DefaultParams()
	if got := ScoreFromM(0.6, p); got != 5.25 {
		t.Fatalf("midpoint: expected 5.25, got %v", got)
	}

	prev := ScoreFromM(-2, p)
	for m := -1.99; m <= 3; m += 0.01 {
		got := ScoreFromM(m, p)
		if got <= prev {
			t.Fatalf("not increasing at M=%v: %v <= %v", m, got, prev)
		}
		if got <= 5 || got >= 5.5 {
			t.Fatalf("out of bounds at M=%v: %v", m, got)
		}
		prev = got
	}
}

func TestScoreFromM_SaturatesInFloat64(t *testing.T) {
	p := DefaultParams()
	high := p.X0 + 40/p.K
	low := p.X0 - 40/p.K

	if got := ScoreFromM(high, p); got != p.PBase+p.U {
		t.Fatalf("high M: expected %v, got %v", p.PBase+p.U, got)
	}
	if got := ScoreFromM(high*10, p); got != ScoreFromM(high, p) {
		t.Fatalf("expected saturated scores to tie, got %v and %v", got, ScoreFromM(high, p))
	}
	if got := ScoreFromM(low, p); got != p.PBase {
		t.Fatalf("low M: expected %v, got %v", p.PBase, got)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	cases := map[string]func(*Params){
		"alpha high":     func(p *Params) { p.Alpha = 1.1 },
		"alpha negative": func(p *Params) { p.Alpha = -0.1 },
		"alpha nan":      func(p *Params) { p.Alpha = math.NaN() },
		"span":           func(p *Params) { p.Span = 0 },
		"lookback":       func(p *Params) { p.Lookback = p.Span },
		"k":              func(p *Params) { p.K = 0 },
		"u":              func(p *Params) { p.U = -1 },
	}
	for name, mutate := range cases {
		p := DefaultParams()
		mutate(&p)
		if err := p.Validate(); !core.IsValidationError(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestService_ItemScore(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	clk := clock.NewFake(now)

	// 2 in the last day, 4 in the day before, 100 outside the lookback.
	_, _, _ = store.IncrementOpenWindow(ctx, "m1", 100, now.Add(-49*time.Hour), time.Minute)
	_, _, _ = store.IncrementOpenWindow(ctx, "m1", 4, now.Add(-30*time.Hour), time.Minute)
	_, _, _ = store.IncrementOpenWindow(ctx, "m1", 2, now.Add(-time.Hour), time.Minute)

	svc, err := New(store, Params{}, clk, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	score, err := svc.ItemScore(ctx, "m1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	wantM := 2*0.3 + 4*0.7
	if math.Abs(score.M-wantM) > 1e-9 {
		t.Fatalf("expected M %v, got %v", wantM, score.M)
	}
	if score.P != ScoreFromM(score.M, svc.Params()) {
		t.Fatalf("P does not match M: %+v", score)
	}

	empty, err := svc.ItemScore(ctx, "nobody")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if empty.M != 0 || empty.P <= 5 {
		t.Fatalf("unexpected empty score %+v", empty)
	}

	if _, err := svc.ItemScore(ctx, " "); !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNew_RejectsInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.Alpha = 2
	if _, err := New(memory.New(), p, nil, nil); !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
