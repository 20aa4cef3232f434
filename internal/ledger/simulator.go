package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/tribute_layer/internal/clock"
)

// Simulator is an in-memory Client for local development and tests.
// Submissions become final FinalityDelay after they were accepted.
type Simulator struct {
	mu            sync.Mutex
	clock         clock.Clock
	finalityDelay time.Duration
	prefix        string
	txs           map[string]simulated
	order         []string

	submitHook   func(Submission) error
	finalityErrs map[string]error
}

type simulated struct {
	sub        Submission
	acceptedAt time.Time
	final      bool
}

var _ Client = (*Simulator)(nil)

// NewSimulator creates a simulator. A negative delay means submissions only
// become final through MarkFinal.
func NewSimulator(clk clock.Clock, finalityDelay time.Duration) *Simulator {
	return &Simulator{
		clock:         clock.OrReal(clk),
		finalityDelay: finalityDelay,
		prefix:        "sim://",
		txs:           make(map[string]simulated),
		finalityErrs:  make(map[string]error),
	}
}

// OnSubmit installs a hook that can reject submissions.
func (s *Simulator) OnSubmit(hook func(Submission) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitHook = hook
}

func (s *Simulator) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitHook != nil {
		if err := s.submitHook(sub); err != nil {
			return "", err
		}
	}
	ref := "sim-" + uuid.NewString()
	s.txs[ref] = simulated{sub: sub, acceptedAt: s.clock.Now()}
	s.order = append(s.order, ref)
	return ref, nil
}

func (s *Simulator) Finality(ctx context.Context, txRef string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.finalityErrs[txRef]; err != nil {
		return false, err
	}
	tx, ok := s.txs[txRef]
	if !ok {
		return false, fmt.Errorf("unknown transaction %s", txRef)
	}
	if tx.final {
		return true, nil
	}
	return s.finalityDelay >= 0 && !s.clock.Now().Before(tx.acceptedAt.Add(s.finalityDelay)), nil
}

func (s *Simulator) PermanentRef(txRef string) string {
	return s.prefix + txRef
}

// MarkFinal forces txRef final.
func (s *Simulator) MarkFinal(txRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[txRef]; ok {
		tx.final = true
		s.txs[txRef] = tx
	}
}

// FailFinality makes Finality return err for txRef; nil clears it.
func (s *Simulator) FailFinality(txRef string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.finalityErrs, txRef)
		return
	}
	s.finalityErrs[txRef] = err
}

// Submissions returns accepted submissions keyed by reference, in order.
func (s *Simulator) Submissions() ([]string, []Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := append([]string(nil), s.order...)
	subs := make([]Submission, len(refs))
	for i, ref := range refs {
		subs[i] = s.txs[ref].sub
	}
	return refs, subs
}
