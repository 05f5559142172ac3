// Package history keeps the rolling window of (fast, slow) moving-average
// gradient pairs the signal rules compare across polling cycles.
package history

import (
	"context"
	"sync"

	"spot-trading-bot/internal/database"
)

// DefaultCap bounds the retained pairs.
const DefaultCap = 10

// Pair is one cycle's gradient sample.
type Pair struct {
	Fast float64
	Slow float64
}

// Store persists gradient pairs across cycles. Previous must be read before
// Push in a cycle, otherwise the engine compares a value against itself.
type Store interface {
	// Push appends the current cycle's pair, evicting the oldest entries
	// beyond the cap.
	Push(ctx context.Context, p Pair) error
	// Previous returns the most recently pushed pair, i.e. the prior
	// cycle's sample when read before this cycle's Push. Returns nil on an
	// empty history; that is not an error.
	Previous(ctx context.Context) (*Pair, error)
}

// MemoryStore is the in-process ring used when no database is configured,
// and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	cap   int
	pairs []Pair
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &MemoryStore{cap: capacity}
}

func (s *MemoryStore) Push(_ context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append(s.pairs, p)
	for len(s.pairs) > s.cap {
		s.pairs = s.pairs[1:]
	}
	return nil
}

func (s *MemoryStore) Previous(_ context.Context) (*Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pairs) == 0 {
		return nil, nil
	}
	p := s.pairs[len(s.pairs)-1]
	return &p, nil
}

// Len reports the number of retained pairs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

// Pairs returns a copy of the retained pairs, oldest first.
func (s *MemoryStore) Pairs() []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// DBStore keeps the gradient window in Postgres so it survives restarts.
type DBStore struct {
	repo *database.Repository
	cap  int
}

func NewDBStore(repo *database.Repository, capacity int) *DBStore {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &DBStore{repo: repo, cap: capacity}
}

func (s *DBStore) Push(ctx context.Context, p Pair) error {
	return s.repo.SaveGradientPair(ctx, p.Fast, p.Slow, s.cap)
}

func (s *DBStore) Previous(ctx context.Context) (*Pair, error) {
	row, err := s.repo.PreviousGradientPair(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &Pair{Fast: row.FastGradient, Slow: row.SlowGradient}, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DBStore)(nil)
)
