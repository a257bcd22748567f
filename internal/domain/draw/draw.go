// Package draw implements weighted prize selection.
package draw

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/okian/lootbox/internal/domain/model"
)

// ErrInvalidConfiguration is returned for empty item lists and for weights
// that are non-positive or non-finite, alone or summed.
var ErrInvalidConfiguration = errors.New("invalid draw configuration")

// RandomSource produces uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

// Sample picks one item with probability proportional to its weight.
//
// r = rng.Float64() * total; items are walked in order and the first item
// whose cumulative weight satisfies r <= cum wins, so r == cum belongs to
// the item ending at cum. If float accumulation leaves r above the final
// cum the last item is returned.
func Sample(items []model.LootItem, rng RandomSource) (model.LootItem, error) {
	if len(items) == 0 {
		return model.LootItem{}, fmt.Errorf("%w: no items", ErrInvalidConfiguration)
	}
	if rng == nil {
		return model.LootItem{}, fmt.Errorf("%w: nil random source", ErrInvalidConfiguration)
	}

	var total float64
	for i, it := range items {
		if !(it.Weight > 0) || math.IsInf(it.Weight, 0) {
			return model.LootItem{}, fmt.Errorf("%w: item %d weight %v", ErrInvalidConfiguration, i, it.Weight)
		}
		total += it.Weight
	}
	if math.IsInf(total, 0) {
		return model.LootItem{}, fmt.Errorf("%w: total weight overflows", ErrInvalidConfiguration)
	}

	r := rng.Float64() * total
	var cum float64
	for _, it := range items {
		cum += it.Weight
		if r <= cum {
			return it, nil
		}
	}
	return items[len(items)-1], nil
}

// Engine draws with a default random source. Safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	rng RandomSource
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRandomSource injects the random source, e.g. FixedSource in tests.
func WithRandomSource(src RandomSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.rng = src
		}
	}
}

// WithSeed makes the default source deterministic.
func WithSeed(seed1, seed2 uint64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewPCG(seed1, seed2)) //nolint:gosec // prize draws are not a security boundary
	}
}

// NewEngine creates an engine seeded from the runtime's random source.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // see WithSeed
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sample draws one item from items.
func (e *Engine) Sample(items []model.LootItem) (model.DrawResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := Sample(items, e.rng)
	if err != nil {
		return model.DrawResult{}, err
	}
	return model.DrawResult{ChosenItem: item}, nil
}

// FixedSource always returns the same value.
type FixedSource float64

// Float64 implements RandomSource.
func (f FixedSource) Float64() float64 { return float64(f) }

// SequenceSource replays values in order and then repeats the last one.
type SequenceSource struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequenceSource returns a source replaying values.
func NewSequenceSource(values ...float64) *SequenceSource {
	return &SequenceSource{values: values}
}

// Float64 implements RandomSource.
func (s *SequenceSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next]
	if s.next < len(s.values)-1 {
		s.next++
	}
	return v
}
