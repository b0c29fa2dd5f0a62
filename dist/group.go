// group.go - Worker-Gruppe fuer kollektive Operationen
// Dieses Modul definiert das Group-Interface sowie die In-Process-Gruppe,
// in der jede Kollektive ein Rendezvous aller Worker ist.
package dist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/logutil"
)

var (
	ErrInvalidSize        = errors.New("dist: group size must be positive")
	ErrCollectiveMismatch = errors.New("dist: workers called different collectives")
	ErrLengthMismatch     = errors.New("dist: all-reduce length mismatch")
)

// Group is the communication handle of one worker. Every worker of a group
// must call the same collectives in the same order.
type Group interface {
	Rank() int
	Size() int

	// AllGather gibt die Matrizen aller Worker in Rank-Reihenfolge zurueck.
	// Die Ergebnisse duerfen nicht veraendert werden.
	AllGather(ctx context.Context, m *mat.Dense) ([]*mat.Dense, error)

	// AllReduceSum summiert vals elementweise ueber alle Worker.
	AllReduceSum(ctx context.Context, vals []float64) ([]float64, error)

	Barrier(ctx context.Context) error
}

// Logger gibt den Default-Logger mit Rank-Attribut zurueck.
func Logger(g Group) *slog.Logger {
	return slog.With("rank", g.Rank(), "world_size", g.Size())
}

// =============================================================================
// Einzelner Worker
// =============================================================================

type single struct{}

// Single gibt eine Gruppe der Groesse 1 zurueck. Kollektive sind Kopien.
func Single() Group { return single{} }

func (single) Rank() int { return 0 }

func (single) Size() int { return 1 }

func (single) AllGather(_ context.Context, m *mat.Dense) ([]*mat.Dense, error) {
	return []*mat.Dense{mat.DenseCopyOf(m)}, nil
}

func (single) AllReduceSum(_ context.Context, vals []float64) ([]float64, error) {
	return append([]float64(nil), vals...), nil
}

func (single) Barrier(context.Context) error { return nil }

// =============================================================================
// In-Process-Gruppe
// =============================================================================

type hub struct {
	size int

	mu      sync.Mutex
	current *round
}

type round struct {
	op       string
	payloads []any
	arrived  int
	err      error
	done     chan struct{}
}

// exchange blockiert bis alle Worker dieselbe Operation erreicht haben und
// gibt die Beitraege aller Worker zurueck.
func (h *hub) exchange(ctx context.Context, rank int, op string, payload any) ([]any, error) {
	h.mu.Lock()
	r := h.current
	if r == nil {
		r = &round{op: op, payloads: make([]any, h.size), done: make(chan struct{})}
		h.current = r
	}
	if r.op != op && r.err == nil {
		r.err = fmt.Errorf("%w: rank %d called %s while others called %s", ErrCollectiveMismatch, rank, op, r.op)
	}
	r.payloads[rank] = payload
	r.arrived++
	if r.arrived == h.size {
		h.current = nil
		close(r.done)
	}
	h.mu.Unlock()

	select {
	case <-r.done:
		if r.err != nil {
			return nil, r.err
		}
		return r.payloads, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localGroup struct {
	hub  *hub
	rank int
}

// NewLocal erstellt size Worker-Handles, die ueber Goroutinen im selben
// Prozess kommunizieren. Handle i gehoert zu Rank i.
func NewLocal(size int) ([]Group, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	h := &hub{size: size}
	groups := make([]Group, size)
	for i := range groups {
		groups[i] = &localGroup{hub: h, rank: i}
	}
	return groups, nil
}

func (g *localGroup) Rank() int { return g.rank }

func (g *localGroup) Size() int { return g.hub.size }

func (g *localGroup) AllGather(ctx context.Context, m *mat.Dense) ([]*mat.Dense, error) {
	r, c := m.Dims()
	logutil.Trace("all-gather", "rank", g.rank, "rows", r, "cols", c)

	payloads, err := g.hub.exchange(ctx, g.rank, "all-gather", mat.DenseCopyOf(m))
	if err != nil {
		return nil, err
	}

	out := make([]*mat.Dense, len(payloads))
	for i, p := range payloads {
		out[i] = p.(*mat.Dense)
		if _, pc := out[i].Dims(); pc != c {
			return nil, fmt.Errorf("dist: all-gather column mismatch: rank %d has %d, rank %d has %d", i, pc, g.rank, c)
		}
	}
	return out, nil
}

func (g *localGroup) AllReduceSum(ctx context.Context, vals []float64) ([]float64, error) {
	logutil.Trace("all-reduce", "rank", g.rank, "len", len(vals))

	payloads, err := g.hub.exchange(ctx, g.rank, "all-reduce", append([]float64(nil), vals...))
	if err != nil {
		return nil, err
	}

	sum := make([]float64, len(vals))
	for i, p := range payloads {
		part := p.([]float64)
		if len(part) != len(vals) {
			return nil, fmt.Errorf("%w: rank %d sent %d values, rank %d sent %d", ErrLengthMismatch, i, len(part), g.rank, len(vals))
		}
		for j, v := range part {
			sum[j] += v
		}
	}
	return sum, nil
}

func (g *localGroup) Barrier(ctx context.Context) error {
	_, err := g.hub.exchange(ctx, g.rank, "barrier", nil)
	return err
}
