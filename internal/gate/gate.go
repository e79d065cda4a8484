// Package gate limits how many workers run at once per concurrency lane.
package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultLane is used when a caller does not name a lane.
const DefaultLane = "subagent"

// Admitter grants bounded concurrency. Acquire may block until a slot frees
// or ctx is done.
type Admitter interface {
	Acquire(ctx context.Context, lane string) (*Permit, error)
	Release(p *Permit)
}

// Permit is one admitted slot. Releasing it more than once is a no-op.
type Permit struct {
	lane     string
	l        *lane
	released atomic.Bool
}

// Lane returns the lane the permit was granted on.
func (p *Permit) Lane() string { return p.lane }

type lane struct {
	sem   *semaphore.Weighted
	limit int64
	inUse atomic.Int64
}

// Gate is the default Admitter: one fair weighted semaphore per lane.
// Waiters are admitted in FIFO order.
type Gate struct {
	mu           sync.Mutex
	lanes        map[string]*lane
	defaultLimit int64
}

// New creates a gate. limits sets per-lane capacity; lanes not listed use
// defaultLimit. Non-positive limits are treated as 1.
func New(defaultLimit int, limits map[string]int) *Gate {
	g := &Gate{
		lanes:        make(map[string]*lane, len(limits)),
		defaultLimit: clamp(defaultLimit),
	}
	for name, n := range limits {
		g.lanes[name] = newLane(clamp(n))
	}
	return g
}

func clamp(n int) int64 {
	if n < 1 {
		return 1
	}
	return int64(n)
}

func newLane(limit int64) *lane {
	return &lane{sem: semaphore.NewWeighted(limit), limit: limit}
}

func (g *Gate) laneFor(name string) *lane {
	if name == "" {
		name = DefaultLane
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lanes[name]
	if !ok {
		l = newLane(g.defaultLimit)
		g.lanes[name] = l
	}
	return l
}

// Acquire blocks until the lane has a free slot.
func (g *Gate) Acquire(ctx context.Context, laneName string) (*Permit, error) {
	if laneName == "" {
		laneName = DefaultLane
	}
	l := g.laneFor(laneName)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s lane: %w", laneName, err)
	}
	l.inUse.Add(1)
	return &Permit{lane: laneName, l: l}, nil
}

// Release returns the permit's slot. Nil and already released permits are ignored.
func (g *Gate) Release(p *Permit) {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.l.inUse.Add(-1)
	p.l.sem.Release(1)
}

// InUse reports how many permits are currently held on a lane.
func (g *Gate) InUse(laneName string) int {
	return int(g.laneFor(laneName).inUse.Load())
}

// Limit reports the capacity of a lane.
func (g *Gate) Limit(laneName string) int {
	return int(g.laneFor(laneName).limit)
}

var _ Admitter = (*Gate)(nil)
