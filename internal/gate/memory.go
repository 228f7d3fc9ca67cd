package gate

import (
	"context"
	"sync"
	"time"
)

type counts struct {
	pictures  int
	documents int
	touched   time.Time
}

// MemoryGate keeps counters in process. Suitable for a single instance.
// Sessions idle for longer than the idle TTL are dropped by PurgeExpired.
type MemoryGate struct {
	policy  Policy
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*counts
}

func NewMemoryGate(policy Policy) *MemoryGate {
	return &MemoryGate{
		policy:   policy,
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
		sessions: make(map[string]*counts),
	}
}

func (g *MemoryGate) RecordUpload(ctx context.Context, sessionID string, kind Kind) error {
	if sessionID == "" {
		return ErrNoSession
	}
	if err := validKind(kind); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.sessions[sessionID]
	if !ok {
		c = &counts{}
		g.sessions[sessionID] = c
	}
	c.touched = g.now()
	if kind == KindPicture {
		c.pictures++
	} else {
		c.documents++
	}
	return nil
}

func (g *MemoryGate) Progress(ctx context.Context, sessionID string) (Progress, error) {
	if sessionID == "" {
		return Progress{}, ErrNoSession
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.sessions[sessionID]
	if !ok {
		return g.policy.Evaluate(0, 0), nil
	}
	c.touched = g.now()
	return g.policy.Evaluate(c.pictures, c.documents), nil
}

func (g *MemoryGate) IsSatisfied(ctx context.Context, sessionID string) (bool, error) {
	p, err := g.Progress(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return p.Satisfied, nil
}

func (g *MemoryGate) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	g.mu.Lock()
	delete(g.sessions, sessionID)
	g.mu.Unlock()
	return nil
}

// PurgeExpired drops sessions untouched for longer than the idle TTL. Sessions
// that end by token expiry never reach Reset, so this is what bounds the map.
func (g *MemoryGate) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := g.now().Add(-g.idleTTL)
	g.mu.Lock()
	defer g.mu.Unlock()
	var purged int64
	for id, c := range g.sessions {
		if c.touched.Before(cutoff) {
			delete(g.sessions, id)
			purged++
		}
	}
	return purged, nil
}
