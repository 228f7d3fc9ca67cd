package identity

import (
	"context"
	"time"
)

const DefaultCleanupInterval = time.Hour

// Purger removes stale rows and reports how many went.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StartCleaner periodically purges stale reset tokens, plus any extra
// purgers, until ctx is cancelled.
func (p *Provider) StartCleaner(ctx context.Context, interval time.Duration, extra ...Purger) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	purgers := append([]Purger{p}, extra...)
	go p.cleanupLoop(ctx, interval, purgers)
}

func (p *Provider) cleanupLoop(ctx context.Context, interval time.Duration, purgers []Purger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.purgeOnce(ctx, purgers)
		}
	}
}

func (p *Provider) purgeOnce(ctx context.Context, purgers []Purger) {
	for _, purger := range purgers {
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			p.logger.Error(ctx, "cleanup failed", "error", err)
			continue
		}
		if n > 0 {
			p.logger.Debug(ctx, "cleanup removed rows", "count", n)
		}
	}
}
