package bus

import (
	"context"
	"time"

	"github.com/praxislabs/agentbus/errors"
)

// Reap performs one crash-recovery sweep: every message stuck in processing
// longer than the processing timeout is treated as a worker crash and routed
// through the normal failure path (requeue with backoff, or dead-letter if
// the attempt budget is spent). Returns how many messages were reclaimed.
func (b *Bus) Reap(ctx context.Context) (int, error) {
	if b.closed.Load() {
		return 0, errors.FromCode(errors.CodeClosed)
	}

	cutoff := b.now().Add(-b.processingTimeout)
	stuck, err := b.store.ReapStuck(ctx, cutoff)
	if err != nil {
		return 0, b.storeErr(err, "")
	}

	var reclaimed int
	for _, msg := range stuck {
		failure := errors.Newf(errors.CodeHandlerFailed,
			"processing exceeded %s, worker presumed crashed", b.processingTimeout)
		if err := b.fail(ctx, msg, failure); err != nil {
			// The worker finished between the sweep and the write; the
			// message reached a terminal state on its own and is not stuck.
			if errors.Is(err, errors.CodeClaimConflict) {
				continue
			}
			return reclaimed, err
		}
		reclaimed++
	}

	b.logger.ReapSweep(reclaimed, cutoff)
	return reclaimed, nil
}

// StartReaper runs Reap on the given interval until the context is
// cancelled. Store errors are logged and the loop keeps going: a transient
// outage must not kill crash recovery.
func (b *Bus) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = b.processingTimeout / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := b.Reap(ctx); err != nil {
					if errors.Is(err, errors.CodeClosed) {
						return
					}
					b.logger.Error("reap_failed", map[string]interface{}{
						"error": err.Error(),
					})
				}
			}
		}
	}()
}
