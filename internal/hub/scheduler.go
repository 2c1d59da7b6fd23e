package hub

import (
	"context"
	"time"
)

// Start launches the scheduler goroutine. Each cycle runs a pending
// rediscovery or an unforced status refresh.
func (h *Hub) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	h.wg.Add(1)
	go h.run(ctx)

	h.logger.Info("scheduler started", "scan_interval", h.scanInterval, "min_interval", h.minInterval)
	return nil
}

// Stop halts the scheduler and waits for an in-flight cycle to finish.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
	h.logger.Info("scheduler stopped")
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.cycle(ctx)
		}
	}
}

func (h *Hub) cycle(ctx context.Context) {
	if h.rediscover.Load() {
		if err := h.PopulateDevices(ctx); err != nil {
			h.logger.Error("rediscovery failed", "error", err)
		}
		return
	}
	_ = h.UpdateStatus(ctx, false)
}
