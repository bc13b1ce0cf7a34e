package reload

import (
	"context"
	"log/slog"
)

// RefreshFunc performs one cooldown-respecting registry rebuild, the same
// operation POST /refresh triggers.
type RefreshFunc func(ctx context.Context) error

// Handler bridges file-system and signal triggers to a RefreshFunc.
type Handler struct {
	refresh RefreshFunc
	logger  *slog.Logger
}

// NewHandler creates a Handler that calls refresh on every trigger.
func NewHandler(refresh RefreshFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{refresh: refresh, logger: logger}
}

// Trigger runs the refresh once, logging but not propagating failures —
// a bad edit to a provider file should not crash the gateway, it should
// just fail to take effect until corrected.
func (h *Handler) Trigger(ctx context.Context, reason string) {
	if err := h.refresh(ctx); err != nil {
		h.logger.Error("reload: refresh failed", "reason", reason, "error", err)
		return
	}
	h.logger.Info("reload: refresh complete", "reason", reason)
}

// Watch drains events from w and the process's SIGHUP, calling Trigger
// for each, until ctx is cancelled.
func (h *Handler) Watch(ctx context.Context, w *Watcher, sighup <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			h.Trigger(ctx, "config file changed: "+ev.Path)
		case <-sighup:
			h.Trigger(ctx, "SIGHUP")
		}
	}
}
