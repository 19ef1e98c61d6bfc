package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/DocKeeper/internal/repository"
)

// Opener opens a storage backend.
type Opener func(ctx context.Context) (repository.Backend, error)

// StartConnector installs a backend into h in the background. It calls open
// at once and then every interval until a call succeeds or ctx is done.
// The returned channel is closed when the loop exits.
func StartConnector(
	ctx context.Context,
	h *repository.Handle,
	open Opener,
	interval time.Duration,
	log *zap.Logger,
) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		if connect(ctx, h, open, log) {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if connect(ctx, h, open, log) {
					return
				}
			}
		}
	}()
	return done
}

func connect(ctx context.Context, h *repository.Handle, open Opener, log *zap.Logger) bool {
	b, err := open(ctx)
	if err != nil {
		log.Error("storage connection failed", zap.Error(err))
		return false
	}
	if !h.Set(b) {
		log.Warn("storage already connected, closing duplicate", zap.String("storage", b.Name()))
		if err := b.Close(ctx); err != nil {
			log.Error("close duplicate storage", zap.Error(err))
		}
		return true
	}
	log.Info("connected to storage", zap.String("storage", b.Name()))
	return true
}
