package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atinyakov/DocKeeper/internal/repository"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connector did not finish")
	}
}

func TestStartConnector_Success(t *testing.T) {
	h := repository.NewHandle()

	done := StartConnector(context.Background(), h, func(context.Context) (repository.Backend, error) {
		return repository.NewMemoryBackend(), nil
	}, time.Hour, zap.NewNop())
	waitDone(t, done)

	if !h.Ready() {
		t.Fatal("handle not set after successful connect")
	}
}

func TestStartConnector_RetriesAndLogs(t *testing.T) {
	var buf bytes.Buffer
	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(&buf),
		zapcore.ErrorLevel,
	)
	logger := zap.New(core)

	var calls atomic.Int32
	h := repository.NewHandle()
	done := StartConnector(context.Background(), h, func(context.Context) (repository.Backend, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("db fail")
		}
		return repository.NewMemoryBackend(), nil
	}, 10*time.Millisecond, logger)
	waitDone(t, done)

	if got := calls.Load(); got != 3 {
		t.Errorf("open called %d times, want 3", got)
	}
	if !h.Ready() {
		t.Error("handle not set after retry")
	}
	if out := buf.String(); !strings.Contains(out, "storage connection failed") {
		t.Errorf("expected error log, got:\n%s", out)
	}
}

func TestStartConnector_CancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := repository.NewHandle()

	done := StartConnector(ctx, h, func(context.Context) (repository.Backend, error) {
		return nil, errors.New("unreachable")
	}, 10*time.Millisecond, zap.NewNop())
	cancel()
	waitDone(t, done)

	if h.Ready() {
		t.Error("handle set although every connect failed")
	}
}

func TestStartConnector_AlreadySet(t *testing.T) {
	h := repository.NewHandle()
	first := repository.NewMemoryBackend()
	h.Set(first)

	done := StartConnector(context.Background(), h, func(context.Context) (repository.Backend, error) {
		return repository.NewMemoryBackend(), nil
	}, time.Hour, zap.NewNop())
	waitDone(t, done)

	b, err := h.Backend()
	if err != nil {
		t.Fatal(err)
	}
	if b != repository.Backend(first) {
		t.Error("connector replaced an installed backend")
	}
}
