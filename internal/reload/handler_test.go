package reload

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHandler_Trigger_Success(t *testing.T) {
	var calls int
	h := NewHandler(func(ctx context.Context) error {
		calls++
		return nil
	}, testLogger())

	h.Trigger(context.Background(), "test")
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestHandler_Trigger_SwallowsError(t *testing.T) {
	h := NewHandler(func(ctx context.Context) error {
		return errors.New("boom")
	}, testLogger())

	// Must not panic; the caller never sees the error.
	h.Trigger(context.Background(), "test")
}

func TestHandler_Watch_RespondsToEvents(t *testing.T) {
	done := make(chan struct{}, 1)
	h := NewHandler(func(ctx context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, testLogger())

	w := NewWatcher(t.TempDir(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Watch(ctx, w, nil)

	select {
	case w.events <- Event{Type: EventModified, Path: "config.yaml"}:
	default:
		t.Fatal("events channel unexpectedly full")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not triggered by a watcher event")
	}
}

func TestHandler_Watch_RespondsToSighup(t *testing.T) {
	done := make(chan struct{}, 1)
	h := NewHandler(func(ctx context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, testLogger())

	w := NewWatcher(t.TempDir(), testLogger())
	sighup := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Watch(ctx, w, sighup)
	sighup <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not triggered by SIGHUP")
	}
}
