package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "schedbot/pkg/logx"
)

func TestGoRestartRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), logx.Nop())
	var runs atomic.Int32
	done := make(chan struct{})

	s.GoRestart("flaky", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("transient")
		default:
			close(done)
			<-ctx.Done()
			return ctx.Err()
		}
	}, RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not restarted")
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Restarts != 2 || snap[0].Panics != 1 || !snap[0].Running {
		t.Fatalf("snapshot = %+v", snap)
	}
	if s.Err() == nil {
		t.Fatal("first error not recorded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Snapshot()[0].Running {
		t.Fatal("task still marked running after stop")
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), logx.Nop())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, RestartPolicy{MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxRestarts: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := s.Snapshot()
		if len(snap) == 1 && !snap[0].Running && runs.Load() >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, still running", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	_ = s.Stop(ctx)
}
