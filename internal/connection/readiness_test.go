package connection

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReadiness_SettlesOnce(t *testing.T) {
	r := newReadiness()

	if r.Settled() {
		t.Fatal("new readiness should be pending")
	}
	if r.Err() != nil {
		t.Errorf("Err while pending = %v, want nil", r.Err())
	}

	if !r.settle(ErrHandshakeTimeout) {
		t.Error("first settle should report true")
	}
	if r.settle(nil) {
		t.Error("second settle should report false")
	}

	if !errors.Is(r.Err(), ErrHandshakeTimeout) {
		t.Errorf("Err = %v, want ErrHandshakeTimeout", r.Err())
	}
	select {
	case <-r.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestReadiness_WaitFulfilled(t *testing.T) {
	r := newReadiness()

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.settle(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Wait(ctx); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}

func TestReadiness_WaitContextDone(t *testing.T) {
	r := newReadiness()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}
	if r.Settled() {
		t.Error("context expiry must not settle the readiness")
	}
}
