package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type countingPoller struct {
	calls atomic.Int32
	err   error
}

func (p *countingPoller) PollOutstandingOCR(ctx context.Context) (PollSummary, error) {
	p.calls.Add(1)
	return PollSummary{}, p.err
}

type countingReconciler struct {
	calls atomic.Int32
}

func (r *countingReconciler) ReconcileStaleJobs(ctx context.Context, entityID *uuid.UUID) ([]ReconcileOutcome, error) {
	r.calls.Add(1)
	return nil, nil
}

func TestSweepOnceRunsBothTriggers(t *testing.T) {
	poller := &countingPoller{err: errors.New("gateway down")}
	reconciler := &countingReconciler{}

	NewSweeper(poller, reconciler, 0).SweepOnce(context.Background())

	if poller.calls.Load() != 1 || reconciler.calls.Load() != 1 {
		t.Fatalf("expected one poll and one reconcile even when polling fails, got %d/%d",
			poller.calls.Load(), reconciler.calls.Load())
	}
}

func TestSweeperDisabledWithoutInterval(t *testing.T) {
	poller := &countingPoller{}
	s := NewSweeper(poller, &countingReconciler{}, 0)
	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if poller.calls.Load() != 0 {
		t.Fatalf("expected no sweeps when disabled")
	}
}

func TestSweeperRunsUntilStopped(t *testing.T) {
	poller := &countingPoller{}
	s := NewSweeper(poller, &countingReconciler{}, 5*time.Millisecond)
	s.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for poller.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if poller.calls.Load() < 2 {
		t.Fatalf("expected repeated sweeps, got %d", poller.calls.Load())
	}
	after := poller.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if poller.calls.Load() != after {
		t.Fatalf("expected no sweeps after Stop")
	}
}
