package services

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper drives the out-of-band triggers from inside a long-lived process. Ephemeral
// deployments call the same operations over HTTP or from cron instead.
type Sweeper interface {
	Start(ctx context.Context)
	Stop()
	SweepOnce(ctx context.Context)
}

type sweeper struct {
	poller     OCRPollCoordinator
	reconciler StaleJobReconciler
	interval   time.Duration
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopOnce   sync.Once
}

func NewSweeper(poller OCRPollCoordinator, reconciler StaleJobReconciler, interval time.Duration) Sweeper {
	return &sweeper{
		poller:     poller,
		reconciler: reconciler,
		interval:   interval,
		stopChan:   make(chan struct{}),
	}
}

// Start implements Sweeper.
func (s *sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Println("⏸️  Sweeper disabled (SWEEP_INTERVAL=0)")
		return
	}

	s.wg.Add(1)
	go s.loop(ctx)
	log.Printf("🔄 Sweeper started, running every %v\n", s.interval)
}

// Stop implements Sweeper.
func (s *sweeper) Stop() {
	s.stopOnce.Do(func() {
		log.Println("🛑 Stopping sweeper...")
		close(s.stopChan)
		s.wg.Wait()
		log.Println("✅ Sweeper stopped")
	})
}

// SweepOnce polls outstanding OCR and then reconciles stale jobs.
func (s *sweeper) SweepOnce(ctx context.Context) {
	if _, err := s.poller.PollOutstandingOCR(ctx); err != nil {
		log.Printf("⚠️  OCR poll sweep failed: %v\n", err)
	}

	if _, err := s.reconciler.ReconcileStaleJobs(ctx, nil); err != nil {
		log.Printf("⚠️  Reconcile sweep failed: %v\n", err)
	}
}

func (s *sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}
