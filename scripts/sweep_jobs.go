package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/config"
	"alfredoptarigan/entity-brain/internal/services"
)

// One-shot sweep for cron: polls outstanding OCR handles, then reconciles stale jobs.
func main() {
	entityFlag := flag.String("entity", "", "only reconcile jobs of this entity id")
	skipPoll := flag.Bool("skip-poll", false, "skip the OCR poll step")
	flag.Parse()

	log.Println("🚀 Starting job sweep...")

	// Load configuration
	cfg := config.Load()

	db, err := config.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	ctx := context.Background()
	pipeline, err := services.NewPipeline(ctx, cfg, db)
	if err != nil {
		log.Fatalf("❌ Failed to initialize pipeline: %v", err)
	}

	var entityID *uuid.UUID
	if *entityFlag != "" {
		id, err := uuid.Parse(*entityFlag)
		if err != nil {
			log.Fatalf("❌ Invalid entity id %q: %v", *entityFlag, err)
		}
		entityID = &id
	}

	failCount := 0

	if !*skipPoll {
		summary, err := pipeline.Poller.PollOutstandingOCR(ctx)
		if err != nil {
			log.Printf("❌ OCR poll failed: %v", err)
			failCount++
		} else {
			failCount += summary.ResumeErrors
		}
	}

	outcomes, err := pipeline.Reconciler.ReconcileStaleJobs(ctx, entityID)
	if err != nil {
		log.Fatalf("❌ Reconcile failed: %v", err)
	}

	counts := map[services.ReconcileStatus]int{}
	for _, o := range outcomes {
		counts[o.Outcome]++
		if o.Outcome == services.ReconcileTriggerFailed {
			log.Printf("   ❌ Job %s (%s): %s", o.JobID, o.Type, o.Reason)
			failCount++
		}
	}

	// Summary
	log.Println("\n" + strings.Repeat("=", 60))
	log.Printf("📊 Sweep Summary:")
	log.Printf("   🔁 Triggered: %d jobs", counts[services.ReconcileTriggered])
	log.Printf("   ⏹️  Already terminal: %d jobs", counts[services.ReconcileAlreadyTerminal])
	log.Printf("   ❌ Failed: %d", failCount)
	log.Println(strings.Repeat("=", 60))

	if failCount > 0 {
		os.Exit(1)
	}

	log.Println("✅ Sweep finished")
}
