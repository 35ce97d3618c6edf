package models

import (
	"errors"
	"testing"
	"time"
)

func TestJobStatusTransitions(t *testing.T) {
	allowed := map[JobStatus][]JobStatus{
		JobStatusPending:    {JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed},
		JobStatusProcessing: {JobStatusProcessing, JobStatusCompleted, JobStatusFailed},
	}
	all := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalJobsRejectChanges(t *testing.T) {
	now := time.Now()
	j := &Job{Status: JobStatusPending, TotalUnits: 2}
	if err := j.Complete(now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if j.Progress != 100 || j.CompletedAt == nil || j.StartedAt == nil {
		t.Fatalf("expected completion stamps, got %+v", j)
	}

	if err := j.Start(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on start, got %v", err)
	}
	if err := j.Fail(now, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on fail, got %v", err)
	}
	if j.Status != JobStatusCompleted || j.ErrorMessage != nil {
		t.Fatalf("expected completed job unchanged, got %+v", j)
	}
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	j := &Job{Status: JobStatusProcessing, TotalUnits: 4}

	j.SetProcessed(3)
	if j.Progress != 75 {
		t.Fatalf("expected 75, got %d", j.Progress)
	}
	j.SetProcessed(1)
	if j.Progress != 75 || j.ProcessedUnits != 3 {
		t.Fatalf("expected progress to stay at 3/4, got %d/%d (%d%%)", j.ProcessedUnits, j.TotalUnits, j.Progress)
	}
	j.SetProcessed(10)
	if j.ProcessedUnits != 4 || j.Progress != 100 {
		t.Fatalf("expected processed clamped to total, got %d (%d%%)", j.ProcessedUnits, j.Progress)
	}
	j.RaiseProgress(150)
	if j.Progress != 100 {
		t.Fatalf("expected progress capped at 100, got %d", j.Progress)
	}
}

func TestUnitProgress(t *testing.T) {
	cases := []struct{ processed, total, want int }{
		{0, 0, 0}, {0, 3, 0}, {1, 3, 33}, {2, 3, 66}, {3, 3, 100}, {5, 3, 100}, {-1, 3, 0},
	}
	for _, c := range cases {
		if got := UnitProgress(c.processed, c.total); got != c.want {
			t.Fatalf("UnitProgress(%d, %d) = %d, want %d", c.processed, c.total, got, c.want)
		}
	}
}

func TestApplyPollSettlesOnce(t *testing.T) {
	meta := NewAnalysisMetadata([]string{"doc-1"})
	meta.Analysis.OCRHandles["doc-1"] = OCRHandle{DocumentID: "doc-1", ExternalHandleID: "h1", Status: OCRStatusInProgress}
	now := time.Now()

	if meta.Analysis.ApplyPoll("doc-1", OCRPollResult{Status: OCRStatusInProgress}, now) {
		t.Fatalf("expected an in-progress answer to change nothing")
	}
	if !meta.Analysis.ApplyPoll("doc-1", OCRPollResult{Status: OCRStatusSucceeded, Text: "héllo"}, now) {
		t.Fatalf("expected success to be applied")
	}
	h := meta.Analysis.OCRHandles["doc-1"]
	if h.Status != OCRStatusSucceeded || h.CharacterCount != 5 {
		t.Fatalf("unexpected handle: %+v", h)
	}
	if meta.Analysis.ApplyPoll("doc-1", OCRPollResult{Status: OCRStatusFailed}, now) {
		t.Fatalf("expected a late answer on a settled handle to be ignored")
	}
	if meta.Analysis.OutstandingOCR() != 0 {
		t.Fatalf("expected nothing outstanding")
	}
	if meta.Analysis.ApplyPoll("unknown", OCRPollResult{Status: OCRStatusSucceeded}, now) {
		t.Fatalf("expected unknown handle to be ignored")
	}
}

func TestFraction(t *testing.T) {
	var nilJob *Job
	if nilJob.Fraction() != 0 {
		t.Fatalf("expected 0 for nil job")
	}
	if (&Job{Status: JobStatusCompleted}).Fraction() != 1 {
		t.Fatalf("expected completed job to count fully")
	}
	if f := (&Job{Status: JobStatusProcessing, ProcessedUnits: 1, TotalUnits: 4}).Fraction(); f != 0.25 {
		t.Fatalf("expected 0.25, got %v", f)
	}
}

func TestResumeSourceIsValid(t *testing.T) {
	for _, s := range []ResumeSource{SourceUpload, SourceResume, SourceChain, SourceReconciler, SourceManual} {
		if !s.IsValid() {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if ResumeSource("cron").IsValid() || ResumeSource("").IsValid() {
		t.Fatalf("expected undeclared sources to be rejected")
	}
}
