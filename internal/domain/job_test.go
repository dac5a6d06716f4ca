package domain

import (
	"errors"
	"testing"
	"time"
)

func TestJobStatusCanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusCreated, JobStatusCreated, true},
		{JobStatusCreated, JobStatusDispatched, true},
		{JobStatusCreated, JobStatusCompleted, false},
		{JobStatusCreated, JobStatusFailed, false},
		{JobStatusDispatched, JobStatusDispatched, true},
		{JobStatusDispatched, JobStatusCompleted, true},
		{JobStatusDispatched, JobStatusFailed, true},
		{JobStatusDispatched, JobStatusTimedOut, true},
		{JobStatusDispatched, JobStatusCreated, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusDispatched, false},
		{JobStatusTimedOut, JobStatusTimedOut, false},
		{JobStatus("bogus"), JobStatusDispatched, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestJobUpdateApplyKeepsOutputInvariant(t *testing.T) {
	now := time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)
	job := &Job{ID: "j1", Status: JobStatusDispatched}

	err := JobUpdate{Status: StatusPtr(JobStatusCompleted)}.Apply(job, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for completed without output, got %v", err)
	}

	err = JobUpdate{Status: StatusPtr(JobStatusFailed), OutputImage: StringPtr("https://cdn/x.png")}.Apply(job, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for failed with output, got %v", err)
	}

	err = JobUpdate{Status: StatusPtr(JobStatusCompleted), OutputImage: StringPtr("https://cdn/x.png")}.Apply(job, now)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if job.Status != JobStatusCompleted || job.OutputImage != "https://cdn/x.png" {
		t.Fatalf("unexpected job after apply: %+v", job)
	}
	if !job.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt not stamped: %v", job.UpdatedAt)
	}
}

func TestJobUpdateApplyExpectStatus(t *testing.T) {
	job := &Job{ID: "j1", Status: JobStatusDispatched}
	err := JobUpdate{
		Status:       StatusPtr(JobStatusDispatched),
		PollHandle:   StringPtr("handle"),
		ExpectStatus: StatusPtr(JobStatusCreated),
	}.Apply(job, time.Now())
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if job.PollHandle != "" {
		t.Fatalf("conflicting update must not mutate the job")
	}
}
