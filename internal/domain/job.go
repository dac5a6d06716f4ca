package domain

import "time"

// JobStatus enumerates the lifecycle states of a generation job.
type JobStatus string

const (
	JobStatusCreated    JobStatus = "created"
	JobStatusDispatched JobStatus = "dispatched"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimedOut   JobStatus = "timed_out"
)

// ActiveStatuses lists the non-terminal states. At most one job per owner may
// be in one of them.
var ActiveStatuses = []JobStatus{JobStatusCreated, JobStatusDispatched}

// IsTerminal reports whether no further transitions can happen.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// IsActive reports whether s is Created or Dispatched.
func (s JobStatus) IsActive() bool {
	return s == JobStatusCreated || s == JobStatusDispatched
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusCreated:
		return 0
	case JobStatusDispatched:
		return 1
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the state
// machine: Created -> Dispatched -> {Completed, Failed, TimedOut}. Staying in
// the same non-terminal state is allowed (error annotations on a Created
// job), terminal states never change.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	if s == JobStatusCreated && next.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Job is one request to turn an input image into a stylized output.
type Job struct {
	ID           string
	OwnerID      string
	Subject      string
	InputImage   string
	StyleImage   string
	StyleName    string
	PollHandle   string
	OutputImage  string
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewJob carries the caller supplied attributes of a job about to be created.
type NewJob struct {
	OwnerID    string
	Subject    string
	InputImage string
	StyleImage string
	StyleName  string
}

// JobUpdate is a partial update. Nil fields are left untouched. When
// ExpectStatus is set the update only applies if the stored status still
// matches it, otherwise stores return ErrStatusConflict.
type JobUpdate struct {
	Status       *JobStatus
	PollHandle   *string
	OutputImage  *string
	ErrorMessage *string
	ExpectStatus *JobStatus
}

// Apply mutates job in place and validates the result. It is shared by the
// stores that keep rows in memory or need to pre-check a transition.
func (u JobUpdate) Apply(job *Job, now time.Time) error {
	if u.ExpectStatus != nil && job.Status != *u.ExpectStatus {
		return ErrStatusConflict
	}
	next := job.Status
	if u.Status != nil {
		next = *u.Status
		if !job.Status.CanTransition(next) {
			return ErrInvalidTransition
		}
	}
	output := job.OutputImage
	if u.OutputImage != nil {
		output = *u.OutputImage
	}
	if (output != "") != (next == JobStatusCompleted) {
		return ErrInvalidTransition
	}
	job.Status = next
	job.OutputImage = output
	if u.PollHandle != nil {
		job.PollHandle = *u.PollHandle
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = *u.ErrorMessage
	}
	job.UpdatedAt = now
	return nil
}

// StatusPtr is a small helper for building JobUpdate values.
func StatusPtr(s JobStatus) *JobStatus { return &s }

// StringPtr is a small helper for building JobUpdate values.
func StringPtr(s string) *string { return &s }
