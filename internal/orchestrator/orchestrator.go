// Package orchestrator drives a generation job from creation to a terminal
// state: it dispatches the render once, polls it under a bounded budget,
// reconciles state when a session resumes and performs the single credit
// deduction for a completed job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caricature/internal/clock"
	"caricature/internal/domain"
	"caricature/internal/infra"
	"caricature/internal/providers/renderer"
	"caricature/internal/retry"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultMaxPolls      = 600
	DefaultMaxPollErrors = 5

	MessageQueued     = "Queued..."
	MessageGenerating = "Generating... This could take a couple of mins, but the laugh will be worth it."
)

// Renderer is the remote render service.
type Renderer interface {
	Dispatch(ctx context.Context, inputImage, styleImage string) (string, error)
	Poll(ctx context.Context, handle string) (renderer.PollResult, error)
}

// Options wires the orchestrator. Finalizer is optional and must only be set
// when it charges the same balances Ledger reports.
type Options struct {
	Jobs      domain.JobStore
	Ledger    domain.CreditLedger
	Finalizer domain.Finalizer
	Renderer  Renderer
	Clock     clock.Clock
	Logger    *infra.Logger

	PollInterval  time.Duration
	MaxPolls      int
	MaxPollErrors int
	Retry         retry.Policy
}

// Request describes a generation the caller wants.
type Request struct {
	OwnerID    string
	Subject    string
	InputImage string
	StyleImage string
	StyleName  string
}

// Progress is emitted for every non-terminal poll.
type Progress struct {
	JobID     string
	Status    renderer.Status
	Message   string
	Iteration int
}

// ProgressFunc receives progress updates. It is called on the orchestrator's
// goroutine and must not block for long.
type ProgressFunc func(Progress)

// Result is returned for a completed job.
type Result struct {
	JobID       string
	OutputImage string
	Resumed     bool
	Balance     int
}

// Orchestrator runs generation jobs. It is safe for concurrent use across
// owners; callers keep at most one run per owner.
type Orchestrator struct {
	jobs      domain.JobStore
	ledger    domain.CreditLedger
	finalizer domain.Finalizer
	renderer  Renderer
	clock     clock.Clock
	logger    *infra.Logger

	pollInterval  time.Duration
	maxPolls      int
	maxPollErrors int
	retry         retry.Policy
}

// New validates opts and applies defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.Jobs == nil || opts.Ledger == nil || opts.Renderer == nil {
		return nil, errors.New("orchestrator: jobs, ledger and renderer are required")
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	o := &Orchestrator{
		jobs:          opts.Jobs,
		ledger:        opts.Ledger,
		finalizer:     opts.Finalizer,
		renderer:      opts.Renderer,
		clock:         c,
		logger:        infra.OrDiscard(opts.Logger),
		pollInterval:  opts.PollInterval,
		maxPolls:      opts.MaxPolls,
		maxPollErrors: opts.MaxPollErrors,
		retry:         opts.Retry,
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.maxPolls <= 0 {
		o.maxPolls = DefaultMaxPolls
	}
	if o.maxPollErrors <= 0 {
		o.maxPollErrors = DefaultMaxPollErrors
	}
	if o.retry.MaxAttempts <= 0 {
		o.retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if o.retry.BaseDelay == 0 {
		o.retry.BaseDelay = retry.DefaultBaseDelay
	}
	o.retry.Clock = c
	if o.retry.OnRetry == nil {
		o.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			o.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying operation")
		}
	}
	return o, nil
}

// TimeoutMessage is the error text persisted on a timed out job.
func (o *Orchestrator) TimeoutMessage() string {
	return "Generation timed out after " + humanDuration(o.pollInterval*time.Duration(o.maxPolls))
}

// CreateOrResume resumes the owner's active job when there is one, otherwise
// creates and dispatches a new job. It then polls until the job reaches a
// terminal state, the poll budget runs out or ctx is cancelled.
func (o *Orchestrator) CreateOrResume(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		return nil, newError(KindValidation, "", "Please sign in to generate a caricature", nil)
	}
	active, err := o.findActive(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return o.run(ctx, active, true, progress)
	}

	if strings.TrimSpace(req.InputImage) == "" || strings.TrimSpace(req.StyleImage) == "" {
		return nil, newError(KindValidation, "", "Please upload a photo and choose a style", nil)
	}
	if err := o.requireCredit(ctx, "", req.OwnerID); err != nil {
		return nil, err
	}
	job, err := retry.Do(ctx, o.retry, func(ctx context.Context) (*domain.Job, error) {
		return storeCall(o.jobs.Create(ctx, domain.NewJob{
			OwnerID:    req.OwnerID,
			Subject:    strings.TrimSpace(req.Subject),
			InputImage: strings.TrimSpace(req.InputImage),
			StyleImage: strings.TrimSpace(req.StyleImage),
			StyleName:  strings.TrimSpace(req.StyleName),
		}))
	})
	if errors.Is(err, domain.ErrActiveJobExists) {
		// Lost a race with another session of the same owner.
		active, ferr := o.findActive(ctx, req.OwnerID)
		if ferr != nil {
			return nil, ferr
		}
		if active == nil {
			return nil, newError(KindTransientNetwork, "", "Failed to start generation", err)
		}
		return o.run(ctx, active, true, progress)
	}
	if err != nil {
		return nil, o.storeError(ctx, "", "Failed to start generation", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Msg("generation job created")
	return o.run(ctx, job, false, progress)
}

// Resume continues the owner's active job. It never creates one; without an
// active job it returns a validation error.
func (o *Orchestrator) Resume(ctx context.Context, ownerID string, progress ProgressFunc) (*Result, error) {
	active, err := o.findActive(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, newError(KindValidation, "", "No generation in progress", domain.ErrNotFound)
	}
	return o.run(ctx, active, true, progress)
}

func (o *Orchestrator) findActive(ctx context.Context, ownerID string) (*domain.Job, error) {
	job, err := retry.Do(ctx, o.retry, func(ctx context.Context) (*domain.Job, error) {
		return storeCall(o.jobs.FindActive(ctx, ownerID))
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, o.storeError(ctx, "", "Failed to load generation", err)
	}
	return job, nil
}

func (o *Orchestrator) requireCredit(ctx context.Context, jobID, ownerID string) error {
	balance, err := retry.Do(ctx, o.retry, func(ctx context.Context) (int, error) {
		return storeCall(o.ledger.Balance(ctx, ownerID))
	})
	if err != nil {
		return o.storeError(ctx, jobID, "Failed to check credits", err)
	}
	if balance < 1 {
		return newError(KindValidation, jobID, "Insufficient credits", domain.ErrInsufficientCredit)
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, job *domain.Job, resumed bool, progress ProgressFunc) (*Result, error) {
	if resumed {
		o.logger.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Str("status", string(job.Status)).Msg("resuming generation job")
	}
	for {
		switch job.Status {
		case domain.JobStatusCreated:
			next, err := o.dispatch(ctx, job)
			if err != nil {
				return nil, err
			}
			job = next
		case domain.JobStatusDispatched:
			if strings.TrimSpace(job.PollHandle) == "" {
				return o.fail(ctx, job, "Generation cannot be resumed: the render reference was lost", resumed)
			}
			return o.poll(ctx, job, resumed, progress)
		default:
			return o.outcome(ctx, job, resumed)
		}
	}
}

// dispatch moves a Created job to Dispatched and returns the stored job.
func (o *Orchestrator) dispatch(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if strings.TrimSpace(job.InputImage) == "" || strings.TrimSpace(job.StyleImage) == "" {
		return nil, newError(KindValidation, job.ID, "Please upload a photo and choose a style", nil)
	}
	if err := o.requireCredit(ctx, job.ID, job.OwnerID); err != nil {
		return nil, err
	}
	handle, err := retry.Do(ctx, o.retry, func(ctx context.Context) (string, error) {
		h, err := o.renderer.Dispatch(ctx, job.InputImage, job.StyleImage)
		if err != nil && ctx.Err() != nil {
			return "", retry.Permanent(err)
		}
		return h, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindAbandoned, job.ID, "Generation abandoned", ctx.Err())
		}
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch failed")
		msg := "Failed to generate caricature"
		uerr := o.update(ctx, job.ID, domain.JobUpdate{
			ErrorMessage: domain.StringPtr(msg),
			ExpectStatus: domain.StatusPtr(domain.JobStatusCreated),
		})
		if uerr != nil && !errors.Is(uerr, domain.ErrStatusConflict) {
			o.logger.Error().Err(uerr).Str("job_id", job.ID).Msg("record dispatch failure")
		}
		return nil, newError(KindTransientNetwork, job.ID, msg, err)
	}

	// The handle must be stored even if the session goes away now.
	err = o.update(context.WithoutCancel(ctx), job.ID, domain.JobUpdate{
		Status:       domain.StatusPtr(domain.JobStatusDispatched),
		PollHandle:   domain.StringPtr(handle),
		ErrorMessage: domain.StringPtr(""),
		ExpectStatus: domain.StatusPtr(domain.JobStatusCreated),
	})
	if err != nil && !errors.Is(err, domain.ErrStatusConflict) {
		return nil, o.storeError(ctx, job.ID, "Failed to start generation", err)
	}
	if err != nil {
		o.logger.Warn().Str("job_id", job.ID).Msg("job changed while dispatching, reloading")
	} else {
		o.logger.Info().Str("job_id", job.ID).Str("status", string(domain.JobStatusDispatched)).Msg("generation dispatched")
	}
	return o.reload(ctx, job.ID)
}

func (o *Orchestrator) poll(ctx context.Context, job *domain.Job, resumed bool, progress ProgressFunc) (*Result, error) {
	consecutiveErrors := 0
	for i := 0; i < o.maxPolls; i++ {
		if err := ctx.Err(); err != nil {
			return nil, newError(KindAbandoned, job.ID, "Generation abandoned", err)
		}
		res, err := o.renderer.Poll(ctx, job.PollHandle)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, newError(KindAbandoned, job.ID, "Generation abandoned", ctx.Err())
			}
			consecutiveErrors++
			o.logger.Warn().Err(err).Str("job_id", job.ID).Int("iteration", i).Int("consecutive_errors", consecutiveErrors).Msg("poll failed")
			if consecutiveErrors >= o.maxPollErrors {
				return nil, newError(KindTransientNetwork, job.ID, "Failed to check generation status", err)
			}
		case res.Status == renderer.StatusCompleted:
			return o.finalize(ctx, job, res.OutputImage, resumed)
		case res.Status == renderer.StatusFailed:
			return o.fail(ctx, job, res.ErrorText, resumed)
		default:
			consecutiveErrors = 0
			o.logger.Debug().Str("job_id", job.ID).Int("iteration", i).Str("status", string(res.Status)).Msg("render in progress")
			if progress != nil {
				progress(Progress{JobID: job.ID, Status: res.Status, Message: progressMessage(res.Status), Iteration: i})
			}
		}
		if i == o.maxPolls-1 {
			break
		}
		if err := o.clock.Sleep(ctx, o.pollInterval); err != nil {
			return nil, newError(KindAbandoned, job.ID, "Generation abandoned", err)
		}
	}

	msg := o.TimeoutMessage()
	err := o.update(ctx, job.ID, domain.JobUpdate{
		Status:       domain.StatusPtr(domain.JobStatusTimedOut),
		ErrorMessage: domain.StringPtr(msg),
		ExpectStatus: domain.StatusPtr(domain.JobStatusDispatched),
	})
	if errors.Is(err, domain.ErrStatusConflict) {
		return o.resolveConflict(ctx, job.ID, resumed)
	}
	if err != nil {
		return nil, o.storeError(ctx, job.ID, "Failed to record generation timeout", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("status", string(domain.JobStatusTimedOut)).Msg("generation timed out")
	return nil, newError(KindPollTimeout, job.ID, msg, nil)
}

// finalize charges one credit and marks the job Completed. The decrement is
// skipped when a re-read shows the job already completed, and the ledger
// charges a job id at most once, so a resume after a failed Completed write
// does not charge again.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job, output string, resumed bool) (*Result, error) {
	// Finishing the bookkeeping is not abandoned with the session.
	ctx = context.WithoutCancel(ctx)
	current, err := o.reload(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.JobStatusDispatched {
		return o.outcome(ctx, current, resumed)
	}

	if o.finalizer != nil {
		balance, err := retry.Do(ctx, o.retry, func(ctx context.Context) (int, error) {
			return storeCall(o.finalizer.CompleteAndCharge(ctx, job.ID, job.OwnerID, output))
		})
		switch {
		case errors.Is(err, domain.ErrStatusConflict):
			return o.resolveConflict(ctx, job.ID, resumed)
		case err != nil:
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("complete and charge failed")
			return nil, newError(KindLedgerDecrementFailure, job.ID, "Failed to deduct credit", err)
		}
		o.logger.Info().Str("job_id", job.ID).Int("balance", balance).Str("status", string(domain.JobStatusCompleted)).Msg("generation completed")
		return &Result{JobID: job.ID, OutputImage: output, Resumed: resumed, Balance: balance}, nil
	}

	balance, err := retry.Do(ctx, o.retry, func(ctx context.Context) (int, error) {
		return storeCall(o.ledger.Decrement(ctx, job.OwnerID, job.ID))
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("credit decrement failed")
		return nil, newError(KindLedgerDecrementFailure, job.ID, "Failed to deduct credit", err)
	}
	err = o.update(ctx, job.ID, domain.JobUpdate{
		Status:       domain.StatusPtr(domain.JobStatusCompleted),
		OutputImage:  domain.StringPtr(output),
		ErrorMessage: domain.StringPtr(""),
		ExpectStatus: domain.StatusPtr(domain.JobStatusDispatched),
	})
	if err != nil {
		// The credit is spent but the job still reads Dispatched.
		o.logger.Error().Err(err).Str("job_id", job.ID).Str("owner_id", job.OwnerID).Msg("charged credit but failed to mark job completed")
		if errors.Is(err, domain.ErrStatusConflict) {
			return o.resolveConflict(ctx, job.ID, resumed)
		}
		return nil, newError(KindTransientNetwork, job.ID, "Failed to save generation", err)
	}
	o.logger.Info().Str("job_id", job.ID).Int("balance", balance).Str("status", string(domain.JobStatusCompleted)).Msg("generation completed")
	return &Result{JobID: job.ID, OutputImage: output, Resumed: resumed, Balance: balance}, nil
}

// fail persists Failed with message and returns the matching error.
func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, message string, resumed bool) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		message = "Generation failed"
	}
	ctx = context.WithoutCancel(ctx)
	err := o.update(ctx, job.ID, domain.JobUpdate{
		Status:       domain.StatusPtr(domain.JobStatusFailed),
		ErrorMessage: domain.StringPtr(message),
		ExpectStatus: domain.StatusPtr(job.Status),
	})
	if errors.Is(err, domain.ErrStatusConflict) {
		return o.resolveConflict(ctx, job.ID, resumed)
	}
	if err != nil {
		return nil, o.storeError(ctx, job.ID, "Failed to record generation failure", err)
	}
	o.logger.Info().Str("job_id", job.ID).Str("status", string(domain.JobStatusFailed)).Str("reason", message).Msg("generation failed")
	return nil, newError(KindRemoteJobFailure, job.ID, message, nil)
}

func (o *Orchestrator) resolveConflict(ctx context.Context, jobID string, resumed bool) (*Result, error) {
	current, err := o.reload(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.outcome(ctx, current, resumed)
}

// outcome maps a stored job to the caller result without touching state.
func (o *Orchestrator) outcome(ctx context.Context, job *domain.Job, resumed bool) (*Result, error) {
	switch job.Status {
	case domain.JobStatusCompleted:
		balance, err := retry.Do(ctx, o.retry, func(ctx context.Context) (int, error) {
			return storeCall(o.ledger.Balance(ctx, job.OwnerID))
		})
		if err != nil {
			// The job is done; report it and leave the balance to a later read.
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("read balance after completion")
		}
		return &Result{JobID: job.ID, OutputImage: job.OutputImage, Resumed: resumed, Balance: balance}, nil
	case domain.JobStatusFailed:
		return nil, newError(KindRemoteJobFailure, job.ID, job.ErrorMessage, nil)
	case domain.JobStatusTimedOut:
		return nil, newError(KindPollTimeout, job.ID, job.ErrorMessage, nil)
	default:
		return nil, newError(KindTransientNetwork, job.ID, "Generation is still in progress", domain.ErrStatusConflict)
	}
}

func (o *Orchestrator) reload(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := retry.Do(ctx, o.retry, func(ctx context.Context) (*domain.Job, error) {
		return storeCall(o.jobs.Get(ctx, jobID))
	})
	if err != nil {
		return nil, o.storeError(ctx, jobID, "Failed to load generation", err)
	}
	return job, nil
}

func (o *Orchestrator) update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	return retry.Run(ctx, o.retry, func(ctx context.Context) error {
		_, err := storeCall(struct{}{}, o.jobs.Update(ctx, jobID, update))
		return err
	})
}

func (o *Orchestrator) storeError(ctx context.Context, jobID, message string, err error) *Error {
	if ctx.Err() != nil {
		return newError(KindAbandoned, jobID, "Generation abandoned", ctx.Err())
	}
	return newError(KindTransientNetwork, jobID, message, err)
}

// storeCall marks domain outcomes as permanent so retry only repeats
// transport failures.
func storeCall[T any](v T, err error) (T, error) {
	if err == nil {
		return v, nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrStatusConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrActiveJobExists),
		errors.Is(err, domain.ErrInsufficientCredit),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return v, retry.Permanent(err)
	}
	return v, err
}

func progressMessage(status renderer.Status) string {
	if status == renderer.StatusQueued {
		return MessageQueued
	}
	return MessageGenerating
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		if d == time.Minute {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	case d >= time.Second && d%time.Second == 0:
		if d == time.Second {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	default:
		return d.String()
	}
}
