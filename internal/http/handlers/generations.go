package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"caricature/internal/domain"
	"caricature/internal/middleware"
	"caricature/internal/orchestrator"
)

type createGenerationRequest struct {
	Subject    string `json:"subject" validate:"max=200"`
	InputImage string `json:"input_image" validate:"omitempty,url,max=2048"`
	Style      string `json:"style" validate:"omitempty,max=100"`
}

type generationView struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Subject      string    `json:"subject,omitempty"`
	InputImage   string    `json:"input_image"`
	StyleImage   string    `json:"style_image"`
	StyleName    string    `json:"style_name,omitempty"`
	OutputImage  string    `json:"output_image,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toGenerationView(job *domain.Job) generationView {
	return generationView{
		ID:           job.ID,
		Status:       string(job.Status),
		Subject:      job.Subject,
		InputImage:   job.InputImage,
		StyleImage:   job.StyleImage,
		StyleName:    job.StyleName,
		OutputImage:  job.OutputImage,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

type progressEvent struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Iteration int    `json:"iteration"`
}

type completedEvent struct {
	JobID       string `json:"job_id"`
	OutputImage string `json:"output_image"`
	Resumed     bool   `json:"resumed"`
	Credits     int    `json:"credits"`
}

type failedEvent struct {
	JobID   string `json:"job_id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ActiveGeneration returns the owner's Created or Dispatched job.
func (a *App) ActiveGeneration(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized)
		return
	}
	job, err := a.Jobs.FindActive(r.Context(), ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, r, http.StatusNotFound, middleware.CodeNotFound)
		return
	}
	if err != nil {
		a.log(r).Error().Err(err).Str("owner_id", ownerID).Msg("find active generation")
		a.error(w, r, http.StatusInternalServerError, middleware.CodeInternal)
		return
	}
	a.json(w, http.StatusOK, toGenerationView(job))
}

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized)
		return
	}
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) || (err == nil && job.OwnerID != ownerID) {
		a.error(w, r, http.StatusNotFound, middleware.CodeNotFound)
		return
	}
	if err != nil {
		a.log(r).Error().Err(err).Msg("get generation")
		a.error(w, r, http.StatusInternalServerError, middleware.CodeInternal)
		return
	}
	a.json(w, http.StatusOK, toGenerationView(job))
}

// CreateGeneration resumes the owner's active job or starts a new one and
// streams progress as server-sent events until the job settles. Errors that
// happen before the first event are plain JSON responses.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized)
		return
	}

	var body createGenerationRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			a.error(w, r, http.StatusBadRequest, middleware.CodeInvalidRequest)
			return
		}
	}
	if err := a.validate.Struct(body); err != nil {
		a.log(r).Debug().Err(err).Msg("invalid generation request")
		a.error(w, r, http.StatusBadRequest, middleware.CodeInvalidRequest)
		return
	}

	req := orchestrator.Request{
		OwnerID:    ownerID,
		Subject:    strings.TrimSpace(body.Subject),
		InputImage: strings.TrimSpace(body.InputImage),
	}
	if name := strings.TrimSpace(body.Style); name != "" {
		style, err := a.Styles.Resolve(r.Context(), name)
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, r, http.StatusBadRequest, middleware.CodeStyleNotFound)
			return
		}
		if err != nil {
			a.log(r).Error().Err(err).Msg("resolve style")
			a.error(w, r, http.StatusInternalServerError, middleware.CodeInternal)
			return
		}
		req.StyleImage = style.URL
		req.StyleName = style.Name
	}

	if !a.sessions.tryAcquire(ownerID) {
		a.error(w, r, http.StatusConflict, middleware.CodeGenerationInProgress)
		return
	}
	defer a.sessions.release(ownerID)

	stream := newEventStream(w)
	res, err := a.Generator.CreateOrResume(r.Context(), req, func(p orchestrator.Progress) {
		stream.send("progress", progressEvent{
			JobID:     p.JobID,
			Status:    string(p.Status),
			Message:   p.Message,
			Iteration: p.Iteration,
		})
	})
	if err != nil {
		a.writeGenerationError(w, r, stream, err)
		return
	}
	completed := completedEvent{
		JobID:       res.JobID,
		OutputImage: res.OutputImage,
		Resumed:     res.Resumed,
		Credits:     res.Balance,
	}
	if !stream.started() {
		a.json(w, http.StatusOK, completed)
		return
	}
	stream.send("completed", completed)
}

func (a *App) writeGenerationError(w http.ResponseWriter, r *http.Request, stream *eventStream, err error) {
	status, code := generationErrorStatus(err)
	logger := a.log(r)
	switch status {
	case http.StatusBadRequest, http.StatusPaymentRequired:
		logger.Debug().Err(err).Msg("generation rejected")
	default:
		logger.Warn().Err(err).Str("kind", string(orchestrator.KindOf(err))).Msg("generation ended with error")
	}
	if orchestrator.KindOf(err) == orchestrator.KindAbandoned {
		return
	}

	message := middleware.Message(middleware.LocaleFromContext(r.Context()), code)
	var oe *orchestrator.Error
	jobID := ""
	if errors.As(err, &oe) {
		jobID = oe.JobID
		// Remote failures and timeouts carry a message meant for the user.
		if oe.Kind == orchestrator.KindRemoteJobFailure || oe.Kind == orchestrator.KindPollTimeout {
			message = oe.Message
		}
	}
	if !stream.started() {
		a.json(w, status, failedEvent{JobID: jobID, Error: code, Message: message})
		return
	}
	stream.send("failed", failedEvent{JobID: jobID, Error: code, Message: message})
}

// generationErrorStatus maps an orchestrator error to an HTTP status and an
// error code.
func generationErrorStatus(err error) (int, string) {
	switch orchestrator.KindOf(err) {
	case orchestrator.KindValidation:
		switch {
		case errors.Is(err, domain.ErrInsufficientCredit):
			return http.StatusPaymentRequired, middleware.CodeInsufficientCredits
		case errors.Is(err, domain.ErrNotFound):
			return http.StatusNotFound, middleware.CodeNotFound
		}
		return http.StatusBadRequest, middleware.CodeValidation
	case orchestrator.KindTransientNetwork:
		return http.StatusBadGateway, middleware.CodeTransientNetwork
	case orchestrator.KindRemoteJobFailure:
		return http.StatusBadGateway, middleware.CodeRemoteJobFailure
	case orchestrator.KindPollTimeout:
		return http.StatusGatewayTimeout, middleware.CodePollTimeout
	case orchestrator.KindLedgerDecrementFailure:
		return http.StatusServiceUnavailable, middleware.CodeLedgerFailure
	case orchestrator.KindAbandoned:
		return http.StatusRequestTimeout, middleware.CodeAbandoned
	default:
		return http.StatusInternalServerError, middleware.CodeInternal
	}
}

// eventStream writes server-sent events. Headers go out with the first event.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	open    bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	f, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: f}
}

func (s *eventStream) started() bool { return s.open }

func (s *eventStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !s.open {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.open = true
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
