// Package renderer talks to the remote caricature workflow: one POST starts a
// render and returns a poll URL, repeated GETs on that URL report progress.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"caricature/internal/infra"
)

const defaultWorkflowURL = "https://api.segmind.com/workflows/6761c4d8e0630da504657249-v6"

// Options configures the renderer client.
type Options struct {
	APIKey         string
	WorkflowURL    string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// BreakerFailures is the number of consecutive transport failures that
	// open the circuit. Zero means 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open. Zero means 30s.
	BreakerCooldown time.Duration
}

// Client performs HTTP calls to the renderer. It never retries on its own.
type Client struct {
	apiKey      string
	workflowURL string
	httpClient  *http.Client
	logger      *infra.Logger
}

// NewClient constructs a client with defaults and wraps its transport in a
// circuit breaker.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	workflowURL := strings.TrimSpace(opts.WorkflowURL)
	if workflowURL == "" {
		workflowURL = defaultWorkflowURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}
	logger := infra.OrDiscard(opts.Logger)

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "renderer",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("renderer circuit state changed")
		},
	})

	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient := *base
	httpClient.Transport = &breakerTransport{next: transport, cb: cb}

	return &Client{
		apiKey:      apiKey,
		workflowURL: workflowURL,
		httpClient:  &httpClient,
		logger:      logger,
	}, nil
}

// Dispatch submits a render and returns the poll handle. Every failure is
// wrapped in ErrDispatchFailed.
func (c *Client) Dispatch(ctx context.Context, inputImage, styleImage string) (string, error) {
	inputImage = strings.TrimSpace(inputImage)
	styleImage = strings.TrimSpace(styleImage)
	if inputImage == "" || styleImage == "" {
		return "", fmt.Errorf("%w: input and style images are required", ErrDispatchFailed)
	}
	body, err := json.Marshal(dispatchRequest{InputFace: inputImage, CatureStyle: styleImage})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrDispatchFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.workflowURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	raw, status, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	if status >= 300 {
		return "", fmt.Errorf("%w: %s", ErrDispatchFailed, describeHTTPError(status, raw))
	}
	var decoded dispatchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrDispatchFailed, err)
	}
	handle := strings.TrimSpace(decoded.PollURL)
	if handle == "" {
		return "", fmt.Errorf("%w: response carried no poll url", ErrDispatchFailed)
	}
	c.logger.Debug().
		Str("request_id", decoded.RequestID).
		Str("status", decoded.Status).
		Msg("renderer: render dispatched")
	return handle, nil
}

// Poll fetches the current status of a render. Remote failures and malformed
// output are reported in the result; only transport problems return an error
// (wrapped in ErrPollFailed).
func (c *Client) Poll(ctx context.Context, handle string) (PollResult, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return PollResult{}, fmt.Errorf("%w: empty poll handle", ErrPollFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: build request: %v", ErrPollFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	raw, status, err := c.do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %w", ErrPollFailed, err)
	}
	if status >= 300 {
		return PollResult{}, fmt.Errorf("%w: %s", ErrPollFailed, describeHTTPError(status, raw))
	}
	var decoded pollResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PollResult{}, fmt.Errorf("%w: decode response: %v", ErrPollFailed, err)
	}
	result := interpret(decoded)
	c.logger.Debug().
		Str("raw_status", decoded.Status).
		Str("status", string(result.Status)).
		Msg("renderer: polled render")
	return result, nil
}

func interpret(resp pollResponse) PollResult {
	result := PollResult{Status: normalizeStatus(resp.Status), RawStatus: resp.Status}
	errText := ""
	if resp.Error != nil {
		errText = strings.TrimSpace(*resp.Error)
	}
	switch result.Status {
	case StatusCompleted:
		output, err := decodeOutput(resp.Output)
		if err != nil {
			return PollResult{Status: StatusFailed, ErrorText: err.Error(), RawStatus: resp.Status}
		}
		result.OutputImage = output
	case StatusFailed:
		if errText == "" {
			errText = "Generation failed"
		}
		result.ErrorText = errText
	default:
		if errText != "" {
			return PollResult{Status: StatusFailed, ErrorText: errText, RawStatus: resp.Status}
		}
	}
	return result
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func describeHTTPError(status int, raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Message != "" {
			return fmt.Sprintf("status %d: %s", status, detail.Message)
		}
		if detail.Error != "" {
			return fmt.Sprintf("status %d: %s", status, detail.Error)
		}
	}
	return fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(raw)))
}

var errServerStatus = errors.New("renderer: server error status")

// breakerTransport counts transport errors and 5xx responses against the
// circuit. An open circuit surfaces as a transport error.
type breakerTransport struct {
	next http.RoundTripper
	cb   *gobreaker.CircuitBreaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return out.(*http.Response), nil
	}
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}
