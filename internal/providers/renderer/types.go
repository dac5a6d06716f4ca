package renderer

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrMissingAPIKey indicates that the client was configured without credentials.
	ErrMissingAPIKey = errors.New("renderer: api key is required")
	// ErrDispatchFailed wraps every failure to submit a render.
	ErrDispatchFailed = errors.New("renderer: dispatch failed")
	// ErrPollFailed wraps transport failures while polling.
	ErrPollFailed = errors.New("renderer: poll failed")
)

// Status is the normalized remote job status.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// PollResult is one observation of a remote render. OutputImage is set only
// for StatusCompleted and ErrorText only for StatusFailed.
type PollResult struct {
	Status      Status
	OutputImage string
	ErrorText   string
	RawStatus   string
}

type dispatchRequest struct {
	InputFace   string `json:"input_face"`
	CatureStyle string `json:"cature_style"`
}

type dispatchResponse struct {
	PollURL   string `json:"poll_url"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type pollResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  *string         `json:"error"`
}

type outputNode struct {
	Value struct {
		Data string `json:"data"`
	} `json:"value"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// normalizeStatus maps the renderer's status vocabulary. A missing status is
// treated as pending.
func normalizeStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "PENDING", "QUEUED", "QUEUE":
		return StatusQueued
	case "PROCESSING", "IN_PROGRESS", "RUNNING", "STARTED":
		return StatusProcessing
	case "COMPLETED", "SUCCEEDED", "SUCCESS":
		return StatusCompleted
	case "FAILED", "ERROR", "CANCELLED", "CANCELED":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// decodeOutput extracts the image URL from the renderer's output field. The
// field is usually a JSON string that itself encodes an array of nodes; a
// bare array is accepted too.
func decodeOutput(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", errors.New("generation completed but no image URL received")
	}
	payload := []byte(trimmed)
	if strings.HasPrefix(trimmed, `"`) {
		var encoded string
		if err := json.Unmarshal(payload, &encoded); err != nil {
			return "", errors.New("failed to parse generation output")
		}
		if strings.TrimSpace(encoded) == "" {
			return "", errors.New("generation completed but no image URL received")
		}
		payload = []byte(encoded)
	}
	var nodes []outputNode
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return "", errors.New("failed to parse generation output")
	}
	if len(nodes) == 0 || strings.TrimSpace(nodes[0].Value.Data) == "" {
		return "", errors.New("no image URL found in response")
	}
	return strings.TrimSpace(nodes[0].Value.Data), nil
}
