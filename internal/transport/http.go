package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/ncchup/internal/upload"
	"github.com/lgulliver/ncchup/pkg/types"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader correlates a client request with service logs
const RequestIDHeader = "X-Request-ID"

// maxResponseSize caps how much of a response body is read
const maxResponseSize = 1 << 20

// HTTP submits bodies to the processing service over HTTP
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates an HTTP transport. timeout bounds each exchange.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit posts body to path and decodes the structured reply.
// Non-2xx replies are returned when they still carry a status; the service
// reports Busy, Conflict and the like this way.
func (h *HTTP) Submit(ctx context.Context, path string, body []byte) (*types.ServerResponse, error) {
	startTime := time.Now()
	requestID := uuid.New().String()
	url := h.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := h.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", url).Str("request_id", requestID).Msg("request failed")
		return nil, fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	log.Debug().
		Str("url", url).
		Str("request_id", requestID).
		Int("status_code", resp.StatusCode).
		Int("request_bytes", len(body)).
		Int("response_bytes", len(data)).
		Dur("duration", time.Since(startTime)).
		Msg("exchange completed")

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	reply, decodeErr := types.DecodeResponse(data)

	switch {
	case decodeErr == nil && reply.Status != "":
		return reply, nil
	case success && decodeErr != nil:
		return nil, fmt.Errorf("%w: %s returned %d with an undecodable body: %v",
			upload.ErrProtocolViolation, path, resp.StatusCode, decodeErr)
	case success:
		// a 2xx JSON body without status is left to the state machine
		return reply, nil
	default:
		return nil, fmt.Errorf("%s returned %s: %s", path, resp.Status, snippet(data))
	}
}

func snippet(data []byte) string {
	const limit = 128
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "...[truncated]"
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}
