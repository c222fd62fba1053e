// Package upload drives the server-controlled chunked upload of an image.
//
// The client submits the payload header, then answers every AppendNeeded
// response with the requested byte range until the service reports a
// terminal status. Exactly one request is outstanding at any time.
package upload

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/lgulliver/ncchup/internal/container"
	"github.com/lgulliver/ncchup/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultMaxAppends bounds the append round-trips of one upload
const DefaultMaxAppends = 1024

// Transport performs a single request/response exchange with the service.
// Errors wrapping ErrProtocolViolation are reported as such; any other
// error is a transport failure.
type Transport interface {
	Submit(ctx context.Context, path string, body []byte) (*types.ServerResponse, error)
}

// State of the upload state machine
type State int

const (
	StateInit State = iota
	StateAwaitingInitialResponse
	StateAwaitingAppendResponse
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaitingInitialResponse:
		return "awaiting_initial_response"
	case StateAwaitingAppendResponse:
		return "awaiting_append_response"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes how an upload ended
type Result struct {
	State      State
	Status     types.Status
	NcchID     string
	SessionID  types.SessionID
	BaseOffset int64

	// Exchanges counts submitted requests, the initial one included
	Exchanges int
	BytesSent int64
}

// Exchange is reported to the exchange hook after each validated response
type Exchange struct {
	Phase     Phase
	SessionID types.SessionID
	Status    types.Status
	Offset    int64
	Len       int64
	BytesSent int64
}

// Client uploads images over a Transport
type Client struct {
	transport  Transport
	maxAppends int
	logger     zerolog.Logger
	onExchange func(Exchange)
}

// Option configures a Client
type Option func(*Client)

// WithMaxAppends sets the bound on append round-trips. Non-positive values keep the default.
func WithMaxAppends(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAppends = n
		}
	}
}

// WithLogger sets the logger for state transitions
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithExchangeHook registers a function called after every validated response
func WithExchangeHook(fn func(Exchange)) Option {
	return func(c *Client) {
		c.onExchange = fn
	}
}

// NewClient creates an upload client
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:  transport,
		maxAppends: DefaultMaxAppends,
		logger:     zerolog.Nop(),
		onExchange: func(Exchange) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// session is the per-upload state threaded through the state machine
type session struct {
	src     container.Source
	base    int64
	id      types.SessionID
	appends int
	result  *Result
}

// Upload runs the protocol for the payload described by layout. The returned
// Result is non-nil even on failure and reflects the progress made.
func (c *Client) Upload(ctx context.Context, src container.Source, layout *container.Layout) (*Result, error) {
	s := &session{
		src:    src,
		base:   layout.BaseOffset,
		result: &Result{State: StateInit, BaseOffset: layout.BaseOffset},
	}

	if len(layout.Header) != container.HeaderSize {
		return c.fail(s, &Error{
			Kind:    KindTruncatedImage,
			Phase:   PhaseInitial,
			Message: fmt.Sprintf("header block is %d bytes, want %d", len(layout.Header), container.HeaderSize),
		})
	}
	if err := ctx.Err(); err != nil {
		return c.fail(s, &Error{Kind: KindCancelled, Phase: PhaseInitial, Err: err})
	}

	c.logger.Debug().Int64("base_offset", s.base).Msg("submitting header block")

	s.result.State = StateAwaitingInitialResponse
	phase := PhaseInitial
	resp, err := c.exchange(ctx, s, phase, types.PostPath, layout.Header)
	if err != nil {
		return c.fail(s, err)
	}

	for {
		if err := c.validate(s, phase, resp); err != nil {
			return c.fail(s, err)
		}

		ex := Exchange{Phase: phase, SessionID: s.id, Status: resp.Status, BytesSent: s.result.BytesSent}
		if resp.Status == types.StatusAppendNeeded {
			ex.Offset, ex.Len = *resp.Offset, *resp.Len
		}
		c.onExchange(ex)

		if resp.Status != types.StatusAppendNeeded {
			return c.finish(s, phase, resp)
		}

		offset, length := *resp.Offset, *resp.Len
		rangeErr := func(kind Kind, msg string, cause error) *Error {
			return &Error{
				Kind: kind, Phase: PhaseAppend, Message: msg, Err: cause,
				SessionID: s.id, Offset: offset, Len: length, HasRange: true,
			}
		}

		if s.appends >= c.maxAppends {
			return c.fail(s, rangeErr(KindProtocolViolation,
				fmt.Sprintf("loop bound exceeded: server still requesting data after %d appends", s.appends), nil))
		}
		if err := ctx.Err(); err != nil {
			return c.fail(s, rangeErr(KindCancelled, "", err))
		}

		chunk, err := c.readChunk(s, offset, length)
		if err != nil {
			if errors.Is(err, container.ErrTruncated) {
				return c.fail(s, rangeErr(KindTruncatedImage, "", err))
			}
			return c.fail(s, rangeErr(KindSourceFailure, "", err))
		}

		c.logger.Debug().
			Str("session_id", string(s.id)).
			Int64("offset", offset).
			Int64("len", length).
			Msg("submitting requested range")

		s.result.State = StateAwaitingAppendResponse
		phase = PhaseAppend
		s.appends++
		resp, err = c.exchange(ctx, s, phase, types.AppendPath(s.id), chunk)
		if err != nil {
			var uerr *Error
			if errors.As(err, &uerr) {
				uerr.Offset, uerr.Len, uerr.HasRange = offset, length, true
			}
			return c.fail(s, err)
		}
	}
}

// exchange submits one body and waits for its response. A cancelled ctx never
// interrupts an exchange in flight; cancellation is observed between exchanges.
func (c *Client) exchange(ctx context.Context, s *session, phase Phase, path string, body []byte) (*types.ServerResponse, error) {
	s.result.Exchanges++
	resp, err := c.transport.Submit(context.WithoutCancel(ctx), path, body)
	if err != nil {
		kind := KindTransportFailure
		if errors.Is(err, ErrProtocolViolation) {
			kind = KindProtocolViolation
		}
		return nil, &Error{Kind: kind, Phase: phase, SessionID: s.id, Err: err}
	}
	if resp == nil {
		return nil, &Error{Kind: KindProtocolViolation, Phase: phase, SessionID: s.id, Message: "empty response"}
	}
	s.result.BytesSent += int64(len(body))
	return resp, nil
}

func (c *Client) validate(s *session, phase Phase, resp *types.ServerResponse) error {
	violation := func(msg string) error {
		return &Error{Kind: KindProtocolViolation, Phase: phase, SessionID: s.id, Status: resp.Status, Message: msg}
	}

	if resp.Status == "" {
		return violation("response missing status")
	}
	if resp.Status != types.StatusAppendNeeded {
		return nil
	}

	switch {
	case resp.SessionID == nil || *resp.SessionID == "":
		return violation("response missing session_id")
	case resp.Offset == nil:
		return violation("response missing offset")
	case resp.Len == nil:
		return violation("response missing len")
	case *resp.Offset < 0 || *resp.Len < 0:
		return violation(fmt.Sprintf("negative range offset=%d len=%d", *resp.Offset, *resp.Len))
	}

	if s.id == "" {
		s.id = *resp.SessionID
		s.result.SessionID = s.id
		c.logger.Debug().Str("session_id", string(s.id)).Msg("session assigned")
	} else if *resp.SessionID != s.id {
		return violation(fmt.Sprintf("session_id changed from %s to %s", s.id, *resp.SessionID))
	}
	return nil
}

func (c *Client) readChunk(s *session, offset, length int64) ([]byte, error) {
	if offset > math.MaxInt64-s.base {
		return nil, fmt.Errorf("%w: offset %#x overflows the image", container.ErrTruncated, offset)
	}
	return container.ReadExact(s.src, s.base+offset, length)
}

func (c *Client) finish(s *session, phase Phase, resp *types.ServerResponse) (*Result, error) {
	s.result.Status = resp.Status
	s.result.NcchID = resp.NcchID

	switch {
	case resp.Status.IsSuccess():
		s.result.State = StateCompleted
		c.logger.Info().
			Str("status", string(resp.Status)).
			Str("ncch_id", resp.NcchID).
			Str("session_id", string(s.id)).
			Int("exchanges", s.result.Exchanges).
			Int64("bytes_sent", s.result.BytesSent).
			Msg("upload completed")
		return s.result, nil
	case resp.Status.IsRejection():
		return c.fail(s, &Error{Kind: KindRejected, Phase: phase, SessionID: s.id, Status: resp.Status})
	default:
		return c.fail(s, &Error{Kind: KindUnknownStatus, Phase: phase, SessionID: s.id, Status: resp.Status})
	}
}

func (c *Client) fail(s *session, err error) (*Result, error) {
	s.result.State = StateFailed
	c.logger.Error().
		Err(err).
		Str("session_id", string(s.id)).
		Int("exchanges", s.result.Exchanges).
		Msg("upload failed")
	return s.result, err
}
