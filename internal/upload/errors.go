package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lgulliver/ncchup/pkg/types"
)

// Kind categorizes upload failures
type Kind int

const (
	// KindTruncatedImage indicates the image is shorter than a read requires
	KindTruncatedImage Kind = iota

	// KindTransportFailure indicates an exchange with the service could not complete
	KindTransportFailure

	// KindProtocolViolation indicates a malformed response or an exceeded loop bound
	KindProtocolViolation

	// KindUnknownStatus indicates a response status the client does not recognize
	KindUnknownStatus

	// KindRejected indicates the service answered with a documented failure status
	KindRejected

	// KindCancelled indicates the caller cancelled the upload between exchanges
	KindCancelled

	// KindSourceFailure indicates the image could not be read for a reason other than its length
	KindSourceFailure
)

// Sentinels for errors.Is; every *Error unwraps to the sentinel of its kind.
var (
	ErrTruncatedImage    = errors.New("truncated image")
	ErrTransportFailure  = errors.New("transport failure")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrRejected          = errors.New("rejected by server")
	ErrCancelled         = errors.New("cancelled")
	ErrSourceFailure     = errors.New("image read failure")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTruncatedImage:
		return ErrTruncatedImage
	case KindTransportFailure:
		return ErrTransportFailure
	case KindProtocolViolation:
		return ErrProtocolViolation
	case KindUnknownStatus:
		return ErrUnknownStatus
	case KindRejected:
		return ErrRejected
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrSourceFailure
	}
}

func (k Kind) String() string {
	return k.sentinel().Error()
}

// Phase tells which submission an error belongs to
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseAppend
)

func (p Phase) String() string {
	if p == PhaseAppend {
		return "append"
	}
	return "initial"
}

// Error is the terminal failure of an upload. It carries enough context to
// diagnose the failure without re-running the upload.
type Error struct {
	Kind    Kind
	Phase   Phase
	Message string

	// Set once the server assigned a session
	SessionID types.SessionID

	// Requested range relative to the payload base, valid when HasRange is set
	Offset   int64
	Len      int64
	HasRange bool

	// Status of the offending response, if any
	Status types.Status

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upload %s", e.Phase)

	var ctx []string
	if e.SessionID != "" {
		ctx = append(ctx, "session="+string(e.SessionID))
	}
	if e.HasRange {
		ctx = append(ctx, fmt.Sprintf("offset=%#x len=%#x", e.Offset, e.Len))
	}
	if e.Status != "" {
		ctx = append(ctx, "status="+string(e.Status))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, " "))
	}

	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf returns the kind of an upload error
func KindOf(err error) (Kind, bool) {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind, true
	}
	return 0, false
}

// IsCancelled checks if an error indicates cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
