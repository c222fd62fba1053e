package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Endpoint paths of the processing service
const (
	PostPath       = "/post_ncch"
	appendPathBase = "/append_ncch/"
)

// AppendPath returns the append endpoint addressed by a session id
func AppendPath(id SessionID) string {
	return appendPathBase + url.PathEscape(string(id))
}

// Status is the "status" tag of a service response
type Status string

const (
	StatusAppendNeeded        Status = "AppendNeeded"
	StatusFinished            Status = "Finished"
	StatusAlreadyFinished     Status = "AlreadyFinished"
	StatusConflict            Status = "Conflict"
	StatusUnexpectedLength    Status = "UnexpectedLength"
	StatusUnexpectedFormat    Status = "UnexpectedFormat"
	StatusVerificationFailed  Status = "VerificationFailed"
	StatusBusy                Status = "Busy"
	StatusInternalServerError Status = "InternalServerError"
	StatusNotFound            Status = "NotFound"

	// StatusDone is accepted as a generic completion value
	StatusDone Status = "Done"
)

// IsSuccess reports whether the status ends an upload successfully.
// Conflict means the same image is already indexed.
func (s Status) IsSuccess() bool {
	switch s {
	case StatusFinished, StatusAlreadyFinished, StatusConflict, StatusDone:
		return true
	}
	return false
}

// IsRejection reports whether the status is a documented service failure
func (s Status) IsRejection() bool {
	switch s {
	case StatusUnexpectedLength, StatusUnexpectedFormat, StatusVerificationFailed,
		StatusBusy, StatusInternalServerError, StatusNotFound:
		return true
	}
	return false
}

// SessionID is the opaque session token assigned by the service.
// It decodes from either a JSON integer or a JSON string.
type SessionID string

// UnmarshalJSON implements json.Unmarshaler
func (id *SessionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}
		if s == "" {
			return fmt.Errorf("invalid session id: empty string")
		}
		*id = SessionID(s)
		return nil
	}

	if _, err := strconv.ParseInt(string(data), 10, 64); err != nil {
		if _, uerr := strconv.ParseUint(string(data), 10, 64); uerr != nil {
			return fmt.Errorf("invalid session id %s: not an integer or string", data)
		}
	}
	*id = SessionID(data)
	return nil
}

// MarshalJSON implements json.Marshaler. Numeric ids are written as numbers.
func (id SessionID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// ServerResponse is the structured reply to every submission.
// Pointer fields distinguish a missing field from a zero value.
type ServerResponse struct {
	Status    Status     `json:"status"`
	SessionID *SessionID `json:"session_id,omitempty"`
	Offset    *int64     `json:"offset,omitempty"`
	Len       *int64     `json:"len,omitempty"`
	NcchID    string     `json:"ncch_id,omitempty"`
}

// AppendNeeded builds a response requesting len bytes at offset
func AppendNeeded(id SessionID, offset, length int64) *ServerResponse {
	return &ServerResponse{
		Status:    StatusAppendNeeded,
		SessionID: &id,
		Offset:    &offset,
		Len:       &length,
	}
}

// Terminal builds a response that ends the upload
func Terminal(status Status, ncchID string) *ServerResponse {
	return &ServerResponse{Status: status, NcchID: ncchID}
}

// DecodeResponse parses a response body
func DecodeResponse(body []byte) (*ServerResponse, error) {
	var resp ServerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

func (r *ServerResponse) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.Status == StatusAppendNeeded && r.SessionID != nil && r.Offset != nil && r.Len != nil {
		return fmt.Sprintf("%s(session=%s, offset=%d, len=%d)", r.Status, *r.SessionID, *r.Offset, *r.Len)
	}
	if r.NcchID != "" {
		return fmt.Sprintf("%s(ncch_id=%s)", r.Status, r.NcchID)
	}
	return string(r.Status)
}
