package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrTerminalState = errors.New("record already in terminal state")
	ErrReferential   = errors.New("referenced entity does not exist")
)

// NetworkError reports an unreachable extraction endpoint or a non-success
// response. StatusCode is zero when no response was received.
type NetworkError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		msg := fmt.Sprintf("extraction endpoint %s returned %d", e.Endpoint, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	}
	return fmt.Sprintf("extraction endpoint %s failed: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// MalformedResponseError carries the undecodable payload so a reviewer can
// edit and re-submit it.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed extraction response (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ValidationError marks a single decoded element that failed minimal
// validation. Index is the element's 1-based position.
type ValidationError struct {
	Index int
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("item %d: %s", e.Index, e.Msg)
	}
	return fmt.Sprintf("item %d: %s %s", e.Index, e.Field, e.Msg)
}

// ReferentialError is returned when a resolve target no longer exists.
type ReferentialError struct {
	Entity string
	ID     int64
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("%s %d does not exist", e.Entity, e.ID)
}

func (e *ReferentialError) Is(target error) bool { return target == ErrReferential }

// NotFoundError is returned for unknown pending ids and for records that
// already reached a terminal status. The latter also match ErrTerminalState.
type NotFoundError struct {
	ID     int64
	Status PendingStatus // empty when the id is unknown
}

func (e *NotFoundError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("pending record %d is already %s", e.ID, e.Status)
	}
	return fmt.Sprintf("pending record %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	return target == ErrTerminalState && e.Status.Terminal()
}
