package models

import (
	"fmt"
	"strings"
)

// ValidationError - the request is malformed. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError - the gateway reports no such resource
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// BrokerError - the venue rejected or failed a call. Reason carries the
// upstream message verbatim.
type BrokerError struct {
	Op     string
	Status int
	Reason string
	Err    error
}

func (e *BrokerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("broker %s failed (%d): %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("broker %s failed: %s", e.Op, e.Reason)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// PartialBracketError - the entry order is live but at least one exit leg
// could not be placed. The entry is left open for the caller to handle.
type PartialBracketError struct {
	EntryOrderID string
	PlacedLegIDs []string
	MissingLegs  []string
	Err          error
}

func (e *PartialBracketError) Error() string {
	return fmt.Sprintf("swing trade partially placed: entry %s is live, missing legs [%s]: %v",
		e.EntryOrderID, strings.Join(e.MissingLegs, ", "), e.Err)
}

func (e *PartialBracketError) Unwrap() error {
	return e.Err
}
