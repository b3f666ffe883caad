package sts_cal

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput is returned when the servo id is missing or cannot be parsed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCancelled reports that a sweep stopped because its context was cancelled.
	// It never escapes Calibrator.Run, which reports cancellation through Result.
	ErrCancelled = errors.New("calibration cancelled")

	// ErrStallTimeout is returned when a bounded stall wait expires.
	ErrStallTimeout = errors.New("timed out waiting for stall current")
)

// CommunicationError wraps any failed bus operation.
type CommunicationError struct {
	Op  string
	ID  int
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("servo %d: %s: %v", e.ID, e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

func commError(op string, id int, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommunicationError
	if errors.As(err, &ce) {
		return err
	}
	return &CommunicationError{Op: op, ID: id, Err: err}
}

// IsCommunicationError reports whether err was caused by a bus failure.
func IsCommunicationError(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce)
}
