package executor

import (
	"errors"
	"fmt"
)

// Job error codes.
const (
	CodeClassification = "CLASSIFICATION_ERROR"
	CodeLedger         = "LEDGER_ERROR"
	CodeTimeout        = "TIMEOUT"
	CodeStore          = "STORE_ERROR"
	CodeUnknown        = "UNKNOWN_ERROR"
)

// ErrTimeout is returned for attempts that exceed the job timeout.
var ErrTimeout = errors.New("job timed out")

// stepError tags an error with the job error code it maps to.
type stepError struct {
	code string
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func withCode(code string, format string, err error) error {
	return &stepError{code: code, err: fmt.Errorf(format+": %w", err)}
}

// Code returns the job error code for err.
func Code(err error) string {
	if errors.Is(err, ErrTimeout) {
		return CodeTimeout
	}
	var se *stepError
	if errors.As(err, &se) {
		return se.code
	}
	return CodeUnknown
}
