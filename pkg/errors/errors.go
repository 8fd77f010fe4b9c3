package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrParse             = errors.New("parse error")
	ErrSortOrder         = errors.New("sort order violation")
	ErrLookupMiss        = errors.New("lookup miss")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrStorage           = errors.New("storage error")
	ErrTimeout           = errors.New("operation timed out")
	ErrEmptyCorpus       = errors.New("corpus is empty")
	ErrVocabularyIndex   = errors.New("vocabulary term_index is not dense")
	ErrInvalidInput      = errors.New("invalid input")
)

// Exit codes returned by the CLI.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitEmptyCorpus = 2
	ExitSortOrder   = 3
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Storage wraps a store failure so callers can match it with errors.Is.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// ParseError describes one rejected input line. It matches ErrParse.
type ParseError struct {
	Line   int
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, truncate(e.Input, 80))
	}
	return fmt.Sprintf("%s: %q", e.Reason, truncate(e.Input, 80))
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmptyCorpus):
		return http.StatusNotFound
	case errors.Is(err, ErrStorage), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrEmptyCorpus):
		return ExitEmptyCorpus
	case errors.Is(err, ErrSortOrder):
		return ExitSortOrder
	default:
		return ExitFailure
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
