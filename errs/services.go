package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// File store, queue and mail transport errors
var (
	ErrFileIO          = errors.New("file io failed")
	ErrQueueFailure    = errors.New("job could not be enqueued")
	ErrMailDelivery    = errors.New("mail delivery failed")
	ErrUnknownJob      = errors.New("no handler registered for job")
	ErrConfigMissing   = errors.New("configuration missing")
	ErrConfigInvalid   = errors.New("configuration invalid")
	ErrTemplateMissing = errors.New("mail template not found")
)

func NewFileIOError(operation, name string, cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusInternalServerError,
		err:        ErrFileIO,
		Details:    fmt.Sprintf("Failed to %s file %s", operation, name),
		Cause:      cause,
		Field:      "file",
	}
}

func NewQueueError(queue, jobName string, cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusServiceUnavailable,
		err:        ErrQueueFailure,
		Details:    fmt.Sprintf("Failed to enqueue %s on %s", jobName, queue),
		Cause:      cause,
	}
}

func NewMailDeliveryError(provider string, statusCode int, message string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusBadGateway,
		err:        ErrMailDelivery,
		Details:    fmt.Sprintf("%s returned status %d: %s", provider, statusCode, message),
	}
}

func NewConfigError(configName string, cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusInternalServerError,
		err:        ErrConfigMissing,
		Details:    fmt.Sprintf("Configuration error for %s", configName),
		Cause:      cause,
	}
}

func NewInvalidConfigError(configName, value string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusInternalServerError,
		err:        ErrConfigInvalid,
		Details:    fmt.Sprintf("Unsupported value %q for %s", value, configName),
		Field:      configName,
	}
}

func IsFileIOError(err error) bool {
	return errors.Is(err, ErrFileIO)
}

func IsQueueFailure(err error) bool {
	return errors.Is(err, ErrQueueFailure)
}

func IsMailDeliveryError(err error) bool {
	return errors.Is(err, ErrMailDelivery)
}

// QueryDiagnostic is implemented by errors that know which statement failed.
// Background job logging prints the statement next to the error.
type QueryDiagnostic interface {
	error
	DiagnosticQuery() (query string, parameters []any)
}

// QueryError attaches the failing statement and its bound parameters to an error.
type QueryError struct {
	Query      string
	Parameters []any
	Err        error
}

func NewQueryError(query string, parameters []any, err error) *QueryError {
	return &QueryError{Query: query, Parameters: parameters, Err: err}
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) DiagnosticQuery() (string, []any) {
	return e.Query, e.Parameters
}
