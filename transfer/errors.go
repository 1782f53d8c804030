// Package transfer implements the upload and download coordinators that
// move a filtered byte stream to and from an archival store.
//
// This file defines sentinel errors and the typed Error wrapper used to
// classify transfer failures. Callers use errors.Is(err, ErrXxx) rather
// than string matching.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
)

// Sentinel errors for transfer failure classification.
var (
	// ErrConfiguration indicates invalid settings detected before any remote call.
	ErrConfiguration = errors.New("configuration error")

	// ErrPartUpload indicates a part was rejected or its upload call failed.
	ErrPartUpload = errors.New("part upload failed")

	// ErrChecksum indicates a tree hash could not be computed or did not verify.
	ErrChecksum = errors.New("checksum error")

	// ErrCancelled indicates the transfer was aborted by the user.
	ErrCancelled = errors.New("aborted by user")

	// ErrJobFailed indicates the store reported the retrieval job as failed.
	ErrJobFailed = errors.New("retrieval job failed")

	// ErrRemote indicates a session-level remote call failed.
	ErrRemote = errors.New("remote store error")
)

// Error wraps an underlying error with transfer classification.
type Error struct {
	// Kind is the sentinel error for classification (e.g., ErrPartUpload).
	Kind error
	// Op is the operation that failed (e.g., "initiate", "upload_part").
	Op string
	// Session is the upload session or retrieval job involved, if any.
	Session string
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Session != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Session, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewError creates a classified transfer error.
func NewError(kind error, op, session string, err error) *Error {
	return &Error{Kind: kind, Op: op, Session: session, Err: err}
}

// ConfigError creates an ErrConfiguration error with a formatted message.
func ConfigError(op, format string, args ...any) *Error {
	return NewError(ErrConfiguration, op, "", fmt.Errorf(format, args...))
}

// transientChecks classifies failures the way the AWS SDK retryer does,
// plus HTTP 429 and the 5xx error codes S3 and Glacier return.
var transientChecks = retry.IsErrorRetryables(append(slices.Clone(retry.DefaultRetryables),
	retry.RetryableHTTPStatusCode{Codes: map[int]struct{}{http.StatusTooManyRequests: {}}},
	retry.RetryableErrorCode{Codes: map[string]struct{}{
		"InternalError":               {},
		"ServiceUnavailable":          {},
		"ServiceUnavailableException": {},
	}},
))

// IsTransient reports whether err is a failure worth retrying: throttling,
// timeouts, 5xx responses and connection errors. API errors are classified
// by their typed error code and HTTP status, so request ids and messages
// cannot make a permanent error look transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return transientChecks.IsErrorRetryable(err) == aws.TrueTernary
}
