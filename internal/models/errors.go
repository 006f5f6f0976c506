package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConfig       = errors.New("configuration error")
	ErrNotFound     = errors.New("not found")
	ErrIO           = errors.New("i/o error")
	ErrUpload       = errors.New("upload error")
	ErrIntegrity    = errors.New("integrity error")
	ErrNotification = errors.New("notification error")
)

// BackupError is an error raised by one of the pipeline stages.
type BackupError struct {
	Kind error  // one of the Err* kinds above
	Op   string // operation that failed, e.g. "copy" or "upload"
	Path string // file, key or bucket involved, if any
	Msg  string
	Err  error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *BackupError) Error() string {
	msg := e.Msg
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *BackupError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path, msg string, cause error) *BackupError {
	return &BackupError{Kind: kind, Op: op, Path: path, Msg: msg, Err: cause}
}

// NewConfigError reports missing or invalid configuration.
func NewConfigError(op, msg string, cause error) *BackupError {
	return newError(ErrConfig, op, "", msg, cause)
}

// NewNotFoundError reports an expected local file that is absent.
func NewNotFoundError(op, path, msg string) *BackupError {
	return newError(ErrNotFound, op, path, msg, nil)
}

// NewIOError reports a local filesystem failure.
func NewIOError(op, path, msg string, cause error) *BackupError {
	return newError(ErrIO, op, path, msg, cause)
}

// NewUploadError reports an operation the object store rejected.
func NewUploadError(op, path, msg string, cause error) *BackupError {
	return newError(ErrUpload, op, path, msg, cause)
}

// NewIntegrityError reports a digest mismatch between local and remote archives.
func NewIntegrityError(op, path, msg string) *BackupError {
	return newError(ErrIntegrity, op, path, msg, nil)
}

// NewNotificationError reports an SMTP failure.
func NewNotificationError(op, msg string, cause error) *BackupError {
	return newError(ErrNotification, op, "", msg, cause)
}
