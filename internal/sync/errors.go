package sync

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed sync for callers
type ErrorKind string

const (
	KindPathNotFound       ErrorKind = "PathNotFound"
	KindRepositoryNotFound ErrorKind = "RepositoryNotFound"
	KindRemoteUnavailable  ErrorKind = "RemoteUnavailable"
	KindMergeFailure       ErrorKind = "MergeFailure"
	KindDomainNotAllowed   ErrorKind = "DomainNotAllowed"
	KindFiletypeNotAllowed ErrorKind = "FiletypeNotAllowed"
	KindInvalidRequest     ErrorKind = "InvalidRequest"
	KindInternalError      ErrorKind = "InternalError"
)

// Sentinel errors wrapped by the engine's internal steps
var (
	ErrPathNotFound       = errors.New("path not found on remote branch")
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrRemoteUnavailable  = errors.New("remote unavailable")
	ErrMergeFailure       = errors.New("merge failed")
	ErrDomainNotAllowed   = errors.New("domain not allowed")
	// ErrFiletypeNotAllowed is reserved for the single-file download path, which this module does not serve
	ErrFiletypeNotAllowed = errors.New("file type not allowed")
	ErrInvalidRequest     = errors.New("invalid request")
)

var kindsBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrDomainNotAllowed, KindDomainNotAllowed},
	{ErrFiletypeNotAllowed, KindFiletypeNotAllowed},
	{ErrPathNotFound, KindPathNotFound},
	{ErrRepositoryNotFound, KindRepositoryNotFound},
	{ErrRemoteUnavailable, KindRemoteUnavailable},
	{ErrMergeFailure, KindMergeFailure},
}

// Error is the caller-safe description of a failed sync. It never carries
// raw git diagnostics.
type Error struct {
	Kind        ErrorKind
	Detail      string
	RecoveryURL string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Classify maps an internal error to its kind. Unrecognized errors are
// internal errors.
func Classify(err error) ErrorKind {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	for _, k := range kindsBySentinel {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternalError
}

// PublicMessage returns the message shown to users for kind
func PublicMessage(kind ErrorKind) string {
	switch kind {
	case KindPathNotFound:
		return "The requested file or folder does not exist in the repository."
	case KindRepositoryNotFound:
		return "Could not find the requested repository."
	case KindRemoteUnavailable:
		return "Could not reach the remote repository. Please try again later."
	case KindMergeFailure:
		return "Could not merge the latest changes into your copy of the repository."
	case KindDomainNotAllowed:
		return "Pulling from this domain is not allowed."
	case KindFiletypeNotAllowed:
		return "Pulling this file type is not allowed."
	case KindInvalidRequest:
		return "Looks like your request was malformed."
	default:
		return "Something went wrong while pulling the repository."
	}
}

// newError builds the caller-safe error for err. Only the missing path of a
// PathNotFound failure is echoed back, since it came from the caller.
func newError(err error, recoveryURL string) *Error {
	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr
	}

	kind := Classify(err)
	detail := PublicMessage(kind)
	var missing *missingPathError
	if errors.As(err, &missing) {
		detail = fmt.Sprintf("%s (%s)", detail, missing.path)
	}
	return &Error{Kind: kind, Detail: detail, RecoveryURL: recoveryURL}
}

// missingPathError names the first requested path absent upstream
type missingPathError struct {
	path   string
	branch string
}

func (e *missingPathError) Error() string {
	return fmt.Sprintf("%s:%s: %v", e.branch, e.path, ErrPathNotFound)
}

func (e *missingPathError) Unwrap() error {
	return ErrPathNotFound
}
