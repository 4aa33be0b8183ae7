package model

import (
	"errors"
	"fmt"
)

// Errors shared by the store, repository, codec and sync layers.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, model.ErrStorageWrite) {
//	    // show "save failed"
//	}
var (
	// ErrStorageRead is matched by read failures of a persisted document.
	// Missing and corrupt documents resolve to defaults and never surface.
	ErrStorageRead = errors.New("storage read failed")

	// ErrStorageWrite is matched by failed document writes. The caller
	// decides whether to retry; nothing retries automatically.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrChannelNotReady is returned by a peer channel that is not open.
	// Outbound messages are dropped, not queued.
	ErrChannelNotReady = errors.New("peer channel not ready")

	// ErrDecode is returned for a malformed import token or peer frame.
	ErrDecode = errors.New("malformed course code")

	// ErrReferentialMiss is returned when an operation names a course or
	// hole that no longer exists. Mutations treat it as a no-op.
	ErrReferentialMiss = errors.New("course or hole not found")

	// ErrInvalid is returned for records or patches that break an invariant.
	ErrInvalid = errors.New("invalid record")

	// ErrNoActiveCourse is returned when an operation needs an active course.
	ErrNoActiveCourse = errors.New("no active course")

	// ErrNoFix is returned when marking without a position fix.
	ErrNoFix = errors.New("no position fix")
)

// Storage operations recorded on a StorageError.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// StorageError describes a failed document read or write.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s document %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches ErrStorageRead or ErrStorageWrite according to Op.
func (e *StorageError) Is(target error) bool {
	switch target {
	case ErrStorageRead:
		return e.Op == OpRead
	case ErrStorageWrite:
		return e.Op == OpWrite
	}
	return false
}

// Kind classifies an error into the taxonomy a caller renders.
type Kind int

const (
	KindNone Kind = iota
	KindStorageRead
	KindStorageWrite
	KindChannelNotReady
	KindDecode
	KindReferentialMiss
	KindInvalid
	KindNoActiveCourse
	KindNoFix
	KindUnknown
)

// String returns a short identifier for the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindStorageRead:
		return "storage-read"
	case KindStorageWrite:
		return "storage-write"
	case KindChannelNotReady:
		return "channel-not-ready"
	case KindDecode:
		return "decode"
	case KindReferentialMiss:
		return "referential-miss"
	case KindInvalid:
		return "invalid"
	case KindNoActiveCourse:
		return "no-active-course"
	case KindNoFix:
		return "no-fix"
	default:
		return "unknown"
	}
}

// UserMessage returns the short status a UI shows for the kind.
func (k Kind) UserMessage() string {
	switch k {
	case KindNone:
		return ""
	case KindStorageRead:
		return "load failed"
	case KindStorageWrite:
		return "save failed"
	case KindChannelNotReady:
		return "phone not connected"
	case KindDecode:
		return "invalid code"
	case KindReferentialMiss:
		return "course not found"
	case KindInvalid:
		return "invalid data"
	case KindNoActiveCourse:
		return "no course selected"
	case KindNoFix:
		return "no signal"
	default:
		return "error"
	}
}

// KindOf classifies err. Wrapped errors are unwrapped.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrStorageWrite):
		return KindStorageWrite
	case errors.Is(err, ErrStorageRead):
		return KindStorageRead
	case errors.Is(err, ErrChannelNotReady):
		return KindChannelNotReady
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrReferentialMiss):
		return KindReferentialMiss
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	case errors.Is(err, ErrNoActiveCourse):
		return KindNoActiveCourse
	case errors.Is(err, ErrNoFix):
		return KindNoFix
	default:
		return KindUnknown
	}
}

// IsRetryable returns true if repeating the operation may succeed.
// Storage failures and a closed channel are transient; bad input is not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindStorageRead, KindStorageWrite, KindChannelNotReady, KindNoFix:
		return true
	}
	return false
}
