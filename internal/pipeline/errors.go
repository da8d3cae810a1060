package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Class decides what the orchestrator does with a failed job.
type Class int

const (
	// Permanent fails the job without retry.
	Permanent Class = iota
	// Transient is retried with backoff up to the attempt limit.
	Transient
	// Fatal fails the job and halts its whole run.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "permanent"
	}
}

// Kind names the error site.
type Kind string

const (
	KindNoTimestamps  Kind = "no_timestamps"
	KindAlignment     Kind = "alignment"
	KindExtraction    Kind = "extraction"
	KindDownload      Kind = "download"
	KindTranscription Kind = "transcription"
	KindSizeLimit     Kind = "size_limit"
	KindNoTranscript  Kind = "no_transcript"
	KindMalformedURL  Kind = "malformed_url"
	KindCancelled     Kind = "cancelled"
	KindAuth          Kind = "auth"
	KindRateLimited   Kind = "rate_limited"
	KindTimeout       Kind = "timeout"
	KindExport        Kind = "export"
	KindInternal      Kind = "internal"
)

// Error is a classified job-level error.
type Error struct {
	Kind  Kind
	Class Class
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Class: class, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, class Class, format string, args ...any) error {
	return &Error{Kind: kind, Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf returns the class of err. Unclassified errors are Permanent except
// deadline expiry, which is Transient.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Permanent
}

// KindOf returns the kind of err, or KindInternal when unclassified.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// ContextError classifies a context error: cancellation is a Permanent
// KindCancelled, expiry a Transient KindTimeout.
func ContextError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Class: Transient, Err: err}
	}
	return &Error{Kind: KindCancelled, Class: Permanent, Err: err}
}
