package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// Voice gateway close codes that the supervisor treats as transient.
const (
	CodeInvalidSession = 4006
	CodeSessionTimeout = 4009
	CodeKicked         = 4014
)

// Class categorizes a connection failure for the supervisor's retry policy.
type Class int

const (
	ClassInvalidSession Class = iota
	ClassSessionTimeout
	ClassKicked
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassInvalidSession:
		return "invalid_session"
	case ClassSessionTimeout:
		return "session_timeout"
	case ClassKicked:
		return "kicked"
	default:
		return "fatal"
	}
}

// Transient reports whether failures of this class should be retried with
// backoff rather than surfaced immediately.
func (c Class) Transient() bool { return c != ClassFatal }

// ClosedError wraps a transport-level session close with its failure class.
type ClosedError struct {
	Class Class
	Code  int
	Err   error
}

func (e *ClosedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport closed (%s, code=%d): %v", e.Class, e.Code, e.Err)
	}
	return fmt.Sprintf("transport closed (%s, code=%d)", e.Class, e.Code)
}

func (e *ClosedError) Unwrap() error { return e.Err }

// Classify maps an error from a connect attempt to a failure class. The voice
// gateway is a websocket, so a close surfaces as *websocket.CloseError; some
// paths flatten the close into a message string, so fall back to matching the
// code textually.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	var closed *ClosedError
	if errors.As(err, &closed) {
		return closed.Class
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return classFromCode(ce.Code)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "4006"):
		return ClassInvalidSession
	case strings.Contains(msg, "4009"):
		return ClassSessionTimeout
	case strings.Contains(msg, "4014"):
		return ClassKicked
	}
	return ClassFatal
}

func classFromCode(code int) Class {
	switch code {
	case CodeInvalidSession:
		return ClassInvalidSession
	case CodeSessionTimeout:
		return ClassSessionTimeout
	case CodeKicked:
		return ClassKicked
	}
	return ClassFatal
}

// Conn is a live voice session handle owned by exactly one session.
type Conn interface {
	// Ready reports whether the voice handshake has completed and audio is
	// flowing. The supervisor polls this after Connect.
	Ready() bool
	Close() error
}

// IngestFunc receives decoded PCM for one speaker. Implementations must be
// O(1) and non-blocking; it is invoked on the transport's receive goroutine.
type IngestFunc func(room, speaker string, pcm []byte)

// Transport abstracts the streaming voice layer so the supervisor and its
// tests do not depend on a live gateway.
type Transport interface {
	// Connect joins the target in room and returns a handle. The attempt is
	// bounded by ctx.
	Connect(ctx context.Context, room, target string) (Conn, error)

	// Teardown forcibly clears any prior voice session for room on both the
	// client and the remote side.
	Teardown(ctx context.Context, room string) error

	// Rotate forces reassignment of the room's voice endpoint by briefly
	// bridging through a disposable side channel in each region until one
	// succeeds. Side channels are always deleted.
	Rotate(ctx context.Context, room, target string, regions []string) error
}
