// Package errs defines the Auctioneer's error taxonomy: Fatal,
// PerAuctionTerminal, PerAuctionRetryable, and Ignored, per spec §7. It
// plays the role the teacher's errs package plays for go-ethereum: a small,
// central place callers can ask "how bad is this?" without string-matching
// error messages.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error by the policy the Driver or AuctionManager
// should apply to it.
type Kind int

const (
	// Fatal errors terminate the Driver: a required input stream closed,
	// the signer is unavailable, configuration was invalid.
	Fatal Kind = iota
	// PerAuctionTerminal ends a single auction with an error but never
	// touches the Driver or any other auction.
	PerAuctionTerminal
	// PerAuctionRetryable is retried within a bounded policy; on
	// exhaustion it escalates to PerAuctionTerminal.
	PerAuctionRetryable
	// Ignored errors are logged at warn and dropped: stale events for an
	// unknown auction id, a bundle rejected for a parent-hash mismatch, a
	// full bid queue.
	Ignored
)

func (k Kind) String() string {
	switch k {
	case Fatal:
		return "fatal"
	case PerAuctionTerminal:
		return "per_auction_terminal"
	case PerAuctionRetryable:
		return "per_auction_retryable"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Error is an error tagged with a Kind so a caller several frames away from
// where it was raised can still decide how to react to it.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// New wraps cause with the given Kind, formatting the message with
// errors.Wrap so the resulting error retains a stack trace.
func New(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, cause: errors.Wrap(cause, msg)}
}

// Newf is New with a formatted message.
func Newf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Wrap(cause, fmt.Sprintf(format, args...))}
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// Ignored for the NoSuchAuction/QueueFull/AlreadySignaled sentinels, and
// PerAuctionTerminal otherwise — the conservative default for an error of
// unknown provenance reached during a single auction's lifetime.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	if errors.Is(err, NoSuchAuction) || errors.Is(err, QueueFull) || errors.Is(err, AlreadySignaled) {
		return Ignored
	}
	return PerAuctionTerminal
}

// IsFatal reports whether err is classified Fatal.
func IsFatal(err error) bool { return KindOf(err) == Fatal }

// NoSuchAuction is returned by AuctionManager lookups when no worker is
// registered for the given id. It is always Ignored: the Driver logs it at
// warn and moves on, per spec §4.2.
var NoSuchAuction = errors.New("no such auction")

// QueueFull is returned when a worker's bounded bid-ingress queue rejects a
// send. Always Ignored.
var QueueFull = errors.New("bid queue full")

// AlreadySignaled is returned when a one-shot signal (start_bids,
// start_timer, abort) is sent to a worker a second time. Spec invariant I1.
var AlreadySignaled = errors.New("signal already sent for this auction")
