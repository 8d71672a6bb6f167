// Package feed abstracts a remote change feed as a lazy, pull-based event
// source. The remote protocol is a black box here: implementations expose
// Open/Next/Close and classify their failures into the kinds the reconnect
// supervisor understands.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"feedwatch/internal/watcher/events"
	"feedwatch/internal/watcher/filter"
)

// ErrEndOfStream is returned by Next when the remote source terminated the
// stream without an error, e.g. after a collection drop invalidated it.
var ErrEndOfStream = errors.New("feed: end of stream")

// Kind classifies a connection failure.
type Kind int

const (
	// KindUnreachable covers transient transport failures. Retryable.
	KindUnreachable Kind = iota

	// KindAuthFailed means the feed rejected our credentials.
	KindAuthFailed

	// KindInvalidFilter means the subscription filter was rejected.
	KindInvalidFilter

	// KindTokenExpired means the requested resume position fell off the
	// feed's retention window. The supervisor restarts from "now".
	KindTokenExpired
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindAuthFailed:
		return "auth_failed"
	case KindInvalidFilter:
		return "invalid_filter"
	case KindTokenExpired:
		return "token_expired"
	default:
		return "unknown"
	}
}

// ConnectError is a classified feed failure.
type ConnectError struct {
	Kind Kind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("feed connect failed (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsTokenExpired reports whether err is a token-expired connect failure.
func IsTokenExpired(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == KindTokenExpired
}

// IsRetryable reports whether err is worth retrying at all. Auth and filter
// failures will not heal on their own.
func IsRetryable(err error) bool {
	var ce *ConnectError
	if !errors.As(err, &ce) {
		return true
	}
	return ce.Kind == KindUnreachable || ce.Kind == KindTokenExpired
}

// OpenOptions configures a single subscription.
type OpenOptions struct {
	// Filter is applied server-side before events reach the watcher.
	// Static for the lifetime of the connection.
	Filter filter.Spec

	// ResumeAfter resumes the feed just after this position. Nil starts
	// from "now" (or from the oldest retained position with FromStart).
	ResumeAfter events.ResumeToken

	// FromStart replays from the feed's oldest retained position when no
	// resume token is given. First-run bootstrap only.
	FromStart bool
}

// EventSource is a lazy, infinite sequence of change events. A source is
// restartable only by a new Open call.
type EventSource interface {
	// Next blocks until the next event, the context is cancelled, or the
	// stream fails. Failures come back classified as *ConnectError, or as
	// ErrEndOfStream when the remote closed the stream cleanly.
	Next(ctx context.Context) (*events.ChangeEvent, error)

	// Close releases the underlying stream. Idempotent, safe in any state.
	Close() error
}

// Source opens subscriptions against the remote feed.
type Source interface {
	Open(ctx context.Context, opts OpenOptions) (EventSource, error)
}

// MongoDB server error codes observed for expired or unresumable tokens.
const (
	codeChangeStreamHistoryLost = 286
	codeCappedPositionLost      = 136
	codeUnauthorized            = 13
	codeAuthenticationFailed    = 18
)

// Classify wraps err in a ConnectError with the failure kind. Already
// classified errors pass through unchanged.
func Classify(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}

	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		switch {
		case srvErr.HasErrorCode(codeChangeStreamHistoryLost),
			srvErr.HasErrorCode(codeCappedPositionLost):
			return &ConnectError{Kind: KindTokenExpired, Err: err}
		case srvErr.HasErrorCode(codeUnauthorized),
			srvErr.HasErrorCode(codeAuthenticationFailed):
			return &ConnectError{Kind: KindAuthFailed, Err: err}
		}
	}

	switch {
	case matchesAny(err, tokenExpiredMessages):
		return &ConnectError{Kind: KindTokenExpired, Err: err}
	case matchesAny(err, authMessages):
		return &ConnectError{Kind: KindAuthFailed, Err: err}
	case matchesAny(err, filterMessages):
		return &ConnectError{Kind: KindInvalidFilter, Err: err}
	default:
		// Transient transport failures and anything unknown: retry.
		return &ConnectError{Kind: KindUnreachable, Err: err}
	}
}

// Error message fragments, matched case-insensitively. The driver does not
// expose typed errors for all of these.
var (
	tokenExpiredMessages = []string{
		"resume token was not found",
		"resume point may no longer be in the oplog",
		"ChangeStreamHistoryLost",
		"ChangeStreamFatalError",
	}
	authMessages = []string{
		"auth error",
		"authentication failed",
		"not authorized",
		"unauthorized",
	}
	filterMessages = []string{
		"unrecognized pipeline stage",
		"unknown top level operator",
		"invalid $match",
		"FailedToParse",
	}
)

func matchesAny(err error, fragments []string) bool {
	msg := strings.ToLower(err.Error())
	for _, f := range fragments {
		if strings.Contains(msg, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
