package session

import "errors"

var (
	// ErrReplyTimeout is returned by Expectation.Wait when no reply arrived in time.
	ErrReplyTimeout = errors.New("session: reply timed out")
	// ErrReplyCancelled is returned by Expectation.Wait when the expectation
	// was cancelled or superseded by a newer one for the same session.
	ErrReplyCancelled = errors.New("session: reply wait cancelled")
	// ErrInvalidTransition rejects a state change that would break the
	// pending/state pairing (for example awaiting IDLE or awaiting without a pending edit).
	ErrInvalidTransition = errors.New("session: invalid state transition")
)
