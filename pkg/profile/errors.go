package profile

import "errors"

var (
	ErrNotMonitored    = errors.New("user is not monitored")
	ErrProfileNotFound = errors.New("profile not found")
	ErrEmptyBuffer     = errors.New("message buffer is empty")
	// ErrGroupRequired is returned for group-mode monitors without a group.
	ErrGroupRequired = errors.New("group mode needs at least one group id")
)
