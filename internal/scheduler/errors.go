package scheduler

import "errors"

var (
	// ErrUnknownFunc is returned for a work item whose name has no registered handler.
	ErrUnknownFunc = errors.New("unknown work item function")

	// ErrQueueUnavailable wraps queue backend failures seen during submission.
	ErrQueueUnavailable = errors.New("queue backend unavailable")
)
