package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateAgency rejects inserting an agency already in the queue.
	ErrDuplicateAgency = errors.New("agency already in distribution queue")
	// ErrUnknownAgency rejects queue operations against an agency with no entry.
	ErrUnknownAgency = errors.New("agency not in distribution queue")
	// ErrNoEligibleAgency means distribution cannot proceed; the caller decides
	// whether to hold the project or escalate. The engine never retries.
	ErrNoEligibleAgency = errors.New("no eligible agency in queue")
	// ErrRankConflict signals a concurrent queue mutation was detected; the
	// whole operation was rolled back and is safe to retry.
	ErrRankConflict = errors.New("queue rank invariant conflict, retry operation")
)

// ValidationError rejects malformed input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
