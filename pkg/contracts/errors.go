package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed directives rejected before a session exists.
	ErrValidation = errors.New("validation error")
	// ErrQuorumMisconfiguration marks k > registered nodes at startup.
	ErrQuorumMisconfiguration = errors.New("quorum misconfiguration")
	// ErrTimeout marks node calls cut off by the session deadline.
	ErrTimeout = errors.New(TimeoutError)
	// ErrCanceled marks node calls cut off because the caller went away.
	ErrCanceled = errors.New(CanceledError)
	// ErrSessionNotFound is returned by status queries for unknown ids.
	ErrSessionNotFound = errors.New("session not found")
)

// ValidationError describes a rejected directive field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid directive %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// QuorumMisconfigurationError is fatal at startup.
type QuorumMisconfigurationError struct {
	Required   int
	Registered int
}

func (e *QuorumMisconfigurationError) Error() string {
	return fmt.Sprintf("required quorum k=%d exceeds %d registered nodes", e.Required, e.Registered)
}

func (e *QuorumMisconfigurationError) Unwrap() error { return ErrQuorumMisconfiguration }

// NodeCallError wraps a capability failure. It is captured into an ABSTAIN
// vote and never returned to callers.
type NodeCallError struct {
	NodeID string
	Err    error
}

func (e *NodeCallError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeCallError) Unwrap() error { return e.Err }

// AuditWriteError is logged by the audit sink and never escalated.
type AuditWriteError struct {
	SessionID string
	Attempt   int
	Err       error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write for session %s failed (attempt %d): %v", e.SessionID, e.Attempt, e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }
