package session

import "fmt"

// CapacityExceededError is returned by CreateSession when the active
// registry is already at ManagerConfig.MaxConcurrentSessions.
type CapacityExceededError struct {
	Current int
	Max     int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d/%d active sessions", e.Current, e.Max)
}

func (e *CapacityExceededError) Code() string { return "capacity_exceeded" }

// SessionNotActiveError is returned by ResumeSession on a missing session,
// or by SendCommand after the actor has terminated.
type SessionNotActiveError struct {
	ID string
}

func (e *SessionNotActiveError) Error() string {
	return fmt.Sprintf("session not active: %s", e.ID)
}

func (e *SessionNotActiveError) Code() string { return "session_not_active" }

// SessionAlreadyHasListenerError is returned by the second call to
// TakeEventReceiver on a session.
type SessionAlreadyHasListenerError struct {
	ID string
}

func (e *SessionAlreadyHasListenerError) Error() string {
	return fmt.Sprintf("session already has an event listener: %s", e.ID)
}

func (e *SessionAlreadyHasListenerError) Code() string { return "session_already_has_listener" }

// CreationFailedError wraps a transient setup failure while constructing a
// ManagedSession (registry build, workspace construction, initial restore).
type CreationFailedError struct {
	Reason string
	Cause  error
}

func (e *CreationFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session creation failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("session creation failed: %s", e.Reason)
}

func (e *CreationFailedError) Code() string { return "creation_failed" }

func (e *CreationFailedError) Unwrap() error { return e.Cause }

// StorageError wraps any persistence operation failure surfaced to a
// command-path caller.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error: %v", e.Cause) }

func (e *StorageError) Code() string { return "storage" }

func (e *StorageError) Unwrap() error { return e.Cause }
