package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// TaskTerminalError is returned when an update targets a task that already
// reached a terminal state.
type TaskTerminalError struct {
	TaskID string
	Status Status
}

func (e *TaskTerminalError) Error() string {
	return fmt.Sprintf("task %s already finished with status %s", e.TaskID, e.Status)
}

// LeadNotFoundError is returned when a lead ID does not exist.
type LeadNotFoundError struct {
	LeadID string
}

func (e *LeadNotFoundError) Error() string {
	return fmt.Sprintf("lead not found: %s", e.LeadID)
}

// InvalidRequestError is returned when a scrape request is malformed.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid scrape request: " + e.Reason
}

// PersistenceError wraps a failure of the lead store. It escalates a task to
// failed because no further lead can be saved.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("lead store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BrowserError wraps a failure to start or drive the browser session for a
// single query.
type BrowserError struct {
	Op  string
	Err error
}

func (e *BrowserError) Error() string {
	return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
}

func (e *BrowserError) Unwrap() error { return e.Err }
