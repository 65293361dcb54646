package domain

import "time"

// Status represents the states a scrape task can be in.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrorCode classifies why a task ended in a non-successful terminal state.
type ErrorCode string

const (
	CodeNone                   ErrorCode = ""
	CodePersistenceUnavailable ErrorCode = "persistence_unavailable"
	CodeBrowserUnavailable     ErrorCode = "browser_unavailable"
	CodeInvalidRequest         ErrorCode = "invalid_request"
	CodeInternal               ErrorCode = "internal_error"
	CodeCancelled              ErrorCode = "cancelled"
)

// Task is one orchestrated crawl request spanning keyword × location pairs.
type Task struct {
	ID          string     `json:"task_id"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	LeadsFound  int        `json:"leads_found"`
	Message     string     `json:"message"`
	ErrorCode   ErrorCode  `json:"error_code,omitempty"`
	Keywords    []string   `json:"keywords"`
	Locations   []string   `json:"locations"`
	Parallelism int        `json:"parallel_count"`
	CallbackURL string     `json:"callback_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so snapshots handed to readers never alias
// the registry's record.
func (t *Task) Clone() *Task {
	c := *t
	c.Keywords = append([]string(nil), t.Keywords...)
	c.Locations = append([]string(nil), t.Locations...)
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Advance raises Progress to pct. Lower values are ignored so progress never
// regresses, and values are capped at 100.
func (t *Task) Advance(pct int) {
	if pct > 100 {
		pct = 100
	}
	if pct > t.Progress {
		t.Progress = pct
	}
}

// Finish moves the task into a terminal state. Progress is set to 100 only on
// completion; failures and cancellations keep the last reported value.
func (t *Task) Finish(status Status, code ErrorCode, msg string, at time.Time) {
	t.Status = status
	t.ErrorCode = code
	t.Message = msg
	t.UpdatedAt = at
	t.CompletedAt = &at
	if status == StatusCompleted {
		t.Progress = 100
	}
}
