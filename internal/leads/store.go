// Package leads defines the lead store contract shared by the Postgres and
// SQLite backends.
package leads

import (
	"context"
	"strings"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
	// TaskLeadsLimit caps the leads returned for one task.
	TaskLeadsLimit = 1000
)

// Store persists leads and finished task snapshots.
type Store interface {
	Insert(ctx context.Context, lead *domain.Lead) error
	// ExistingKeys returns the dedup key of every stored lead.
	ExistingKeys(ctx context.Context) ([]string, error)
	List(ctx context.Context, f Filter) (*Page, error)
	ByTask(ctx context.Context, taskID string, limit int) ([]*domain.Lead, error)
	// Delete removes one lead or returns *domain.LeadNotFoundError.
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int, error)
	Stats(ctx context.Context) (*Stats, error)
	Keywords(ctx context.Context) ([]string, error)

	RecordTask(ctx context.Context, task *domain.Task) error
	ListTasks(ctx context.Context, limit int) ([]*domain.Task, error)

	Ping(ctx context.Context) error
	Close() error
}

// Filter selects a page of leads, newest first.
type Filter struct {
	Page  int
	Limit int
	// Search matches name, city or address case-insensitively.
	Search  string
	Keyword string
}

// Normalize fills defaults and clamps the page window.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	f.Search = strings.TrimSpace(f.Search)
	f.Keyword = strings.TrimSpace(f.Keyword)
	return f
}

// Offset is the number of rows skipped before the page.
func (f Filter) Offset() int { return (f.Page - 1) * f.Limit }

// Page is one window of a lead listing.
type Page struct {
	Leads []*domain.Lead `json:"leads"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Pages int            `json:"pages"`
}

// NewPage assembles a Page for a normalized filter.
func NewPage(leads []*domain.Lead, total int, f Filter) *Page {
	if leads == nil {
		leads = []*domain.Lead{}
	}
	return &Page{
		Leads: leads,
		Total: total,
		Page:  f.Page,
		Limit: f.Limit,
		Pages: (total + f.Limit - 1) / f.Limit,
	}
}

// Stats summarizes the stored corpus.
type Stats struct {
	TotalLeads     int     `json:"total_leads"`
	LocationsCount int     `json:"locations_count"`
	KeywordsCount  int     `json:"keywords_count"`
	TasksTotal     int     `json:"tasks_total"`
	TasksCompleted int     `json:"tasks_completed"`
	SuccessRate    float64 `json:"success_rate"`
}

// FinishRate sets SuccessRate from the task counters.
func (s *Stats) FinishRate() {
	if s.TasksTotal == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.TasksCompleted) / float64(s.TasksTotal)
}
