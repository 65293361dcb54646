package domain

import (
	"strings"
	"time"
)

// Sentinels stored in place of fields the listing page did not expose.
const (
	NoName    = "name not found"
	NoAddress = "no address"
	NoPhone   = "no phone"
	NoWebsite = "no website"
	NoEmail   = "no email"
)

// Candidate is an unvalidated record scraped from one listing page.
type Candidate struct {
	Name    string
	Address string
	Phone   string
	Website string
	Email   string
}

// HasWebsite reports whether a real website URL was extracted.
func (c Candidate) HasWebsite() bool {
	return c.Website != "" && c.Website != NoWebsite
}

// Key returns the candidate's dedup key.
func (c Candidate) Key() string { return DedupKey(c.Name, c.Address) }

// Lead is a validated, deduplicated, persisted business record.
type Lead struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Phone       string    `json:"phone"`
	Website     string    `json:"website"`
	Email       string    `json:"email"`
	Country     string    `json:"country"`
	CountryCode string    `json:"country_code"`
	Keyword     string    `json:"keyword"`
	City        string    `json:"city"`
	TaskID      string    `json:"task_id"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Key returns the lead's dedup key.
func (l *Lead) Key() string { return DedupKey(l.Name, l.Address) }

// keySep cannot appear in scraped text, so distinct (name, address) pairs
// never collide after joining.
const keySep = "\x1f"

// DedupKey derives the identity key of a listing from its name and address.
// Matching is exact after trimming surrounding whitespace.
func DedupKey(name, address string) string {
	return strings.TrimSpace(name) + keySep + strings.TrimSpace(address)
}
