// Package sqlite is the embedded lead store used when no Postgres DSN is
// configured.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/leads"
)

const schema = `
CREATE TABLE IF NOT EXISTS leads (
    id           TEXT    PRIMARY KEY,
    name         TEXT    NOT NULL,
    address      TEXT    NOT NULL,
    phone        TEXT    NOT NULL,
    website      TEXT    NOT NULL,
    email        TEXT    NOT NULL,
    country      TEXT    NOT NULL,
    country_code TEXT    NOT NULL,
    keyword      TEXT    NOT NULL,
    city         TEXT    NOT NULL,
    task_id      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_task_id    ON leads (task_id);
CREATE INDEX IF NOT EXISTS idx_leads_keyword    ON leads (keyword);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads (created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
    id             TEXT    PRIMARY KEY,
    status         TEXT    NOT NULL,
    progress       INTEGER NOT NULL DEFAULT 0,
    leads_found    INTEGER NOT NULL DEFAULT 0,
    message        TEXT    NOT NULL DEFAULT '',
    error_code     TEXT    NOT NULL DEFAULT '',
    keywords       TEXT    NOT NULL DEFAULT '[]',
    locations      TEXT    NOT NULL DEFAULT '[]',
    parallel_count INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    completed_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at DESC);
`

const leadColumns = `id, name, address, phone, website, email, country, country_code, keyword, city, task_id, created_at`

const taskColumns = `id, status, progress, leads_found, message, error_code, keywords, locations, parallel_count, created_at, updated_at, completed_at`

// Store is a leads.Store over a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ leads.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Insert(ctx context.Context, l *domain.Lead) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Address, l.Phone, l.Website, l.Email,
		l.Country, l.CountryCode, l.Keyword, l.City, l.TaskID, l.CreatedAt.UnixNano(),
	)
	if err != nil {
		return &domain.PersistenceError{Op: "insert lead " + l.ID, Err: err}
	}
	return nil
}

func (s *Store) ExistingKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, address FROM leads`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load keys", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name, address string
		if err := rows.Scan(&name, &address); err != nil {
			return nil, &domain.PersistenceError{Op: "scan key", Err: err}
		}
		keys = append(keys, domain.DedupKey(name, address))
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "load keys", Err: err}
	}
	return keys, nil
}

func leadWhere(f leads.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Search != "" {
		like := "%" + f.Search + "%"
		conds = append(conds, "(name LIKE ? OR city LIKE ? OR address LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.Keyword != "" {
		conds = append(conds, "keyword = ?")
		args = append(args, f.Keyword)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) List(ctx context.Context, f leads.Filter) (*leads.Page, error) {
	f = f.Normalize()
	where, args := leadWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads`+where+
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	out, err := collectLeads(rows)
	if err != nil {
		return nil, err
	}
	return leads.NewPage(out, total, f), nil
}

func (s *Store) ByTask(ctx context.Context, taskID string, limit int) ([]*domain.Lead, error) {
	if limit <= 0 || limit > leads.TaskLeadsLimit {
		limit = leads.TaskLeadsLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE task_id = ? ORDER BY created_at ASC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list leads for task %s: %w", taskID, err)
	}
	return collectLeads(rows)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lead %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.LeadNotFoundError{LeadID: id}
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete leads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk delete leads: %w", err)
	}
	return int(n), nil
}

func (s *Store) Stats(ctx context.Context) (*leads.Stats, error) {
	var st leads.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM leads),
			(SELECT COUNT(DISTINCT city) FROM leads),
			(SELECT COUNT(DISTINCT keyword) FROM leads),
			(SELECT COUNT(*) FROM tasks),
			(SELECT COUNT(*) FROM tasks WHERE status = ?)
	`, string(domain.StatusCompleted)).Scan(
		&st.TotalLeads, &st.LocationsCount, &st.KeywordsCount, &st.TasksTotal, &st.TasksCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("lead stats: %w", err)
	}
	st.FinishRate()
	return &st, nil
}

func (s *Store) Keywords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT keyword FROM leads ORDER BY keyword`)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	kws := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		kws = append(kws, k)
	}
	return kws, rows.Err()
}

func (s *Store) RecordTask(ctx context.Context, t *domain.Task) error {
	kws, err := json.Marshal(nonNil(t.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	locs, err := json.Marshal(nonNil(t.Locations))
	if err != nil {
		return fmt.Errorf("marshal locations: %w", err)
	}
	var completed sql.NullInt64
	if t.CompletedAt != nil {
		completed = sql.NullInt64{Int64: t.CompletedAt.UnixNano(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			leads_found = excluded.leads_found,
			message = excluded.message,
			error_code = excluded.error_code,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`,
		t.ID, string(t.Status), t.Progress, t.LeadsFound, t.Message, string(t.ErrorCode),
		string(kws), string(locs), t.Parallelism,
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(), completed,
	)
	if err != nil {
		return fmt.Errorf("record task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, limit int) ([]*domain.Task, error) {
	if limit <= 0 || limit > leads.MaxLimit {
		limit = leads.DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func collectLeads(rows *sql.Rows) ([]*domain.Lead, error) {
	defer rows.Close()
	var out []*domain.Lead
	for rows.Next() {
		var l domain.Lead
		var created int64
		err := rows.Scan(
			&l.ID, &l.Name, &l.Address, &l.Phone, &l.Website, &l.Email,
			&l.Country, &l.CountryCode, &l.Keyword, &l.City, &l.TaskID, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		l.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &l)
	}
	return out, rows.Err()
}

func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var (
		t                domain.Task
		status, code     string
		kws, locs        string
		created, updated int64
		completed        sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &status, &t.Progress, &t.LeadsFound, &t.Message, &code,
		&kws, &locs, &t.Parallelism, &created, &updated, &completed,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal([]byte(kws), &t.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords of task %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(locs), &t.Locations); err != nil {
		return nil, fmt.Errorf("decode locations of task %s: %w", t.ID, err)
	}
	t.Status = domain.Status(status)
	t.ErrorCode = domain.ErrorCode(code)
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	if completed.Valid {
		at := time.Unix(0, completed.Int64).UTC()
		t.CompletedAt = &at
	}
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
