package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/leads"
	"github.com/shubhanshu-sudo/Scrapper/internal/postgres/migrations"
	"github.com/shubhanshu-sudo/Scrapper/pkg/retry"
)

const leadColumns = `id, name, address, phone, website, email, country, country_code, keyword, city, task_id, created_at`

const taskColumns = `id, status, progress, leads_found, message, error_code, keywords, locations, parallel_count, created_at, updated_at, completed_at`

// Store is the Postgres lead store.
type Store struct {
	pool *pgxpool.Pool
}

var _ leads.Store = (*Store)(nil)

// NewStore wraps a pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity, retrying while the
// database is still starting.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	err = retry.Do(ctx, retry.Config{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second},
		func(ctx context.Context) error { return pool.Ping(ctx) })
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, applied func(name string)) error {
	files, err := migrations.Files()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for _, f := range files {
		sql, err := migrations.FS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
		if applied != nil {
			applied(f)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, l *domain.Lead) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		l.ID, l.Name, l.Address, l.Phone, l.Website, l.Email,
		l.Country, l.CountryCode, l.Keyword, l.City, l.TaskID, l.CreatedAt,
	)
	if err != nil {
		return &domain.PersistenceError{Op: "insert lead " + l.ID, Err: err}
	}
	return nil
}

func (s *Store) ExistingKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, address FROM leads`)
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

// leadWhere builds the WHERE clause for f, numbering placeholders from 1.
func leadWhere(f leads.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := "$" + strconv.Itoa(len(args))
		conds = append(conds, "(name ILIKE "+n+" OR city ILIKE "+n+" OR address ILIKE "+n+")")
	}
	if f.Keyword != "" {
		args = append(args, f.Keyword)
		conds = append(conds, "keyword = $"+strconv.Itoa(len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) List(ctx context.Context, f leads.Filter) (*leads.Page, error) {
	f = f.Normalize()
	where, args := leadWhere(f)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}

	n := len(args)
	args = append(args, f.Limit, f.Offset())
	rows, err := s.pool.Query(ctx, `SELECT `+leadColumns+` FROM leads`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
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
	rows, err := s.pool.Query(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE task_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list leads for task %s: %w", taskID, err)
	}
	return collectLeads(rows)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lead %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.LeadNotFoundError{LeadID: id}
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("bulk delete leads: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) Stats(ctx context.Context) (*leads.Stats, error) {
	var st leads.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM leads),
			(SELECT COUNT(DISTINCT city) FROM leads),
			(SELECT COUNT(DISTINCT keyword) FROM leads),
			(SELECT COUNT(*) FROM tasks),
			(SELECT COUNT(*) FROM tasks WHERE status = $1)
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
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT keyword FROM leads ORDER BY keyword`)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	kws, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan keywords: %w", err)
	}
	if kws == nil {
		kws = []string{}
	}
	return kws, nil
}

// RecordTask upserts a task snapshot into the history table.
func (s *Store) RecordTask(ctx context.Context, t *domain.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			leads_found = EXCLUDED.leads_found,
			message = EXCLUDED.message,
			error_code = EXCLUDED.error_code,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`,
		t.ID, string(t.Status), t.Progress, t.LeadsFound, t.Message, string(t.ErrorCode),
		nonNil(t.Keywords), nonNil(t.Locations), t.Parallelism,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
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
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
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

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectLeads(rows pgx.Rows) ([]*domain.Lead, error) {
	defer rows.Close()
	var out []*domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// scanLead reads a lead row from any pgx row type.
func scanLead(row interface {
	Scan(...any) error
}) (*domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(
		&l.ID, &l.Name, &l.Address, &l.Phone, &l.Website, &l.Email,
		&l.Country, &l.CountryCode, &l.Keyword, &l.City, &l.TaskID, &l.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan lead: %w", err)
	}
	return &l, nil
}

func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var t domain.Task
	var status, code string
	err := row.Scan(
		&t.ID, &status, &t.Progress, &t.LeadsFound, &t.Message, &code,
		&t.Keywords, &t.Locations, &t.Parallelism,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = domain.Status(status)
	t.ErrorCode = domain.ErrorCode(code)
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
