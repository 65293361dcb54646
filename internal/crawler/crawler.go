// Package crawler runs one (keyword, location) query end to end: it opens a
// browser session, discovers listing links, and turns each listing into at
// most one persisted lead.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/shubhanshu-sudo/Scrapper/internal/browser"
	"github.com/shubhanshu-sudo/Scrapper/internal/dedup"
	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/extract"
	"github.com/shubhanshu-sudo/Scrapper/internal/geo"
	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
)

// ErrCancelled is returned by Run when the query's cancel check fires
// between listings.
var ErrCancelled = errors.New("query cancelled")

// LeadStore persists accepted leads.
type LeadStore interface {
	Insert(ctx context.Context, lead *domain.Lead) error
}

// PhoneValidator canonicalizes a raw phone string for a region.
type PhoneValidator interface {
	Validate(raw, region string) (string, bool)
}

// EmailFinder discovers a contact address on a website.
type EmailFinder interface {
	Find(ctx context.Context, website string) string
}

// LeadSink is notified of every persisted lead.
type LeadSink interface {
	PublishLead(ctx context.Context, lead *domain.Lead) error
}

// Progress receives status for one query. pos is an absolute position
// inside the query's Range.
type Progress interface {
	Report(ctx context.Context, pos float64, message string)
	LeadAdded(ctx context.Context, lead *domain.Lead)
}

// Query is one (keyword, location) pair with its resolved region and
// progress range.
type Query struct {
	TaskID   string
	Keyword  string
	Location string
	Region   geo.Region
	Range    Range
	// Cancelled is polled between listings. Nil means never.
	Cancelled func() bool
}

func (q Query) cancelled() bool { return q.Cancelled != nil && q.Cancelled() }

// Crawler drives the browser for a query. One Crawler serves many queries;
// each Run opens its own session.
type Crawler struct {
	launcher  browser.Launcher
	strategy  extract.Strategy
	validator PhoneValidator
	store     LeadStore
	emails    EmailFinder
	sink      LeadSink
	limiter   *rate.Limiter
	logger    *slog.Logger

	searchBase     string
	maxScrolls     int
	scrollPause    time.Duration
	elementTimeout time.Duration
	consentTimeout time.Duration
}

// Option configures a Crawler.
type Option func(*Crawler)

func WithEmailFinder(f EmailFinder) Option { return func(c *Crawler) { c.emails = f } }
func WithLeadSink(s LeadSink) Option { return func(c *Crawler) { c.sink = s } }
func WithLogger(l *slog.Logger) Option { return func(c *Crawler) { c.logger = l } }
func WithSearchBase(u string) Option { return func(c *Crawler) { c.searchBase = u } }
func WithMaxScrolls(n int) Option { return func(c *Crawler) { c.maxScrolls = n } }
func WithScrollPause(d time.Duration) Option { return func(c *Crawler) { c.scrollPause = d } }
func WithElementTimeout(d time.Duration) Option { return func(c *Crawler) { c.elementTimeout = d } }
func WithConsentTimeout(d time.Duration) Option { return func(c *Crawler) { c.consentTimeout = d } }

// WithListingInterval paces listing navigation to at most one per interval.
// Zero disables pacing.
func WithListingInterval(d time.Duration) Option {
	return func(c *Crawler) {
		if d <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// New returns a Crawler. strategy, validator and store are required.
func New(launcher browser.Launcher, strategy extract.Strategy, validator PhoneValidator, store LeadStore, opts ...Option) *Crawler {
	c := &Crawler{
		launcher:       launcher,
		strategy:       strategy,
		validator:      validator,
		store:          store,
		logger:         slog.Default(),
		maxScrolls:     25,
		scrollPause:    2 * time.Second,
		elementTimeout: 20 * time.Second,
		consentTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run crawls q and returns the number of leads it added.
//
// Per-listing failures are logged and skipped. A lead store failure aborts
// the query with a *domain.PersistenceError, and a failure to open the
// session or load the search page returns a *domain.BrowserError; both
// return zero or the leads added so far.
func (c *Crawler) Run(ctx context.Context, q Query, idx *dedup.Index, p Progress) (int, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "crawler.query")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", q.TaskID),
		attribute.String("query.keyword", q.Keyword),
		attribute.String("query.location", q.Location),
		attribute.String("query.region", q.Region.Code),
		attribute.String("crawler.strategy", c.strategy.Name()),
	)

	start := time.Now()
	defer func() { telemetry.QueryDurationSeconds.Observe(time.Since(start).Seconds()) }()

	log := c.logger.With(
		slog.String("task_id", q.TaskID),
		slog.String("keyword", q.Keyword),
		slog.String("location", q.Location),
		slog.String("strategy", c.strategy.Name()),
	)

	sess, err := c.launcher.Open(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session open failed")
		return 0, asBrowserError("open session", err)
	}
	defer sess.Close()

	searchURL := c.strategy.SearchURL(c.searchBase, q.Keyword+" in "+q.Location)
	if err := sess.Navigate(ctx, searchURL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search page failed")
		return 0, asBrowserError("load search page", err)
	}

	c.dismissConsent(ctx, sess, log)

	p.Report(ctx, q.Range.Discovery(0, c.maxScrolls), fmt.Sprintf("Discovering leads for '%s' in %s...", q.Keyword, q.Location))
	links := c.discover(ctx, sess, q, p, log)
	total := len(links)
	span.SetAttributes(attribute.Int("query.listings", total))
	log.Info("listings discovered", slog.Int("count", total))

	added := 0
	for i, link := range links {
		if q.cancelled() {
			return added, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return added, err
		}

		pos := q.Range.Listing(i, total)
		p.Report(ctx, pos, fmt.Sprintf("Extracting lead %d of %d for '%s'", i+1, total, q.Keyword))

		ok, err := c.visit(ctx, sess, q, idx, link, p, log)
		if err != nil {
			var pe *domain.PersistenceError
			if errors.As(err, &pe) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "lead store failed")
				return added, err
			}
			log.Warn("listing skipped", slog.String("listing", link), slog.String("error", err.Error()))
			p.Report(ctx, pos, fmt.Sprintf("Skipped listing %d of %d for '%s': %v", i+1, total, q.Keyword, err))
			continue
		}
		if ok {
			added++
		}
	}

	span.SetAttributes(attribute.Int("query.added", added))
	return added, nil
}

// dismissConsent clicks the first consent button that appears within the
// consent timeout. A missing prompt is the common case.
func (c *Crawler) dismissConsent(ctx context.Context, sess browser.Session, log *slog.Logger) {
	sels := c.strategy.ConsentSelectors()
	if len(sels) == 0 {
		return
	}
	sel := strings.Join(sels, ", ")
	if err := sess.WaitVisible(ctx, sel, c.consentTimeout); err != nil {
		log.Debug("no consent prompt")
		return
	}
	if err := sess.Click(ctx, sel); err != nil {
		log.Debug("consent prompt not dismissed", slog.String("error", err.Error()))
	}
}

// discover scrolls the results feed until its height stops growing or the
// scroll ceiling is hit, then returns listing links in first-seen order.
func (c *Crawler) discover(ctx context.Context, sess browser.Session, q Query, p Progress, log *slog.Logger) []string {
	feed := c.strategy.FeedSelector()
	if err := sess.WaitVisible(ctx, feed, c.elementTimeout); err != nil {
		log.Warn("results feed not found", slog.String("error", err.Error()))
	} else {
		last := -1.0
		for step := 0; step < c.maxScrolls; step++ {
			var height float64
			if err := sess.Eval(ctx, browser.ScrollExpr(feed), &height); err != nil || height < 0 {
				break
			}
			if height == last {
				break
			}
			last = height
			p.Report(ctx, q.Range.Discovery(step+1, c.maxScrolls), fmt.Sprintf("Discovering leads for '%s' in %s...", q.Keyword, q.Location))
			if !sleep(ctx, c.scrollPause) {
				break
			}
		}
	}

	hrefs, err := sess.Attrs(ctx, c.strategy.LinkSelector(), "href")
	if err != nil {
		log.Warn("listing links unavailable", slog.String("error", err.Error()))
		return nil
	}
	seen := make(map[string]struct{}, len(hrefs))
	links := make([]string, 0, len(hrefs))
	for _, h := range hrefs {
		if _, ok := seen[h]; ok || h == "" {
			continue
		}
		seen[h] = struct{}{}
		links = append(links, h)
	}
	return links
}

// visit processes one listing. It returns true when a lead was persisted.
// Validation rejections and duplicates return false with no error.
func (c *Crawler) visit(ctx context.Context, sess browser.Session, q Query, idx *dedup.Index, link string, p Progress, log *slog.Logger) (bool, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "crawler.listing")
	defer span.End()
	span.SetAttributes(attribute.String("listing.url", link))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	if err := sess.Navigate(ctx, link); err != nil {
		telemetry.ListingsDiscarded.WithLabelValues(telemetry.ReasonNavigation).Inc()
		return false, err
	}
	// A missing title only means the name falls back to its sentinel.
	_ = sess.WaitVisible(ctx, c.strategy.TitleSelector(), c.elementTimeout)

	html, err := sess.HTML(ctx)
	if err != nil {
		telemetry.ListingsDiscarded.WithLabelValues(telemetry.ReasonNavigation).Inc()
		return false, err
	}
	doc, err := extract.ParseHTML(html)
	if err != nil {
		return false, fmt.Errorf("parse listing: %w", err)
	}
	cand := c.strategy.Extract(doc)

	phone, ok := c.validator.Validate(cand.Phone, q.Region.Code)
	if !ok {
		telemetry.ListingsDiscarded.WithLabelValues(telemetry.ReasonInvalidPhone).Inc()
		log.Debug("listing rejected: phone", slog.String("name", cand.Name), slog.String("phone", cand.Phone))
		return false, nil
	}

	key := cand.Key()
	if !idx.Reserve(key) {
		telemetry.ListingsDiscarded.WithLabelValues(telemetry.ReasonDuplicate).Inc()
		log.Debug("listing rejected: duplicate", slog.String("name", cand.Name))
		return false, nil
	}

	email := domain.NoEmail
	if c.emails != nil && cand.HasWebsite() {
		email = c.emails.Find(ctx, cand.Website)
	}

	lead := &domain.Lead{
		ID:          uuid.NewString(),
		Name:        cand.Name,
		Address:     cand.Address,
		Phone:       phone,
		Website:     cand.Website,
		Email:       email,
		Country:     q.Region.Country,
		CountryCode: q.Region.Code,
		Keyword:     q.Keyword,
		City:        q.Location,
		TaskID:      q.TaskID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.Insert(ctx, lead); err != nil {
		idx.Release(key)
		var pe *domain.PersistenceError
		if errors.As(err, &pe) {
			return false, err
		}
		return false, &domain.PersistenceError{Op: "insert", Err: err}
	}

	telemetry.LeadsAccepted.Inc()
	p.LeadAdded(ctx, lead)
	if c.sink != nil {
		if err := c.sink.PublishLead(ctx, lead); err != nil {
			log.Warn("lead event not published", slog.String("lead_id", lead.ID), slog.String("error", err.Error()))
		}
	}
	return true, nil
}

func asBrowserError(op string, err error) error {
	var be *domain.BrowserError
	if errors.As(err, &be) {
		return err
	}
	return &domain.BrowserError{Op: op, Err: err}
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
