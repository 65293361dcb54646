package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/miekg/dns"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/pkg/retry"
)

const (
	defaultEmailTimeout = 10 * time.Second
	maxPageBytes        = 2 << 20
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	imageSuffixes = map[string]struct{}{
		"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "svg": {}, "webp": {},
	}

	defaultNameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}
)

// MXLookup reports whether domain accepts mail.
type MXLookup func(ctx context.Context, domain string) bool

// EmailFinder discovers a contact address on a business website. It is
// best-effort: Find never returns an error, only domain.NoEmail.
type EmailFinder struct {
	client    *http.Client
	userAgent string
	attempts  int
	mx        MXLookup
	logger    *slog.Logger
}

// EmailOption configures an EmailFinder.
type EmailOption func(*EmailFinder)

func WithEmailTimeout(d time.Duration) EmailOption { return func(f *EmailFinder) { f.client.Timeout = d } }
func WithEmailUserAgent(ua string) EmailOption { return func(f *EmailFinder) { f.userAgent = ua } }
func WithEmailAttempts(n int) EmailOption { return func(f *EmailFinder) { f.attempts = n } }
func WithEmailLogger(l *slog.Logger) EmailOption { return func(f *EmailFinder) { f.logger = l } }

// WithMXCheck rejects addresses whose domain publishes no MX record.
// A nil lookup uses DNS against public resolvers.
func WithMXCheck(lookup MXLookup) EmailOption {
	return func(f *EmailFinder) {
		if lookup == nil {
			lookup = HasMX
		}
		f.mx = lookup
	}
}

// NewEmailFinder returns an EmailFinder with a 10s page timeout and a single
// attempt.
func NewEmailFinder(opts ...EmailOption) *EmailFinder {
	f := &EmailFinder{
		client:    &http.Client{Timeout: defaultEmailTimeout},
		userAgent: "leadscout/1.0",
		attempts:  1,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Find fetches website and returns the first usable address on it: a
// mailto: link first, then any email-shaped token in the markup.
func (f *EmailFinder) Find(ctx context.Context, website string) string {
	if website == "" || website == domain.NoWebsite {
		return domain.NoEmail
	}
	u, err := url.Parse(website)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.NoEmail
	}

	var body []byte
	err = retry.Do(ctx, retry.Config{MaxAttempts: f.attempts, BaseDelay: 500 * time.Millisecond}, func(ctx context.Context) error {
		var ferr error
		body, ferr = f.fetch(ctx, website)
		return ferr
	})
	if err != nil {
		f.logger.Debug("email discovery failed", slog.String("website", website), slog.String("error", err.Error()))
		return domain.NoEmail
	}

	for _, candidate := range Emails(body) {
		if f.mx != nil && !f.mx(ctx, candidate[strings.LastIndex(candidate, "@")+1:]) {
			continue
		}
		return candidate
	}
	return domain.NoEmail
}

func (f *EmailFinder) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("website %s responded with status %d", target, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, retry.Permanent(fmt.Errorf("website %s responded with status %d", target, resp.StatusCode))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

// Emails returns candidate addresses found in page, mailto: links first,
// without duplicates. Tokens that end in an image extension are skipped.
func Emails(page []byte) []string {
	var out []string
	seen := make(map[string]struct{})
	// add takes whole pattern matches only.
	add := func(e string) {
		if e == "" || isImageToken(e) {
			return
		}
		k := strings.ToLower(e)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		doc.Find(`a[href]`).Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			href = strings.TrimSpace(href)
			if len(href) < 7 || !strings.EqualFold(href[:7], "mailto:") {
				return
			}
			addr := href[7:]
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			if un, err := url.PathUnescape(addr); err == nil {
				addr = un
			}
			// A mailto target may list several recipients or carry a display name.
			for _, m := range emailPattern.FindAllString(addr, -1) {
				add(m)
			}
		})
	}

	for _, m := range emailPattern.FindAll(page, -1) {
		add(string(m))
	}
	return out
}

func isImageToken(e string) bool {
	dot := strings.LastIndexByte(e, '.')
	if dot < 0 {
		return false
	}
	_, ok := imageSuffixes[strings.ToLower(e[dot+1:])]
	return ok
}

// HasMX queries public resolvers for an MX record of domain.
func HasMX(ctx context.Context, domainName string) bool {
	domainName = strings.TrimSpace(domainName)
	if domainName == "" {
		return false
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domainName), dns.TypeMX)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: 3 * time.Second}
	for _, server := range defaultNameservers {
		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err == nil && resp != nil && resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0 {
			return true
		}
	}
	return false
}
