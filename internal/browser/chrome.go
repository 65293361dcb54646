package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
)

const (
	defaultUserAgent     = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	defaultActionTimeout = 20 * time.Second
)

// Chrome launches one headless Chrome process per session.
type Chrome struct {
	headless      bool
	userAgent     string
	execPath      string
	actionTimeout time.Duration
	logger        *slog.Logger
}

// ChromeOption configures a Chrome launcher.
type ChromeOption func(*Chrome)

func WithHeadless(on bool) ChromeOption { return func(c *Chrome) { c.headless = on } }
func WithUserAgent(ua string) ChromeOption { return func(c *Chrome) { c.userAgent = ua } }
func WithExecPath(p string) ChromeOption { return func(c *Chrome) { c.execPath = p } }
func WithLogger(l *slog.Logger) ChromeOption { return func(c *Chrome) { c.logger = l } }

// WithActionTimeout bounds navigation, clicks and script evaluation.
func WithActionTimeout(d time.Duration) ChromeOption {
	return func(c *Chrome) { c.actionTimeout = d }
}

// NewChrome returns a Launcher backed by chromedp.
func NewChrome(opts ...ChromeOption) *Chrome {
	c := &Chrome{
		headless:      true,
		userAgent:     defaultUserAgent,
		actionTimeout: defaultActionTimeout,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open starts a browser and returns its first tab. The browser lives until
// Close is called or ctx is cancelled.
func (c *Chrome) Open(ctx context.Context) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(c.userAgent),
	)
	if c.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	// The first Run allocates the browser and must use the tab context
	// itself; a derived context would tear the browser down when it ends.
	stop := context.AfterFunc(ctx, cancel)
	if err := chromedp.Run(tabCtx); err != nil {
		stop()
		cancel()
		return nil, &domain.BrowserError{Op: "launch", Err: err}
	}

	c.logger.Debug("browser session opened", slog.Bool("headless", c.headless))
	return &chromeSession{ctx: tabCtx, cancel: cancel, stop: stop, timeout: c.actionTimeout}, nil
}

type chromeSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	stop    func() bool
	timeout time.Duration
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.timeout, chromedp.Navigate(url)); err != nil {
		return &domain.BrowserError{Op: "navigate " + url, Err: err}
	}
	return nil
}

func (s *chromeSession) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return &domain.BrowserError{Op: "wait " + sel, Err: err}
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, sel string) error {
	if err := s.run(ctx, s.timeout, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return &domain.BrowserError{Op: "click " + sel, Err: err}
	}
	return nil
}

func (s *chromeSession) Eval(ctx context.Context, expr string, out any) error {
	if err := s.run(ctx, s.timeout, chromedp.Evaluate(expr, out)); err != nil {
		return &domain.BrowserError{Op: "eval", Err: err}
	}
	return nil
}

func (s *chromeSession) Attrs(ctx context.Context, sel, attr string) ([]string, error) {
	var vals []string
	if err := s.Eval(ctx, AttrsExpr(sel, attr), &vals); err != nil {
		return nil, err
	}
	return vals, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", &domain.BrowserError{Op: "snapshot", Err: err}
	}
	return html, nil
}

// Close shuts the tab and the browser process. Safe to call more than once.
func (s *chromeSession) Close() error {
	s.stop()
	s.cancel()
	return nil
}
