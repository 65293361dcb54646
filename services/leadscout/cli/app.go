package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shubhanshu-sudo/Scrapper/internal/browser"
	"github.com/shubhanshu-sudo/Scrapper/internal/crawler"
	"github.com/shubhanshu-sudo/Scrapper/internal/extract"
	"github.com/shubhanshu-sudo/Scrapper/internal/geo"
	"github.com/shubhanshu-sudo/Scrapper/internal/kafka"
	"github.com/shubhanshu-sudo/Scrapper/internal/leads"
	"github.com/shubhanshu-sudo/Scrapper/internal/notify"
	"github.com/shubhanshu-sudo/Scrapper/internal/orchestrator"
	"github.com/shubhanshu-sudo/Scrapper/internal/phone"
	"github.com/shubhanshu-sudo/Scrapper/internal/postgres"
	redisstore "github.com/shubhanshu-sudo/Scrapper/internal/redis"
	"github.com/shubhanshu-sudo/Scrapper/internal/sqlite"
	"github.com/shubhanshu-sudo/Scrapper/internal/tasks"
	"github.com/shubhanshu-sudo/Scrapper/internal/version"
	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/config"
)

// app is the wired object graph shared by serve and scrape.
type app struct {
	store    leads.Store
	registry tasks.Registry
	redis    *goredis.Client
	events   *kafka.Events
	orch     *orchestrator.Orchestrator
	ready    []telemetry.ReadyFunc
}

func openStore(ctx context.Context, cfg config.Config) (leads.Store, error) {
	switch cfg.Store {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return postgres.NewStore(pool), nil
	default:
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return st, nil
	}
}

// buildApp wires every component from cfg. withEvents turns on the Kafka
// producer when brokers are configured.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, withEvents bool) (*app, error) {
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	store, err := openStore(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, ready: []telemetry.ReadyFunc{store.Ping}}

	var registry tasks.Registry = tasks.NewMemory()
	if cfg.RedisAddr != "" {
		a.redis = redisstore.NewClient(cfg.RedisAddr)
		ts := redisstore.NewTaskStore(a.redis)
		if err := ts.Ping(initCtx); err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		registry = ts
		a.ready = append(a.ready, ts.Ping)
	}
	a.registry = registry

	policy, err := phone.ParsePolicy(cfg.PhonePolicy)
	if err != nil {
		a.close()
		return nil, err
	}

	geoOpts := []geo.Option{
		geo.WithBaseURL(cfg.GeocoderURL),
		geo.WithUserAgent(cfg.GeocoderUserAgent),
		geo.WithRate(float64(cfg.GeocoderRateLimit)),
		geo.WithLogger(logger),
	}
	if a.redis != nil && cfg.GeocoderRateLimit > 0 {
		geoOpts = append(geoOpts, geo.WithSharedLimiter(
			redisstore.NewRateLimiter(a.redis, cfg.GeocoderRateLimit, time.Second)))
	}
	resolver := geo.NewResolver(geo.Region{Country: cfg.FallbackCountry, Code: cfg.FallbackCountryCode}, geoOpts...)

	chromeOpts := []browser.ChromeOption{
		browser.WithHeadless(cfg.Headless),
		browser.WithExecPath(cfg.ChromePath),
		browser.WithActionTimeout(cfg.ElementTimeout),
		browser.WithLogger(logger),
	}
	if cfg.BrowserUA != "" {
		chromeOpts = append(chromeOpts, browser.WithUserAgent(cfg.BrowserUA))
	}

	crawlOpts := []crawler.Option{
		crawler.WithLogger(logger),
		crawler.WithSearchBase(cfg.SearchBaseURL),
		crawler.WithMaxScrolls(cfg.MaxScrolls),
		crawler.WithScrollPause(cfg.ScrollPause),
		crawler.WithListingInterval(cfg.ListingInterval),
		crawler.WithElementTimeout(cfg.ElementTimeout),
		crawler.WithConsentTimeout(cfg.ConsentTimeout),
	}
	if cfg.EmailDiscovery {
		emailOpts := []extract.EmailOption{
			extract.WithEmailTimeout(cfg.EmailTimeout),
			extract.WithEmailAttempts(cfg.EmailAttempts),
			extract.WithEmailUserAgent(version.UserAgent()),
			extract.WithEmailLogger(logger),
		}
		if cfg.EmailMXCheck {
			emailOpts = append(emailOpts, extract.WithMXCheck(extract.HasMX))
		}
		crawlOpts = append(crawlOpts, crawler.WithEmailFinder(extract.NewEmailFinder(emailOpts...)))
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithRecorder(store),
		orchestrator.WithNotifier(notify.NewWebhook(cfg.WebhookTimeout)),
		orchestrator.WithLogger(logger),
		orchestrator.WithDefaultParallelism(cfg.DefaultParallelism),
		orchestrator.WithMaxParallelism(cfg.MaxParallelism),
	}
	if brokers := cfg.Brokers(); withEvents && len(brokers) > 0 {
		a.events = kafka.NewEvents(kafka.NewProducer(brokers))
		crawlOpts = append(crawlOpts, crawler.WithLeadSink(a.events))
		orchOpts = append(orchOpts, orchestrator.WithPublisher(a.events))
	}

	c := crawler.New(
		browser.NewChrome(chromeOpts...),
		extract.MapsStrategy{},
		phone.NewValidator(policy),
		store,
		crawlOpts...,
	)
	a.orch = orchestrator.New(registry, c, resolver, store, orchOpts...)
	return a, nil
}

// close releases connections. Running tasks must have been waited for.
func (a *app) close() {
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
}
