package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shubhanshu-sudo/Scrapper/internal/version"
)

// Schedule is one recurring scrape.
type Schedule struct {
	Name        string   `mapstructure:"name"`
	Cron        string   `mapstructure:"cron"`
	Keywords    []string `mapstructure:"keywords"`
	Locations   []string `mapstructure:"locations"`
	Parallelism int      `mapstructure:"parallel_count"`
}

// Config holds typed configuration for leadscout.
type Config struct {
	LogLevel     string
	HTTPPort     string
	MetricsAddr  string
	OTelEndpoint string
	TraceRatio   float64

	Store       string
	PostgresDSN string
	SQLitePath  string
	RedisAddr   string

	KafkaBrokers  string
	ConsumerGroup string

	PhonePolicy         string
	FallbackCountry     string
	FallbackCountryCode string
	GeocoderURL         string
	GeocoderUserAgent   string
	GeocoderRateLimit   int

	SearchBaseURL   string
	Headless        bool
	ChromePath      string
	BrowserUA       string
	MaxScrolls      int
	ScrollPause     time.Duration
	ListingInterval time.Duration
	ElementTimeout  time.Duration
	ConsentTimeout  time.Duration

	EmailDiscovery bool
	EmailTimeout   time.Duration
	EmailAttempts  int
	EmailMXCheck   bool

	DefaultParallelism int
	MaxParallelism     int
	WebhookTimeout     time.Duration

	Schedules []Schedule
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", "8000")
	v.SetDefault("metrics_addr", ":9095")
	v.SetDefault("trace_ratio", 1.0)
	v.SetDefault("store", "sqlite")
	v.SetDefault("sqlite_path", "leadscout.db")
	v.SetDefault("consumer_group", "leadscout")
	v.SetDefault("phone_policy", "strict-mobile")
	v.SetDefault("fallback_country", "India")
	v.SetDefault("fallback_country_code", "IN")
	v.SetDefault("geocoder_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocoder_user_agent", version.UserAgent())
	v.SetDefault("geocoder_rate_limit", 1)
	v.SetDefault("search_base_url", "https://www.google.com/maps/search/")
	v.SetDefault("headless", true)
	v.SetDefault("max_scrolls", 25)
	v.SetDefault("scroll_pause", "2s")
	v.SetDefault("listing_interval", "0s")
	v.SetDefault("element_timeout", "20s")
	v.SetDefault("consent_timeout", "5s")
	v.SetDefault("email_discovery", true)
	v.SetDefault("email_timeout", "10s")
	v.SetDefault("email_attempts", 1)
	v.SetDefault("email_mx_check", false)
	v.SetDefault("default_parallelism", 1)
	v.SetDefault("max_parallelism", 4)
	v.SetDefault("webhook_timeout", "15s")
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel:     v.GetString("log_level"),
		HTTPPort:     v.GetString("http_port"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
		TraceRatio:   v.GetFloat64("trace_ratio"),

		Store:       strings.ToLower(v.GetString("store")),
		PostgresDSN: v.GetString("postgres_dsn"),
		SQLitePath:  v.GetString("sqlite_path"),
		RedisAddr:   v.GetString("redis_addr"),

		KafkaBrokers:  v.GetString("kafka_brokers"),
		ConsumerGroup: v.GetString("consumer_group"),

		PhonePolicy:         v.GetString("phone_policy"),
		FallbackCountry:     v.GetString("fallback_country"),
		FallbackCountryCode: strings.ToUpper(v.GetString("fallback_country_code")),
		GeocoderURL:         v.GetString("geocoder_url"),
		GeocoderUserAgent:   v.GetString("geocoder_user_agent"),
		GeocoderRateLimit:   v.GetInt("geocoder_rate_limit"),

		SearchBaseURL:   v.GetString("search_base_url"),
		Headless:        v.GetBool("headless"),
		ChromePath:      v.GetString("chrome_path"),
		BrowserUA:       v.GetString("browser_user_agent"),
		MaxScrolls:      v.GetInt("max_scrolls"),
		ScrollPause:     v.GetDuration("scroll_pause"),
		ListingInterval: v.GetDuration("listing_interval"),
		ElementTimeout:  v.GetDuration("element_timeout"),
		ConsentTimeout:  v.GetDuration("consent_timeout"),

		EmailDiscovery: v.GetBool("email_discovery"),
		EmailTimeout:   v.GetDuration("email_timeout"),
		EmailAttempts:  v.GetInt("email_attempts"),
		EmailMXCheck:   v.GetBool("email_mx_check"),

		DefaultParallelism: v.GetInt("default_parallelism"),
		MaxParallelism:     v.GetInt("max_parallelism"),
		WebhookTimeout:     v.GetDuration("webhook_timeout"),
	}
	if err := v.UnmarshalKey("schedules", &cfg.Schedules); err != nil {
		return Config{}, fmt.Errorf("schedules: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot start.
func (c Config) Validate() error {
	switch c.Store {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("store sqlite requires sqlite_path")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("store postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store %q (want sqlite or postgres)", c.Store)
	}
	if c.MaxScrolls < 1 {
		return fmt.Errorf("max_scrolls must be at least 1")
	}
	if c.DefaultParallelism < 1 {
		return fmt.Errorf("default_parallelism must be at least 1")
	}
	for _, s := range c.Schedules {
		if s.Name == "" || s.Cron == "" {
			return fmt.Errorf("every schedule needs a name and a cron expression")
		}
	}
	return nil
}

// Brokers splits the comma-separated broker list. Empty means Kafka is off.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
