package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shubhanshu-sudo/Scrapper/internal/kafka"
	redisstore "github.com/shubhanshu-sudo/Scrapper/internal/redis"
	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/config"
	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/handler"
	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/intake"
	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/middleware"
	"github.com/shubhanshu-sudo/Scrapper/services/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, Kafka intake and scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8000", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Int("max-parallelism", 4, "upper bound on concurrent keyword contexts per task")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("max_parallelism", serveCmd.Flags(), "max-parallelism")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.LogLevel, "leadscout")
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName: "leadscout",
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.TraceRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	a, err := buildApp(context.Background(), cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, a.ready...)

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		consumer := kafka.NewConsumer(brokers, kafka.TopicScrapeRequests, cfg.ConsumerGroup, logger)
		defer func() { _ = consumer.Close() }()
		in := intake.New(a.orch, logger)
		go func() {
			logger.Info("kafka intake starting", slog.String("topic", kafka.TopicScrapeRequests))
			if err := in.Run(runCtx, consumer); err != nil {
				logger.Error("kafka intake stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if len(cfg.Schedules) > 0 {
		var leader scheduler.Leader
		if a.redis != nil {
			leader = redisstore.NewLeader(a.redis, scheduler.LeaderKey, uuid.NewString(), scheduler.LeaderTTL)
		}
		sched := scheduler.New(a.orch, leader, logger)
		for _, s := range cfg.Schedules {
			if err := sched.Add(scheduler.Job{
				Name:        s.Name,
				Spec:        s.Cron,
				Keywords:    s.Keywords,
				Locations:   s.Locations,
				Parallelism: s.Parallelism,
			}); err != nil {
				return err
			}
		}
		go sched.Run(runCtx)
	}

	rest := handler.NewREST(a.orch, a.store, logger)
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20))
	r.Get("/healthz", rest.Healthz)
	r.Get("/readyz", telemetry.ReadyHandler(a.ready...))
	r.Route("/api/v1", rest.Routes)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("leadscout HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}

	a.orch.CancelAll()
	a.orch.Wait()
	logger.Info("stopped")
	return nil
}
