// Package main wires together the news ingestion service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"newsriver/internal/api"
	"newsriver/internal/clock/system"
	"newsriver/internal/config"
	"newsriver/internal/dispatch"
	"newsriver/internal/ingest"
	"newsriver/internal/logging"
	"newsriver/internal/news"
	"newsriver/internal/normalize"
	"newsriver/internal/progress"
	"newsriver/internal/progress/sinks"
	"newsriver/internal/provider"
	"newsriver/internal/provider/guardian"
	"newsriver/internal/provider/newsapi"
	"newsriver/internal/provider/nytimes"
	pubmem "newsriver/internal/publisher/memory"
	pubgcp "newsriver/internal/publisher/pubsub"
	"newsriver/internal/quota"
	quotamem "newsriver/internal/quota/memory"
	quotaredis "newsriver/internal/quota/redis"
	storemem "newsriver/internal/storage/memory"
	storepg "newsriver/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop func()) error {
	clock := system.New()
	loc := cfg.Location()

	store, closeStore, err := setupStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker := setupTracker(cfg, loc, logger)
	publisher, stopPublisher := setupPublisher(ctx, cfg, logger)
	defer stopPublisher()

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("metrics sink init: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	clients := buildClients(cfg, tracker, clock, logger)
	infos := make(map[news.ProviderType]news.Source, len(clients))
	for p, c := range clients {
		infos[p] = c.SourceInfo()
	}
	norm := normalize.New(store, publisher, clock, infos, logger.Named("normalize"))

	providers := make(map[news.ProviderType]dispatch.Provider, len(clients))
	for p, c := range clients {
		providers[p] = dispatch.Provider{
			Client: c,
			Runner: ingest.New(c, norm, store, clock, hub, logger),
		}
	}

	dispatcher := dispatch.New(dispatch.Config{
		WorkersPerQueue: cfg.Ingest.WorkersPerQueue,
		QueueDepth:      cfg.Ingest.QueueDepth,
		MaxPagesDefault: cfg.Ingest.MaxPagesDefault,
	}, providers, store, clock, hub, nil, logger.Named("dispatch"))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	apiServer := api.NewServer(dispatcher, store, tracker, clock, prometheus.DefaultGatherer, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func setupStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (news.Store, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using in-memory store")
		return storemem.New(), func() {}, nil
	}
	pg, err := storepg.New(ctx, storepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store init: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	logger.Info("postgres store initialized")
	return pg, pg.Close, nil
}

func setupTracker(cfg config.Config, loc *time.Location, logger *zap.Logger) news.QuotaTracker {
	if cfg.Redis.Addr == "" {
		logger.Warn("no redis configured, quota counted in process memory")
		return quotamem.New(loc)
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("redis quota tracker initialized", zap.String("addr", cfg.Redis.Addr))
	return quotaredis.New(client, loc)
}

func setupPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (news.Publisher, func()) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Warn("no pub/sub topic configured, article events recorded in memory")
		return pubmem.New(), func() {}
	}
	pub, client, err := pubgcp.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		logger.Warn("pub/sub init failed, article events recorded in memory", zap.Error(err))
		return pubmem.New(), func() {}
	}
	logger.Info("pub/sub publisher initialized",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return pub, func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pub/sub client close", zap.Error(err))
		}
	}
}

func buildClients(cfg config.Config, tracker news.QuotaTracker, clock news.Clock, logger *zap.Logger) map[news.ProviderType]news.Client {
	timeout := func(p config.ProviderConfig) time.Duration {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}

	clients := make(map[news.ProviderType]news.Client, 3)
	clients[news.ProviderGuardian] = guardian.New(guardian.Config{
		Endpoint: cfg.Providers.Guardian.Endpoint,
		APIKey:   cfg.Providers.Guardian.APIKey,
		Timeout:  timeout(cfg.Providers.Guardian),
	}, provider.NewGate(news.ProviderGuardian, quota.PolicyGuardian, nil, clock), logger.Named("guardian"))

	clients[news.ProviderNYTimes] = nytimes.New(nytimes.Config{
		Endpoint: cfg.Providers.NYTimes.Endpoint,
		APIKey:   cfg.Providers.NYTimes.APIKey,
		Timeout:  timeout(cfg.Providers.NYTimes),
	}, provider.NewGate(news.ProviderNYTimes, quota.PolicyNYTimes, nil, clock), logger.Named("nytimes"))

	clients[news.ProviderNewsAPI] = newsapi.New(newsapi.Config{
		Endpoint: cfg.Providers.NewsAPI.Endpoint,
		APIKey:   cfg.Providers.NewsAPI.APIKey,
		Timeout:  timeout(cfg.Providers.NewsAPI),
	}, provider.NewGate(news.ProviderNewsAPI, quota.PolicyNewsAPI, tracker, clock), logger.Named("newsapi"))

	return clients
}
