package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"sysmetrics-app/internal/cache"
	"sysmetrics-app/internal/config"
	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/ingest"
	"sysmetrics-app/internal/query"
	"sysmetrics-app/internal/realtime"
	"sysmetrics-app/internal/repository"
	"sysmetrics-app/internal/router"
	"sysmetrics-app/internal/telemetry"
	"sysmetrics-app/internal/util"
)

func LoggerInitialize(cfg config.LogConfig) (*util.MetricsLogger, error) {

	metricsLogger := &util.MetricsLogger{}

	if err := metricsLogger.Init(util.LoggerOptions{
		Dir:      cfg.Dir,
		FileName: cfg.File,
		Level:    cfg.Level,
		Stderr:   cfg.Stderr,
	}); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		return nil, err
	}

	metricsLogger.LogEvent(util.LOG_LEVEL_INFO, "Service started")

	currentTime := time.Now().Format(time.RFC3339)

	fmt.Fprintf(os.Stderr, "\n%s: SysMetrics API started \n", currentTime)

	return metricsLogger, nil
}

func NewMetricStore(cfg config.StorageConfig) (domain.MetricStore, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := util.CheckAndCreateLogFolder(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
		return repository.NewSQLiteStore(cfg.Path, repository.SQLiteOptions{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			BusyTimeout:     cfg.BusyTimeout,
			OpTimeout:       cfg.OpTimeout,
		}), nil
	case "memory":
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Driver)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := LoggerInitialize(cfg.Log)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.DeInit()

	metricStore, err := NewMetricStore(cfg.Storage)
	if err != nil {
		return err
	}
	if err := metricStore.Init(); err != nil {
		logger.LogEvent(util.LOG_LEVEL_ERROR, "Failed to initialize metric store:", err)
		return fmt.Errorf("initializing metric store: %w", err)
	}
	defer metricStore.Close()

	metrics := telemetry.NewPipeline()
	latestCache := cache.New()

	ingestor := ingest.NewService(latestCache, metricStore, logger, ingest.Options{
		SampleInterval: cfg.Pipeline.SampleInterval,
		StoreTimeout:   cfg.Storage.OpTimeout,
		Telemetry:      metrics,
	})
	latest := query.NewLatestQueryService(latestCache, metricStore, logger, query.Options{
		FreshnessWindow: cfg.Pipeline.FreshnessWindow,
		StoreTimeout:    cfg.Storage.OpTimeout,
		Telemetry:       metrics,
	})
	hub := realtime.NewHub(latest, metricStore, logger, realtime.Options{
		SendBuffer:     cfg.Realtime.SendBuffer,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		PongWait:       cfg.Realtime.PongWait,
		MaxSubscribers: cfg.Realtime.MaxSubscribers,
		HistoryMinutes: cfg.Realtime.HistoryMinutes,
		RequestTimeout: cfg.Storage.OpTimeout,
		Telemetry:      metrics,
	})
	defer hub.Close()
	scheduler := realtime.NewScheduler(latest, hub, logger, realtime.SchedulerOptions{
		Interval:  cfg.Realtime.BroadcastInterval,
		Timeout:   cfg.Storage.OpTimeout,
		Telemetry: metrics,
	})

	appRouter := router.NewRouter(router.Services{
		Store:     metricStore,
		Ingestor:  ingestor,
		Latest:    latest,
		Hub:       hub,
		Telemetry: metrics,
	}, cfg.Server.AllowedOrigins, logger)
	server := router.NewServer(cfg.Server, appRouter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		err := router.Run(gctx, server, logger, cfg.Server.ShutdownTimeout)
		// websocket connections are hijacked and outlive Shutdown
		hub.Close()
		return err
	})
	return g.Wait()
}

func main() {
	var configFile string
	v := config.New()

	root := &cobra.Command{
		Use:          "sysmetrics-api",
		Short:        "System metrics ingestion, query and realtime broadcast service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default ./config.yaml or $HOME/.sysmetrics/config.yaml)")
	flags.String("addr", ":8080", "listen address")
	flags.String("storage-driver", "sqlite", "metric store: sqlite or memory")
	flags.String("db", "../db/metrics.db", "sqlite database path")
	flags.String("log-level", "info", "error, warn, info or debug")
	bindFlags(v, root, map[string]string{
		"server.addr":    "addr",
		"storage.driver": "storage-driver",
		"storage.path":   "db",
		"log.level":      "log-level",
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
