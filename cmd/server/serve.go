package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/theorogram/server/internal/admin"
	"github.com/theorogram/server/internal/api"
	"github.com/theorogram/server/internal/auth"
	"github.com/theorogram/server/internal/cache"
	"github.com/theorogram/server/internal/llm"
	"github.com/theorogram/server/internal/logging"
	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/internal/reputation"
	"github.com/theorogram/server/internal/rescan"
	"github.com/theorogram/server/internal/storage"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API, metrics endpoint and rescan scheduler",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":8080",
			EnvVars: []string{"BIND", "PORT"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":9090",
			EnvVars: []string{"METRICS_LISTEN"},
		},
		&cli.StringSliceFlag{
			Name:    "cors-origin",
			EnvVars: []string{"CORS_ORIGINS"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Value:   cache.DefaultTTL,
			EnvVars: []string{"CACHE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "rescan-interval",
			Value:   6 * time.Hour,
			EnvVars: []string{"RESCAN_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:    "rescan-disabled",
			EnvVars: []string{"RESCAN_DISABLED"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logging.NewLoggerWithService("theorogram", cctx.String("log-level"))

		svc, err := setup(ctx, cctx, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		origins := cctx.StringSlice("cors-origin")
		if len(origins) == 1 && strings.Contains(origins[0], ",") {
			origins = strings.Split(origins[0], ",")
		}
		srv := api.NewServer(api.Deps{
			Submitter: svc.engine,
			Repos:     svc.repos,
			Awarder:   svc.ledger,
			Admin:     svc.admin,
			Rescan:    svc.scheduler,
			Cache:     svc.cache,
			Auth:      auth.NewAuthenticator(auth.NewVerifier(authConfig(cctx)), svc.repos.Users, logger),
		}, api.Config{
			CORSOrigins: origins,
			CacheTTL:    cctx.Duration("cache-ttl"),
		}, logger)

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return srv.Run(ctx, cctx.String("bind"))
		})
		eg.Go(func() error {
			return runMetrics(ctx, cctx.String("metrics-listen"), logger)
		})
		if !cctx.Bool("rescan-disabled") {
			eg.Go(func() error {
				return svc.scheduler.Run(ctx)
			})
		}

		if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server stopped: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

var rescanCmd = &cli.Command{
	Name:  "rescan",
	Usage: "run a single rescan pass over published theories and exit",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logging.NewLoggerWithService("theorogram", cctx.String("log-level"))
		svc, err := setup(ctx, cctx, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.scheduler.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("scanned=%d demoted=%d unchanged=%d skipped=%d failed=%d duration=%s\n",
			report.Scanned, report.Demoted, report.Unchanged, report.Skipped, report.Failed, report.Duration)
		return nil
	},
}

// services holds the components shared by the serve and rescan commands
type services struct {
	repos     *storage.Repositories
	cache     cache.Store
	ledger    *reputation.Ledger
	engine    *moderation.Engine
	scheduler *rescan.Scheduler
	admin     *admin.Service
	closers   []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func setup(ctx context.Context, cctx *cli.Context, logger logrus.FieldLogger) (*services, error) {
	svc := &services{}

	if dsn := cctx.String("database-url"); dsn != "" {
		db, err := storage.Open(ctx, dsn, cctx.Int("max-db-connections"))
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, db.Close)
		if err := storage.Migrate(ctx, db); err != nil {
			svc.Close()
			return nil, err
		}
		svc.repos = storage.NewPostgresRepositories(db)
		logger.Info("using postgres storage")
	} else {
		svc.repos, _ = storage.NewMemoryRepositories()
		logger.Warn("no database configured, using in-memory storage")
	}

	var locker rescan.Locker
	if url := cctx.String("redis-url"); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		svc.closers = append(svc.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			svc.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		svc.cache = cache.NewRedisStore(rdb, 10*time.Second)
		locker = rescan.NewRedisLocker(rdb)
	} else {
		mem, err := cache.NewMemoryStore(cctx.Int("cache-size"), cache.SystemClock)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.cache = mem
		locker = rescan.NewMemoryLocker()
	}

	gen, err := llm.NewGenerator(llm.Config{
		Provider: cctx.String("llm-provider"),
		Model:    cctx.String("llm-model"),
		APIKey:   cctx.String("llm-api-key"),
		BaseURL:  cctx.String("llm-api-url"),
		Timeout:  cctx.Duration("classify-timeout"),
	}, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}

	classifierCfg := moderation.DefaultClassifierConfig()
	classifierCfg.Timeout = cctx.Duration("classify-timeout")
	classifier := moderation.NewClassifier(gen, classifierCfg, logger)

	svc.ledger = reputation.NewLedger(svc.repos.Users, logger)
	svc.engine = moderation.NewEngine(classifier, svc.repos.Theories, svc.repos.Logs, svc.ledger, moderation.EngineConfig{
		FailClosed:         cctx.Bool("moderation-fail-closed"),
		RewardShadowbanned: cctx.Bool("reward-shadowbanned"),
	}, logger)

	rescanCfg := rescan.DefaultConfig()
	if d := cctx.Duration("rescan-interval"); d > 0 {
		rescanCfg.Interval = d
	}
	rescanCfg.BatchSize = cctx.Int("rescan-batch-size")
	rescanCfg.ItemDelay = cctx.Duration("rescan-delay")
	svc.scheduler = rescan.NewScheduler(
		api.NewInvalidatingRescanner(svc.engine, svc.cache, logger),
		svc.repos.Theories,
		locker,
		rescanCfg,
		logger,
	)

	svc.admin = admin.NewService(admin.Stores{
		Theories: svc.repos.Theories,
		Comments: svc.repos.Interactions,
		Users:    svc.repos.Users,
		Audit:    svc.repos.Audit,
	}, logger)

	return svc, nil
}

func runMetrics(ctx context.Context, addr string, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}
	return nil
}
