package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/labelscan/internal/application"
	appai "github.com/bryanwahyu/labelscan/internal/application/ai"
	"github.com/bryanwahyu/labelscan/internal/application/capture"
	appscans "github.com/bryanwahyu/labelscan/internal/application/scans"
	"github.com/bryanwahyu/labelscan/internal/config"
	"github.com/bryanwahyu/labelscan/internal/domain/scanerrors"
	domain "github.com/bryanwahyu/labelscan/internal/domain/scans"
	"github.com/bryanwahyu/labelscan/internal/infra/ai/openai"
	"github.com/bryanwahyu/labelscan/internal/infra/ai/prompt"
	memdb "github.com/bryanwahyu/labelscan/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/labelscan/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/labelscan/internal/infra/db/postgres"
	"github.com/bryanwahyu/labelscan/internal/infra/httpserver"
	"github.com/bryanwahyu/labelscan/internal/infra/storage"
	"github.com/bryanwahyu/labelscan/internal/logger"
	"github.com/bryanwahyu/labelscan/internal/metrics"
	"github.com/bryanwahyu/labelscan/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		logger.WithError(err).Fatal("config load error")
	}
	logger.SetLevel(cfg.Log.Level)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkers := map[string]middleware.HealthChecker{
		"inference": middleware.InferenceConfigChecker{APIKey: cfg.Inference.APIKey},
	}

	// failure diagnostics
	failures, db, err := openFailures(ctx, cfg)
	if err != nil {
		logger.WithError(err).WithField("driver", cfg.Database.Driver).Fatal("database init error")
	}
	if db != nil {
		defer db.Close()
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	// previews
	var (
		previews domain.PreviewStore
		memStore *storage.MemoryStore
	)
	switch cfg.Storage.Driver {
	case "minio":
		m := cfg.Storage.Minio
		store, err := storage.NewMinio(ctx, storage.MinioOptions{
			Endpoint:  m.Endpoint,
			Region:    m.Region,
			Bucket:    m.BucketName,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Prefix:    m.Prefix,
			Expiry:    m.PresignExpiry,
		})
		if err != nil {
			logger.WithError(err).Fatal("minio init error")
		}
		previews = store
		checkers["storage"] = middleware.CheckFunc(store.Check)
	default:
		memStore = storage.NewMemoryStore()
		previews = memStore
	}

	// inference pipeline
	client := openai.NewClient(openai.Config{
		APIKey:    cfg.Inference.APIKey,
		BaseURL:   cfg.Inference.BaseURL,
		Model:     cfg.Inference.Model,
		MaxTokens: cfg.Inference.MaxTokens,
		Timeout:   cfg.Inference.Timeout,
	})
	analyzer := appai.NewService(client)

	sessions := appscans.NewService(appscans.Deps{
		Analyzer: analyzer,
		Previews: previews,
		Failures: failures,
		Clock:    application.SystemClock{},
	}, cfg.Sessions.TTL)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sessions.Run(ctx)
	}()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
	go limiter.Run(ctx)

	handler := httpserver.NewRouter(httpserver.Options{
		Sessions:       sessions,
		Source:         capture.NewSource(previews, cfg.Capture.MaxImageBytes),
		Previews:       memStore,
		Limiter:        limiter,
		Checkers:       checkers,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxWait:        cfg.Sessions.MaxWait,
		MaxImageBytes:  cfg.Capture.MaxImageBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// run server
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":           addr,
			"model":          cfg.Inference.Model,
			"prompt_version": prompt.Version,
			"storage":        cfg.Storage.Driver,
			"database":       dbDriverName(cfg.Database.Driver),
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	<-sweeperDone
}

func openFailures(ctx context.Context, cfg *config.Config) (scanerrors.Repository, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		if err := mysqlp.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return mysqlp.NewScanErrorRepository(db), db, nil
	case "postgres":
		db, err := pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		if err := pgp.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pgp.NewScanErrorRepository(db), db, nil
	default:
		return memdb.NewScanErrorRepository(cfg.Sessions.FailureKeep), nil, nil
	}
}

func dbDriverName(driver string) string {
	if driver == "" {
		return "memory"
	}
	return driver
}
