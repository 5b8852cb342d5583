package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/diatomatlas/internal/config"
	"github.com/local/diatomatlas/internal/limiter"
	logpkg "github.com/local/diatomatlas/internal/logger"
	"github.com/local/diatomatlas/internal/metrics"
	"github.com/local/diatomatlas/internal/oracle"
	"github.com/local/diatomatlas/internal/pdf"
	"github.com/local/diatomatlas/internal/pipeline"
	"github.com/local/diatomatlas/internal/status"
	"github.com/local/diatomatlas/internal/storage"
	"github.com/local/diatomatlas/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	ctx := context.Background()

	// Blob store
	var blob storage.Client
	if os.Getenv("ATLAS_IN_MEMORY") == "1" {
		blob = storage.NewMemory()
		log.Warn().Msg("using in-memory blob store; nothing will persist")
	} else {
		s3, err := storage.NewS3Client(ctx, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.PublicBaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 client")
		}
		blob = s3
	}

	// Step status + lock; redis is optional for single-instance runs
	var steps status.Store
	var locker status.Locker
	var breaker limiter.Breaker
	if os.Getenv("ATLAS_NO_REDIS") == "1" {
		locker = status.NewLocalLocker()
		breaker = limiter.NewLocal(cfg.Oracle.MaxInflight, cfg.Oracle.BreakerBase, cfg.Oracle.BreakerMax)
		log.Warn().Msg("redis disabled; step status and lock are process-local")
	} else {
		rs, err := status.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rs.Close()
		steps = rs
		locker = status.NewRedisLocker(rs.Client(), cfg.Redis.LockTTL)

		br, err := limiter.New(limiter.Options{
			RedisURL:    cfg.Redis.URL,
			MaxInflight: cfg.Oracle.MaxInflight,
			BaseBackoff: cfg.Oracle.BreakerBase,
			MaxBackoff:  cfg.Oracle.BreakerMax,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init oracle breaker")
		}
		defer br.CloseClient()
		breaker = br
	}

	// Oracle
	orc, err := oracle.NewAdapter(cfg.Oracle, breaker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build oracle adapter")
	}

	pipe := pipeline.New(pipeline.Options{
		Blob:         blob,
		Extractor:    pdf.NewExtractor(),
		Oracle:       orc,
		Steps:        steps,
		Locker:       locker,
		PapersRoot:   cfg.Storage.PapersRoot,
		SnapshotRoot: cfg.Storage.SnapshotRoot,
		SessionID:    cfg.Storage.SessionID,
		Password:     cfg.Storage.SnapshotPassword,
	})

	mux := http.NewServeMux()
	pipe.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	// Dashboard
	w := web.New()
	w.RegisterRoutes(mux)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	fmt.Println("shutdown complete")
}
