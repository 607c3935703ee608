package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"postflow/internal/api"
	"postflow/internal/config"
	"postflow/internal/generator"
	"postflow/internal/publisher"
	"postflow/internal/queue"
	"postflow/internal/scheduler"
	"postflow/internal/workflow"
)

func main() {
	var (
		cfgPath = flag.String("config", "postflow.yaml", "path to YAML config")
		once    = flag.Bool("once", false, "run a single dispatch cycle and exit")
		dryRun  = flag.Bool("dry-run", false, "force simulated publishing regardless of config")
	)
	flag.Parse()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("ensure data dir")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("load timezone")
	}
	timing, err := cfg.Timing()
	if err != nil {
		log.Fatal().Err(err).Msg("build timing")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.QueueDB)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := queue.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := queue.NewSQLiteRepo(db)

	if n, err := queue.ImportLegacy(context.Background(), repo, cfg.LegacyQueue, loc); err != nil {
		log.Fatal().Err(err).Msg("legacy queue import")
	} else if n > 0 {
		log.Info().Int("imported", n).Str("path", cfg.LegacyQueue).Msg("seeded queue from legacy file")
	}

	var pub publisher.Publisher
	if *dryRun || cfg.Publisher.DryRun {
		pub = publisher.DryRun{}
		log.Info().Msg("publishing in dry-run mode")
	} else {
		client, err := publisher.NewClient(cfg.Publisher.Endpoint, cfg.Publisher.BearerToken)
		if err != nil {
			log.Fatal().Err(err).Msg("build publisher")
		}
		pub = client
	}

	svc := scheduler.NewService(repo, pub, loc, cfg.PollInterval())
	svc.SetSnapshotPaths(cfg.QueueSnapshot, cfg.HistorySnapshot)

	if *once {
		if err := svc.RunCycle(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("dispatch cycle")
		}
		log.Info().Msg("queue processed")
		return
	}

	composer := workflow.Composer{
		Gen:          generator.NewLLM(cfg.Generator.Endpoint, cfg.Generator.APIKey, cfg.Generator.Model),
		Fallback:     generator.NewTemplate(),
		Repo:         repo,
		Timing:       timing,
		SnapshotPath: cfg.QueueSnapshot,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	srv := &http.Server{Addr: cfg.API.Addr, Handler: api.NewServer(repo, svc, composer)}
	go func() {
		log.Info().Str("addr", cfg.API.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()

	// Let the in-flight cycle finish before closing the store.
	stopped := svc.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("gave up waiting for in-flight cycle")
	}

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
