package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"livinginsider-scraper/api"
	"livinginsider-scraper/config"
	"livinginsider-scraper/jobs"
	"livinginsider-scraper/models"
	"livinginsider-scraper/scraper/livinginsider"
	"livinginsider-scraper/services"
	"livinginsider-scraper/storage"
	"livinginsider-scraper/utils"
)

func main() {
	once := flag.Bool("once", false, "run a single scrape with env options and write CSV, then exit")
	flag.Parse()

	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== LivingInsider Scraping System starting ===")
	logger.Info("Config: concurrency: %d | retries: %d | scroll rounds: %d | job ttl: %v | capacity: %d",
		cfg.MaxConcurrency, cfg.DetailRetries, cfg.ScrollRounds, cfg.JobTTL, cfg.JobCapacity)

	store := jobs.NewStore(cfg.JobTTL, cfg.JobCapacity, logger)
	defer store.Close()

	engine := services.NewLearningEngine()
	pipeline := livinginsider.New(cfg, logger, store, engine)

	var pg *storage.PostgresWriter
	if cfg.PostgresDSN != "" {
		var err error
		pg, err = storage.NewPostgresWriter(cfg.PostgresDSN, logger)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL: %v", err)
			os.Exit(1)
		}
		defer pg.Close()
		logger.Info("PostgreSQL persistence enabled")
	}

	if *once {
		runOnce(cfg, logger, store, pipeline, pg)
		return
	}

	runner := &persistingRunner{pipeline: pipeline, store: store, logger: logger}
	if pg != nil {
		runner.sink = pg
	}
	server := api.NewServer(store, runner, logger)

	logger.Info("HTTP API listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, server.Router()); err != nil {
		logger.Error("HTTP server failed: %v", err)
		os.Exit(1)
	}
}

// persistingRunner runs the pipeline and, when a Postgres sink is
// configured, persists the finished rows.
type persistingRunner struct {
	pipeline *livinginsider.Pipeline
	store    *jobs.Store
	sink     storage.ListingWriter
	logger   *utils.Logger
}

func (r *persistingRunner) Run(ctx context.Context, jobID string, opts models.RunOptions) {
	r.pipeline.Run(ctx, jobID, opts)

	if r.sink == nil {
		return
	}
	rows, err := r.store.Rows(jobID)
	if err != nil {
		return // job failed or was evicted; nothing to persist
	}
	if err := r.sink.Write(rows); err != nil {
		r.logger.Error("Persisting job %s failed: %v", jobID, err)
	}
}

// runOnce mirrors the original one-shot mode: a single run driven by env
// options, results written to CSV (and Postgres when configured).
func runOnce(cfg *config.Config, logger *utils.Logger, store *jobs.Store,
	pipeline *livinginsider.Pipeline, pg *storage.PostgresWriter) {

	opts := models.RunOptions{MaxResults: 100, MaxPages: 10, SampleEvery: 1}
	if err := opts.Normalize(); err != nil {
		logger.Error("Invalid run options: %v", err)
		os.Exit(1)
	}

	id, ctx := store.Create(opts)
	pipeline.Run(ctx, id, opts)

	rows, err := store.Rows(id)
	if err != nil {
		logger.Error("Scrape did not finish cleanly: %v", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		logger.Error("No listings were scraped. Exiting.")
		os.Exit(1)
	}

	if err := storage.WriteCSVFile(cfg.CSVOutputPath, rows); err != nil {
		logger.Error("CSV write failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Saved %d listings to %s", len(rows), cfg.CSVOutputPath)

	if pg != nil {
		if err := pg.Write(rows); err != nil {
			logger.Error("PostgreSQL write failed: %v", err)
		} else {
			logger.Info("Listings stored in PostgreSQL (table: listings)")
		}
	}
}
