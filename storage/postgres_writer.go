package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"livinginsider-scraper/models"
	"livinginsider-scraper/utils"
)

// PostgresWriter persists finished-job listings to PostgreSQL. The core
// query columns are first-class; the full fixed-schema record rides along
// as a JSONB payload so the table survives schema growth.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(dsn string, logger *utils.Logger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	ping := utils.RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, Logger: logger}
	if err := ping.Do(context.Background(), "postgres ping", db.Ping); err != nil {
		return nil, err
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			listing_id    TEXT PRIMARY KEY,
			listing_url   TEXT NOT NULL,
			title         TEXT,
			category      TEXT,
			province      TEXT,
			price         NUMERIC(14,2),
			area_sqm      NUMERIC(10,2),
			quality_score INT NOT NULL DEFAULT 0,
			value_score   INT NOT NULL DEFAULT 0,
			anomaly_flags TEXT,
			payload       JSONB NOT NULL,
			scraped_at    TIMESTAMPTZ NOT NULL,
			stored_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_price    ON listings(price);
		CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category);
		CREATE INDEX IF NOT EXISTS idx_listings_province ON listings(province);
		CREATE INDEX IF NOT EXISTS idx_listings_value    ON listings(value_score);
	`)
	return err
}

// Write batch-upserts listings; a re-scraped listing replaces its previous
// record.
func (pw *PostgresWriter) Write(listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := pw.insertBatch(listings[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (pw *PostgresWriter) insertBatch(batch []*models.Listing) error {
	const cols = 12
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)

	for idx, l := range batch {
		payload, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("postgres: marshal %s: %w", l.ListingID, err)
		}

		base := idx * cols
		placeholders := make([]string, cols)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			l.ListingID, l.ListingURL, l.Title, l.Category, l.Province,
			l.Price, l.AreaSqm, l.QualityScore, l.ValueScore, l.AnomalyFlags,
			payload, l.ScrapedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (
			listing_id, listing_url, title, category, province,
			price, area_sqm, quality_score, value_score, anomaly_flags,
			payload, scraped_at
		)
		VALUES %s
		ON CONFLICT (listing_id) DO UPDATE SET
			listing_url   = EXCLUDED.listing_url,
			title         = EXCLUDED.title,
			category      = EXCLUDED.category,
			province      = EXCLUDED.province,
			price         = EXCLUDED.price,
			area_sqm      = EXCLUDED.area_sqm,
			quality_score = EXCLUDED.quality_score,
			value_score   = EXCLUDED.value_score,
			anomaly_flags = EXCLUDED.anomaly_flags,
			payload       = EXCLUDED.payload,
			scraped_at    = EXCLUDED.scraped_at
	`, strings.Join(valueStrings, ","))

	_, err := pw.db.Exec(query, valueArgs...)
	return err
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
