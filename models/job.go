package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of one scrape run.
type JobStatus string

const (
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// RunOptions is the normalized configuration for one scrape run. It is
// immutable once the job is created.
type RunOptions struct {
	StartURL       string  `json:"start_url"`
	DealType       string  `json:"deal_type"`
	Category       string  `json:"category"`
	Keyword        string  `json:"keyword"`
	PriceMin       float64 `json:"price_min"`
	PriceMax       float64 `json:"price_max"`
	MaxPages       int     `json:"max_pages"`
	MaxResults     int     `json:"max_results"`
	SampleEvery    int     `json:"sample_every"`
	PreferFastMode bool    `json:"prefer_fast_mode"`
}

var validDealTypes = map[string]bool{"": true, "sale": true, "rent": true, "down_payment": true}

// Mirrors the seeded source taxonomy.
var validCategories = map[string]bool{
	"": true, "condo": true, "house": true, "townhome": true, "land": true,
	"apartment": true, "homeoffice": true, "commercial": true,
}

// Normalize clamps numeric knobs into their documented bounds and validates
// the rest. A validation error rejects the request before any job exists.
func (o *RunOptions) Normalize() error {
	if !validDealTypes[o.DealType] {
		return fmt.Errorf("invalid deal_type %q", o.DealType)
	}
	if !validCategories[o.Category] {
		return fmt.Errorf("unknown category %q", o.Category)
	}
	if o.PriceMin < 0 || o.PriceMax < 0 {
		return fmt.Errorf("price bounds must be non-negative")
	}
	if o.PriceMax > 0 && o.PriceMin > o.PriceMax {
		return fmt.Errorf("price_min %g exceeds price_max %g", o.PriceMin, o.PriceMax)
	}
	o.MaxResults = clampInt(o.MaxResults, 1, 5000)
	o.MaxPages = clampInt(o.MaxPages, 1, 200)
	if o.SampleEvery < 1 {
		o.SampleEvery = 1
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// JobError records one detail link that exhausted its retries.
type JobError struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// JobMeta carries the mutable progress counters of a run.
type JobMeta struct {
	SourcesPlanned    int        `json:"sources_planned"`
	SourcesDone       int        `json:"sources_done"`
	CollectedLinks    int        `json:"collected_links"`
	TotalParsed       int        `json:"total_parsed"`
	DuplicatesRemoved int        `json:"duplicates_removed"`
	Errors            []JobError `json:"errors"`
	ElapsedMs         int64      `json:"elapsed_ms"`
}

// ProgressEvent is one message pushed to job subscribers.
type ProgressEvent struct {
	Status    JobStatus `json:"status"`
	Meta      JobMeta   `json:"meta"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// JobSnapshot is the externally visible view of a job at one point in time.
// Rows is empty unless Status is done.
type JobSnapshot struct {
	ID        string     `json:"id"`
	Status    JobStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Options   RunOptions `json:"options"`
	Meta      JobMeta    `json:"meta"`
	Error     string     `json:"error,omitempty"`
	Rows      []*Listing `json:"rows"`
}
