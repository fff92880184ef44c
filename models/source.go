package models

// Source is one seeded search-listing URL (category × location pair). The
// full source set is generated statically once per process; a subset is
// selected fresh per run.
type Source struct {
	ID         string
	URL        string
	CategoryID string
	Category   string
	LocationID string
	Location   string

	// Weight = categoryWeight * locationWeight, used for the cold-start
	// randomized selection before any performance data exists.
	Weight float64
}
