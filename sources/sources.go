package sources

import (
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"sort"
	"strings"

	"livinginsider-scraper/models"
)

const baseURL = "https://www.livinginsider.com"

type category struct {
	id     string
	label  string
	slug   string
	weight float64
}

type location struct {
	id     string
	label  string
	slug   string
	weight float64
}

// The category and location tables are static: the scraper targets one site
// and its known search taxonomy. Weights reflect relative listing volume.
var categories = []category{
	{"condo", "Condo", "condo", 1.0},
	{"house", "House", "home", 0.9},
	{"townhome", "Townhome", "townhome", 0.7},
	{"land", "Land", "land", 0.5},
	{"apartment", "Apartment", "apartment", 0.6},
	{"homeoffice", "Home Office", "home-office", 0.4},
	{"commercial", "Commercial", "retail-space", 0.3},
}

var locations = []location{
	{"bkk", "Bangkok", "bangkok", 1.0},
	{"nonthaburi", "Nonthaburi", "nonthaburi", 0.7},
	{"samutprakan", "Samut Prakan", "samut-prakan", 0.6},
	{"pathumthani", "Pathum Thani", "pathum-thani", 0.5},
	{"chonburi", "Chonburi", "chonburi", 0.8},
	{"chiangmai", "Chiang Mai", "chiang-mai", 0.6},
	{"phuket", "Phuket", "phuket", 0.7},
	{"khonkaen", "Khon Kaen", "khon-kaen", 0.4},
	{"korat", "Nakhon Ratchasima", "nakhon-ratchasima", 0.4},
}

// Generate enumerates the full category × location source set. It is pure
// and deterministic; IDs are stable so learned scores persist across runs
// within one process.
func Generate() []models.Source {
	out := make([]models.Source, 0, len(categories)*len(locations))
	for _, c := range categories {
		for _, l := range locations {
			out = append(out, models.Source{
				ID:         c.id + "_" + l.id,
				URL:        fmt.Sprintf("%s/searchword/%s/all/%s", baseURL, c.slug, l.slug),
				CategoryID: c.id,
				Category:   c.label,
				LocationID: l.id,
				Location:   l.label,
				Weight:     c.weight * l.weight,
			})
		}
	}
	return out
}

// PerfLookup exposes learned per-source scores to the selector. Implemented
// by the learning engine; tests supply fakes.
type PerfLookup interface {
	// SourceScore returns the learned composite score for a source id.
	SourceScore(id string) (float64, bool)
	// HasSamples reports whether any performance sample has been recorded.
	HasSamples() bool
}

// Select picks the ordered subset of sources to crawl this run.
//
// With performance data, every source gets learnedScore (0.5 when unseen)
// plus a random jitter in [0, 0.2); the jitter keeps untested sources from
// being starved forever by early lucky picks. Without data it falls back to
// staticWeight * rand[0,1). The divisor assumes roughly 10 listings per
// source on average.
func Select(all []models.Source, targetCount int, perf PerfLookup, rng *rand.Rand) []models.Source {
	if len(all) == 0 || targetCount < 1 {
		return nil
	}

	type scored struct {
		src   models.Source
		score float64
	}
	scoredSources := make([]scored, len(all))

	want := int(math.Ceil(float64(targetCount) / 10.0))
	if perf != nil && perf.HasSamples() {
		for i, s := range all {
			learned := 0.5
			if v, ok := perf.SourceScore(s.ID); ok {
				learned = v
			}
			scoredSources[i] = scored{s, learned + rng.Float64()*0.2}
		}
	} else {
		if want < 3 {
			want = 3
		}
		for i, s := range all {
			scoredSources[i] = scored{s, s.Weight * rng.Float64()}
		}
	}

	sort.SliceStable(scoredSources, func(i, j int) bool {
		return scoredSources[i].score > scoredSources[j].score
	})

	if want > len(scoredSources) {
		want = len(scoredSources)
	}
	out := make([]models.Source, want)
	for i := 0; i < want; i++ {
		out[i] = scoredSources[i].src
	}
	return out
}

// FilterCategory keeps only sources of the given category id. An empty id
// keeps everything.
func FilterCategory(all []models.Source, categoryID string) []models.Source {
	if categoryID == "" {
		return all
	}
	out := make([]models.Source, 0, len(all))
	for _, s := range all {
		if s.CategoryID == categoryID {
			out = append(out, s)
		}
	}
	return out
}

var dealSlugs = map[string]string{
	"sale":         "buy",
	"rent":         "rent",
	"down_payment": "downpayment",
}

// WithSearch returns a copy of src with the deal-type path segment and
// keyword query applied to its search URL. Unknown deal types leave the
// "all" segment in place.
func WithSearch(src models.Source, dealType, keyword string) models.Source {
	if slug, ok := dealSlugs[dealType]; ok {
		src.URL = strings.Replace(src.URL, "/all/", "/"+slug+"/", 1)
	}
	if keyword != "" {
		src.URL += "?keyword=" + url.QueryEscape(keyword)
	}
	return src
}
