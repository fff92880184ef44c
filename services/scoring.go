package services

import (
	"math"
	"regexp"
	"strings"

	"livinginsider-scraper/models"
)

// thaiPhoneRegexp matches a local 9–10 digit number starting with 0, after
// non-digits are stripped.
var thaiPhoneRegexp = regexp.MustCompile(`^0\d{8,9}$`)

var nonDigitRegexp = regexp.MustCompile(`\D`)

// Scorer computes per-listing quality, dashboard and anomaly scores. All
// internal sub-scores are 0–1 floats; stored scores are 0–100 ints,
// converted exactly once at this boundary.
type Scorer struct {
	engine *LearningEngine
}

// NewScorer creates a Scorer backed by the given learning engine.
func NewScorer(engine *LearningEngine) *Scorer {
	return &Scorer{engine: engine}
}

// Score fills every derived score except ValueScore: completeness, contact,
// image and price-reliability sub-scores rolled into QualityScore, plus the
// dashboard scores and anomaly flags. ScoreValue must run afterwards, since
// value depends on quality.
func (s *Scorer) Score(l *models.Listing) {
	completeness := completenessScore(l)
	contact := contactScore(l)
	image := imageScore(l)
	reliability := priceReliabilityScore(l)

	quality := 0.35*completeness + 0.25*contact + 0.20*image + 0.20*reliability

	l.CompletenessScore = pct(completeness)
	l.PriceScore = pct(reliability)
	l.QualityScore = pct(quality)

	l.WalkScore = walkScore(l.NearestStationKm)
	l.LocationScore = locationScore(l)
	l.FacilityScore = facilityScore(l)
	l.InvestmentScore = investmentScore(l)

	l.AnomalyFlags = s.anomalyFlags(l)
}

// ScoreValue computes the composite value score from the already-stored
// 0–100 quality, price-reliability and location scores.
func (s *Scorer) ScoreValue(l *models.Listing) {
	l.ValueScore = int(math.Round(
		float64(l.QualityScore)*0.40 +
			float64(l.PriceScore)*0.30 +
			float64(l.LocationScore)*0.30))
}

func pct(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return int(math.Round(v * 100))
}

// completenessScore is the fraction of a fixed 12-field checklist that holds
// real data.
func completenessScore(l *models.Listing) float64 {
	checks := []bool{
		strPresent(l.Title),
		l.Price != nil && *l.Price > 0,
		l.AreaSqm != nil && *l.AreaSqm > 0,
		l.Bedrooms != nil,
		l.Bathrooms != nil,
		strPresent(l.Province) || strPresent(l.District),
		l.Description != nil && len(*l.Description) >= 30,
		l.ImageCount > 0,
		strPresent(l.AgentPhone),
		strPresent(l.PostedDate),
		l.Latitude != nil && l.Longitude != nil,
		strPresent(l.NearestStation),
	}

	filled := 0
	for _, ok := range checks {
		if ok {
			filled++
		}
	}
	return float64(filled) / float64(len(checks))
}

// contactScore gives additive credit for each reachable contact channel.
func contactScore(l *models.Listing) float64 {
	score := 0.0
	if l.AgentPhone != nil {
		digits := nonDigitRegexp.ReplaceAllString(*l.AgentPhone, "")
		if thaiPhoneRegexp.MatchString(digits) {
			score += 0.4
		}
	}
	if l.AgentEmail != nil && strings.Contains(*l.AgentEmail, "@") {
		score += 0.2
	}
	if strPresent(l.AgentLine) {
		score += 0.2
	}
	if strPresent(l.AgentName) {
		score += 0.1
	}
	if l.AgentVerified != nil && *l.AgentVerified {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// imageScore is linear up to 10 images.
func imageScore(l *models.Listing) float64 {
	score := float64(l.ImageCount) / 10.0
	if score > 1 {
		score = 1
	}
	return score
}

// Absolute price sanity window in THB; listings far outside it are almost
// always data-entry mistakes.
const (
	sanePriceMin = 1_000.0
	sanePriceMax = 1_000_000_000.0
)

// priceReliabilityScore: base credit for having a price at all, bonuses for
// a per-area figure, a sane absolute range, and a visible discount.
func priceReliabilityScore(l *models.Listing) float64 {
	if l.Price == nil || *l.Price <= 0 {
		return 0
	}
	score := 0.4
	if l.PricePerSqm != nil && *l.PricePerSqm > 0 {
		score += 0.2
	}
	if *l.Price >= sanePriceMin && *l.Price <= sanePriceMax {
		score += 0.2
	}
	if l.OriginalPrice != nil && *l.OriginalPrice > *l.Price {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// walkScore is a step function of distance to the nearest transit stop.
func walkScore(stationKm *float64) int {
	if stationKm == nil {
		return 20
	}
	km := *stationKm
	switch {
	case km <= 0.3:
		return 100
	case km <= 0.6:
		return 85
	case km <= 1.0:
		return 70
	case km <= 1.5:
		return 55
	case km <= 2.5:
		return 35
	default:
		return 20
	}
}

func locationScore(l *models.Listing) int {
	score := 0

	if l.NearestStationKm != nil {
		switch km := *l.NearestStationKm; {
		case km <= 0.5:
			score += 50
		case km <= 1.0:
			score += 40
		case km <= 2.0:
			score += 25
		case km <= 5.0:
			score += 10
		}
	}
	if l.NearestMallKm != nil {
		switch km := *l.NearestMallKm; {
		case km <= 1.0:
			score += 25
		case km <= 3.0:
			score += 15
		case km <= 5.0:
			score += 8
		}
	}
	if l.NearestHospitalKm != nil {
		switch km := *l.NearestHospitalKm; {
		case km <= 2.0:
			score += 25
		case km <= 5.0:
			score += 15
		case km <= 10.0:
			score += 8
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

func facilityScore(l *models.Listing) int {
	score := l.FacilityCount * 8
	if score > 60 {
		score = 60
	}
	if l.HasPool {
		score += 20
	}
	if l.HasGym {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

func investmentScore(l *models.Listing) int {
	score := 50.0

	if l.PricePerSqm != nil && *l.PricePerSqm > 0 {
		switch ppsm := *l.PricePerSqm; {
		case ppsm < 50_000:
			score += 20
		case ppsm < 100_000:
			score += 10
		}
	}
	if l.NearestStationKm != nil && *l.NearestStationKm <= 1.0 {
		score += 15
	}

	facilities := l.FacilityCount
	if facilities > 10 {
		facilities = 10
	}
	score += float64(facilities) * 1.5

	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

// Listing-level anomaly flag labels.
const (
	FlagMissingContact   = "missing_contact"
	FlagFewImages        = "few_images"
	FlagMissingPrice     = "missing_price"
	FlagShortTitle       = "short_title"
	FlagShortDescription = "short_description"
)

// anomalyFlags returns the comma-joined flag string, or nil when no flag
// fires. The price anomaly (at most one label, per the engine's precedence)
// comes first.
func (s *Scorer) anomalyFlags(l *models.Listing) *string {
	var flags []string

	if l.Price != nil && *l.Price > 0 {
		cat := ""
		if l.Category != nil {
			cat = *l.Category
		}
		if a := s.engine.DetectPriceAnomaly(*l.Price, cat); a != "" {
			flags = append(flags, a)
		}
	} else {
		flags = append(flags, FlagMissingPrice)
	}

	if !strPresent(l.AgentPhone) && !strPresent(l.AgentEmail) && !strPresent(l.AgentLine) {
		flags = append(flags, FlagMissingContact)
	}
	if l.ImageCount < 3 {
		flags = append(flags, FlagFewImages)
	}
	if l.Title == nil || len(strings.TrimSpace(*l.Title)) < 10 {
		flags = append(flags, FlagShortTitle)
	}
	if l.Description == nil || len(strings.TrimSpace(*l.Description)) < 30 {
		flags = append(flags, FlagShortDescription)
	}

	if len(flags) == 0 {
		return nil
	}
	joined := strings.Join(flags, ",")
	return &joined
}

func strPresent(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
