package services

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"livinginsider-scraper/models"
)

// LearningEngine accumulates in-memory scrape heuristics: per-source
// performance, price statistics for anomaly detection, duplicate signatures
// and scroll-effectiveness history. It is constructed explicitly and passed
// by pointer, never as package-level state, so tests get isolated instances.
// All methods are safe for concurrent use.
type LearningEngine struct {
	mu sync.Mutex

	sourcePerf map[string]*sourceStats
	global     priceStats
	byCategory map[string]*priceStats
	signatures map[string]struct{}
	scroll     []scrollSample
}

type sourceStats struct {
	attempts   int
	successes  int
	avgLinks   float64
	qualityObs int
	avgQuality float64
	score      float64
}

type priceStats struct {
	min    float64
	max    float64
	sum    float64
	count  int
	values []float64
}

type scrollSample struct {
	rounds int
	links  int
}

const scrollHistorySize = 10

// NewLearningEngine creates an empty engine.
func NewLearningEngine() *LearningEngine {
	return &LearningEngine{
		sourcePerf: make(map[string]*sourceStats),
		byCategory: make(map[string]*priceStats),
		signatures: make(map[string]struct{}),
	}
}

// RecordSourceSample folds one source attempt into the performance map.
// Success means the attempt found at least one link. The composite score
// blends success rate with normalized link yield and average quality; the
// quality argument is only an estimate, refined per listing by
// RecordSourceQuality once scoring has run.
func (e *LearningEngine) RecordSourceSample(sourceID string, linksFound int, quality float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.statsFor(sourceID)
	st.attempts++
	if linksFound > 0 {
		st.successes++
	}
	st.avgLinks += (float64(linksFound) - st.avgLinks) / float64(st.attempts)
	st.qualityObs++
	st.avgQuality += (quality - st.avgQuality) / float64(st.qualityObs)
	st.recompute()
}

// RecordSourceQuality folds one scored listing's quality (0..1) back into
// the source it was collected from.
func (e *LearningEngine) RecordSourceQuality(sourceID string, quality float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.statsFor(sourceID)
	st.qualityObs++
	st.avgQuality += (quality - st.avgQuality) / float64(st.qualityObs)
	st.recompute()
}

func (e *LearningEngine) statsFor(sourceID string) *sourceStats {
	st, ok := e.sourcePerf[sourceID]
	if !ok {
		st = &sourceStats{}
		e.sourcePerf[sourceID] = st
	}
	return st
}

func (st *sourceStats) recompute() {
	successRate := 0.0
	if st.attempts > 0 {
		successRate = float64(st.successes) / float64(st.attempts)
	}
	linkYield := st.avgLinks / 20.0
	if linkYield > 1 {
		linkYield = 1
	}
	st.score = 0.5*successRate + 0.3*linkYield + 0.2*st.avgQuality
}

// SourceScore returns the learned composite score for a source id.
func (e *LearningEngine) SourceScore(id string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sourcePerf[id]
	if !ok {
		return 0, false
	}
	return st.score, true
}

// HasSamples reports whether any source performance sample exists.
func (e *LearningEngine) HasSamples() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sourcePerf) > 0
}

// Signature derives the duplicate-detection key from normalized listing
// attributes: lowercased whitespace-stripped title, price, area, bedrooms
// and location text.
func Signature(l *models.Listing) string {
	var b strings.Builder
	if l.Title != nil {
		b.WriteString(stripSpace(strings.ToLower(*l.Title)))
	}
	b.WriteByte('|')
	if l.Price != nil {
		fmt.Fprintf(&b, "%.2f", *l.Price)
	}
	b.WriteByte('|')
	if l.AreaSqm != nil {
		fmt.Fprintf(&b, "%.2f", *l.AreaSqm)
	}
	b.WriteByte('|')
	if l.Bedrooms != nil {
		fmt.Fprintf(&b, "%d", *l.Bedrooms)
	}
	b.WriteByte('|')
	if l.District != nil {
		b.WriteString(stripSpace(strings.ToLower(*l.District)))
	}
	return b.String()
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// CheckDuplicate records the listing's signature and reports whether it was
// already present. The first occurrence is recorded, not flagged.
func (e *LearningEngine) CheckDuplicate(l *models.Listing) bool {
	sig := Signature(l)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.signatures[sig]; seen {
		return true
	}
	e.signatures[sig] = struct{}{}
	return false
}

// LearnPrice folds one observed price into the global and per-category
// statistics. Non-positive prices are ignored.
func (e *LearningEngine) LearnPrice(price float64, category string) {
	if price <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.global.add(price)
	cs, ok := e.byCategory[category]
	if !ok {
		cs = &priceStats{}
		e.byCategory[category] = cs
	}
	cs.add(price)
}

func (p *priceStats) add(v float64) {
	if p.count == 0 || v < p.min {
		p.min = v
	}
	if v > p.max {
		p.max = v
	}
	p.sum += v
	p.count++
	p.values = append(p.values, v)
}

func (p *priceStats) mean() float64 {
	if p.count == 0 {
		return 0
	}
	return p.sum / float64(p.count)
}

func (p *priceStats) stddev() float64 {
	if p.count == 0 {
		return 0
	}
	m := p.mean()
	var sq float64
	for _, v := range p.values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(p.count))
}

// Price anomaly labels.
const (
	AnomalyOutlierHigh      = "outlier_high"
	AnomalyOutlierLow       = "outlier_low"
	AnomalySuspiciouslyLow  = "suspiciously_low"
	AnomalySuspiciouslyHigh = "suspiciously_high"
)

// DetectPriceAnomaly classifies a price against the learned statistics,
// returning "" when nothing fires. Global checks need at least 5 samples and
// take precedence over category checks; category checks need at least 3
// samples in that category. At most one label is returned.
func (e *LearningEngine) DetectPriceAnomaly(price float64, category string) string {
	if price <= 0 {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.global.count >= 5 {
		mean := e.global.mean()
		if sd := e.global.stddev(); sd > 0 {
			if z := math.Abs(price-mean) / sd; z > 3 {
				return AnomalyOutlierHigh
			}
		}
		if price < 0.1*mean {
			return AnomalyOutlierLow
		}
	}

	if cs, ok := e.byCategory[category]; ok && cs.count >= 3 {
		mean := cs.mean()
		if price < 0.3*mean {
			return AnomalySuspiciouslyLow
		}
		if price > 3.0*mean {
			return AnomalySuspiciouslyHigh
		}
	}

	return ""
}

// GlobalPriceCount returns how many prices have been learned so far.
func (e *LearningEngine) GlobalPriceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.global.count
}

// RecordScrollSample appends one {roundsUsed, linksFound} observation,
// keeping only the most recent history window.
func (e *LearningEngine) RecordScrollSample(rounds, linksFound int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scroll = append(e.scroll, scrollSample{rounds, linksFound})
	if len(e.scroll) > scrollHistorySize {
		e.scroll = e.scroll[len(e.scroll)-scrollHistorySize:]
	}
}

// Scroll recommendation tuning. Lean yields push the round count up, rich
// yields pull it down.
const (
	scrollMinRounds  = 5
	scrollMaxRounds  = 35
	scrollLeanMean   = 8
	scrollRichMean   = 20
	scrollAdjustStep = 5
)

// RecommendScrollRounds adjusts the current round count from the mean link
// yield of the 3 most recent samples. With fewer than 3 samples the current
// value is returned unchanged.
func (e *LearningEngine) RecommendScrollRounds(current int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.scroll) < 3 {
		return current
	}

	recent := e.scroll[len(e.scroll)-3:]
	var total int
	for _, s := range recent {
		total += s.links
	}
	mean := float64(total) / 3.0

	switch {
	case mean < scrollLeanMean:
		if next := current + scrollAdjustStep; next <= scrollMaxRounds {
			return next
		}
		return scrollMaxRounds
	case mean > scrollRichMean:
		if next := current - scrollAdjustStep; next >= scrollMinRounds {
			return next
		}
		return scrollMinRounds
	default:
		return current
	}
}
