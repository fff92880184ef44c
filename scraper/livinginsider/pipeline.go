package livinginsider

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"livinginsider-scraper/config"
	"livinginsider-scraper/jobs"
	"livinginsider-scraper/models"
	"livinginsider-scraper/services"
	"livinginsider-scraper/sources"
	"livinginsider-scraper/utils"
)

// CollectFunc harvests detail-page links from one search source. browserCtx
// is the chromedp context subtree used for the link-collection phase; ctx is
// the job context used for cancellation.
type CollectFunc func(ctx, browserCtx context.Context, src models.Source, scrollRounds int) ([]string, error)

// ExtractFunc fetches and extracts one detail page on the worker's page
// context, returning the raw field bag.
type ExtractFunc func(ctx, pageCtx context.Context, url string, fast bool) (models.RawFields, error)

// Pipeline drives one scrape run end to end: source selection, link
// collection, concurrent detail extraction, learning/scoring, and job store
// updates. The browser seams (launch, newPage, collect, extract) are fields
// so tests can run the pipeline without a browser.
type Pipeline struct {
	cfg        *config.Config
	logger     *utils.Logger
	store      *jobs.Store
	engine     *services.LearningEngine
	normalizer *services.Normalizer
	scorer     *services.Scorer

	launch  func(ctx context.Context) (context.Context, context.CancelFunc, error)
	newPage func(parent context.Context) (context.Context, context.CancelFunc)
	collect CollectFunc
	extract ExtractFunc
}

// New creates a Pipeline wired to the real chromedp browser.
func New(cfg *config.Config, logger *utils.Logger, store *jobs.Store, engine *services.LearningEngine) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		logger:     logger.Tagged("pipeline"),
		store:      store,
		engine:     engine,
		normalizer: services.NewNormalizer(logger, cfg.MaxImages),
		scorer:     services.NewScorer(engine),
	}
	p.launch = func(ctx context.Context) (context.Context, context.CancelFunc, error) {
		return launchBrowser(ctx, cfg)
	}
	p.newPage = newPage
	p.collect = p.collectLinks
	p.extract = p.extractDetail
	return p
}

// Run executes one scrape run for an already-created job. It is meant to be
// called on its own goroutine; the job always reaches a terminal state.
// Partial success is the default outcome; only a failure to set the
// pipeline up at all (browser launch, initial context) yields job error.
func (p *Pipeline) Run(ctx context.Context, jobID string, opts models.RunOptions) {
	start := time.Now()

	allocCtx, cancelAlloc, err := p.launch(ctx)
	if err != nil {
		p.store.Fail(jobID, err)
		return
	}
	defer cancelAlloc()

	links, linkSources := p.collectPhase(ctx, allocCtx, jobID, opts)
	rows := p.detailPhase(ctx, allocCtx, jobID, opts, links, linkSources)

	p.store.Complete(jobID, rows, func(m *models.JobMeta) {
		m.ElapsedMs = time.Since(start).Milliseconds()
	})
}

// planSources resolves the run options into the ordered source list for
// this run. An explicit start URL bypasses generation and selection.
func (p *Pipeline) planSources(opts models.RunOptions) []models.Source {
	if opts.StartURL != "" {
		return []models.Source{{
			ID:       "custom",
			URL:      opts.StartURL,
			Category: opts.Category,
			Weight:   1,
		}}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	all := sources.FilterCategory(sources.Generate(), opts.Category)
	selected := sources.Select(all, opts.MaxResults, p.engine, rng)

	if opts.MaxPages > 0 && len(selected) > opts.MaxPages {
		selected = selected[:opts.MaxPages]
	}
	for i, src := range selected {
		selected[i] = sources.WithSearch(src, opts.DealType, opts.Keyword)
	}
	return selected
}

// collectPhase walks the selected sources sequentially, feeding the shared
// deduplicated link set. Sequential on purpose: scroll-effectiveness
// feedback from one source tunes the round count for the next. The second
// return value attributes each link to the source that first found it.
func (p *Pipeline) collectPhase(ctx, allocCtx context.Context, jobID string, opts models.RunOptions) ([]string, map[string]string) {
	selected := p.planSources(opts)

	p.store.UpdateMeta(jobID, func(m *models.JobMeta) {
		m.SourcesPlanned = len(selected)
	})
	p.store.Broadcast(jobID, "sources selected")

	// One browser context for the whole collection phase, closed before the
	// detail workers start.
	collectCtx, cancelCollect := p.newPage(allocCtx)
	defer cancelCollect()

	linkSet := utils.NewURLSet()
	linkSources := make(map[string]string)
	rounds := p.cfg.ScrollRounds
	linkBudget := 2 * opts.MaxResults // safety margin before sampling/truncation

	for _, src := range selected {
		if ctx.Err() != nil {
			p.logger.Info("job %s cancelled during collection", jobID)
			break
		}

		found, err := p.collect(ctx, collectCtx, src, rounds)
		if err != nil {
			p.logger.Warn("source %s failed: %v", src.ID, err)
		}
		for _, u := range found {
			if linkSet.Add(u) {
				linkSources[u] = src.ID
			}
		}

		// No per-listing quality is known yet; the placeholder estimate is
		// refined per listing once the detail workers have scored it.
		p.engine.RecordSourceSample(src.ID, len(found), 0.5)
		p.engine.RecordScrollSample(rounds, len(found))
		rounds = p.engine.RecommendScrollRounds(rounds)

		p.store.UpdateMeta(jobID, func(m *models.JobMeta) {
			m.SourcesDone++
			m.CollectedLinks = linkSet.Size()
		})
		p.store.Broadcast(jobID, "source processed: "+src.ID)

		if linkSet.Size() >= linkBudget {
			p.logger.Info("link budget reached (%d >= %d), stopping collection", linkSet.Size(), linkBudget)
			break
		}
	}

	return linkSet.Items(), linkSources
}

// detailPhase drains the link queue with a bounded pool of workers, each
// owning one browser page.
func (p *Pipeline) detailPhase(ctx, allocCtx context.Context, jobID string, opts models.RunOptions,
	links []string, linkSources map[string]string) []*models.Listing {
	if opts.SampleEvery > 1 {
		sampled := make([]string, 0, len(links)/opts.SampleEvery+1)
		for i := 0; i < len(links); i += opts.SampleEvery {
			sampled = append(sampled, links[i])
		}
		links = sampled
	}
	if len(links) > opts.MaxResults {
		links = links[:opts.MaxResults]
	}

	queue := utils.NewWorkQueue(links)
	var (
		mu   sync.Mutex
		rows []*models.Listing
		wg   sync.WaitGroup
	)

	workers := p.cfg.MaxConcurrency
	if workers < 1 {
		workers = 1
	}
	p.logger.Info("job %s: %d links queued, %d workers", jobID, len(links), workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.workerLoop(ctx, allocCtx, jobID, opts, workerID, queue, linkSources, func(l *models.Listing) {
				mu.Lock()
				rows = append(rows, l)
				mu.Unlock()
			})
		}(w)
	}
	wg.Wait()

	return rows
}

func (p *Pipeline) workerLoop(ctx, allocCtx context.Context, jobID string, opts models.RunOptions,
	workerID int, queue *utils.WorkQueue, linkSources map[string]string, emit func(*models.Listing)) {

	pageCtx, cancelPage := p.newPage(allocCtx)
	defer func() { cancelPage() }()

	successes := 0
	for {
		if ctx.Err() != nil {
			return
		}
		url, ok := queue.Claim()
		if !ok {
			return
		}

		raw, err := p.processLink(ctx, &pageCtx, &cancelPage, allocCtx, url, opts.PreferFastMode)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("worker %d: %s exhausted retries: %v", workerID, url, err)
			p.store.UpdateMeta(jobID, func(m *models.JobMeta) {
				m.Errors = append(m.Errors, models.JobError{URL: url, Message: err.Error()})
			})
			continue
		}

		listing := p.normalizer.Normalize(raw, url)

		if !withinPriceRange(listing, opts) {
			p.logger.Debug("worker %d: %s outside requested price range, skipped", workerID, url)
			continue
		}

		if p.engine.CheckDuplicate(listing) {
			p.store.UpdateMeta(jobID, func(m *models.JobMeta) { m.DuplicatesRemoved++ })
			continue
		}

		if listing.Price != nil {
			cat := ""
			if listing.Category != nil {
				cat = *listing.Category
			}
			p.engine.LearnPrice(*listing.Price, cat)
		}

		p.scorer.Score(listing)
		p.scorer.ScoreValue(listing) // second pass: value depends on quality

		if srcID, ok := linkSources[url]; ok {
			p.engine.RecordSourceQuality(srcID, float64(listing.QualityScore)/100)
		}

		emit(listing)
		p.store.UpdateMeta(jobID, func(m *models.JobMeta) { m.TotalParsed++ })
		p.store.Broadcast(jobID, "detail parsed")

		successes++
		if p.cfg.RecycleEvery > 0 && successes%p.cfg.RecycleEvery == 0 {
			cancelPage()
			pageCtx, cancelPage = p.newPage(allocCtx)
			p.logger.Debug("worker %d recycled its page after %d items", workerID, successes)
		}

		if p.cfg.RateLimitMs > 0 {
			select {
			case <-time.After(time.Duration(p.cfg.RateLimitMs) * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}
}

// processLink runs the per-item retry loop. Crash-class failures recreate
// the worker's page before the next attempt with a longer backoff; other
// failures back off exponentially. The page context pointer is swapped in
// place so the caller keeps using the fresh page.
func (p *Pipeline) processLink(ctx context.Context, pageCtx *context.Context, cancelPage *context.CancelFunc,
	allocCtx context.Context, url string, fast bool) (models.RawFields, error) {

	var lastErr error
	retries := p.cfg.DetailRetries
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if (*pageCtx).Err() != nil {
			(*cancelPage)()
			*pageCtx, *cancelPage = p.newPage(allocCtx)
		}

		raw, err := p.extract(ctx, *pageCtx, url, fast)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if attempt == retries {
			break
		}

		var backoff time.Duration
		if isCrashError(err) {
			(*cancelPage)()
			*pageCtx, *cancelPage = p.newPage(allocCtx)
			backoff = time.Duration(attempt) * 1500 * time.Millisecond
		} else {
			backoff = 450*time.Millisecond + time.Duration(attempt)*700*time.Millisecond
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// withinPriceRange applies the requested price bounds. Listings without a
// parsed price always pass; the bounds only exclude known-out-of-range rows.
func withinPriceRange(l *models.Listing, opts models.RunOptions) bool {
	if l.Price == nil {
		return true
	}
	if opts.PriceMin > 0 && *l.Price < opts.PriceMin {
		return false
	}
	if opts.PriceMax > 0 && *l.Price > opts.PriceMax {
		return false
	}
	return true
}

// isCrashError recognizes closed/crashed page signals that require page
// recreation rather than a plain retry.
func isCrashError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"target crashed",
		"target closed",
		"session closed",
		"page crashed",
		"detached",
		"websocket",
		"browser has been closed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
