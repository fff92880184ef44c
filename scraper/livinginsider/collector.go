package livinginsider

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"livinginsider-scraper/models"
)

// stableHeightRounds is the early-stop condition for lazy loading: if the
// page height is unchanged this many scroll rounds in a row, there is no
// more content coming.
const stableHeightRounds = 5

const navAttempts = 2

// detailLinksJS harvests every anchor that points at a canonical detail page
// and resolves it against the page origin.
const detailLinksJS = `
(function() {
	var out = [];
	var seen = {};
	var anchors = document.querySelectorAll('a[href*="/livingdetail/"]');
	for (var i = 0; i < anchors.length; i++) {
		var href = anchors[i].getAttribute('href');
		if (!href) continue;
		var abs;
		try { abs = new URL(href, location.origin).href; } catch (e) { continue; }
		if (!/\/livingdetail\/\d+/.test(abs)) continue;
		if (seen[abs]) continue;
		seen[abs] = true;
		out.push(abs);
	}
	return out;
})()
`

// dismissOverlaysJS closes the known cookie-consent and promo overlays.
// Best effort: selectors go stale, and a leftover overlay only costs links.
const dismissOverlaysJS = `
(function() {
	var selectors = [
		'#cookie-consent .btn-accept',
		'.cookie-banner button',
		'.modal.show .close',
		'.modal.in .close',
		'[aria-label="Close"]',
	];
	for (var i = 0; i < selectors.length; i++) {
		var el = document.querySelector(selectors[i]);
		if (el) { try { el.click(); } catch (e) {} }
	}
	return true;
})()
`

// collectLinks is the default CollectFunc: navigate the source with bounded
// retries, dismiss overlays, scroll to trigger lazy loading, then harvest
// detail links.
func (p *Pipeline) collectLinks(ctx, browserCtx context.Context, src models.Source, scrollRounds int) ([]string, error) {
	if err := p.navigateWithRetry(ctx, browserCtx, src.URL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", src.ID, err)
	}

	runCtx, cancel := context.WithTimeout(browserCtx, p.cfg.ActionTimeout)
	_ = chromedp.Run(runCtx, chromedp.Evaluate(dismissOverlaysJS, nil))
	cancel()

	p.scrollForContent(ctx, browserCtx, scrollRounds)

	var links []string
	harvestCtx, cancelHarvest := context.WithTimeout(browserCtx, p.cfg.ActionTimeout)
	defer cancelHarvest()
	if err := chromedp.Run(harvestCtx, chromedp.Evaluate(detailLinksJS, &links)); err != nil {
		return nil, fmt.Errorf("harvest %s: %w", src.ID, err)
	}

	p.logger.Debug("source %s: %d links after %d scroll rounds", src.ID, len(links), scrollRounds)
	return links, nil
}

// navigateWithRetry navigates with a small bounded retry: backoff grows
// 450ms + 700ms per attempt, longer when the browser looks crashed.
func (p *Pipeline) navigateWithRetry(ctx, browserCtx context.Context, url string) error {
	var lastErr error
	for attempt := 1; attempt <= navAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		navCtx, cancel := context.WithTimeout(browserCtx, p.cfg.NavTimeout)
		err := chromedp.Run(navCtx, chromedp.Navigate(url))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < navAttempts {
			backoff := 450*time.Millisecond + time.Duration(attempt)*700*time.Millisecond
			if isCrashError(err) {
				backoff *= 3
			}
			p.logger.Warn("navigate attempt %d/%d failed: %v, retrying in %v", attempt, navAttempts, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// scrollForContent scrolls in bounded rounds to trigger lazy loading,
// stopping early when the page height stays flat for stableHeightRounds
// consecutive rounds. A longer settle delay at the end lets the final batch
// render before harvesting.
func (p *Pipeline) scrollForContent(ctx, browserCtx context.Context, rounds int) {
	delay := time.Duration(p.cfg.ScrollDelayMs) * time.Millisecond
	scrollJS := fmt.Sprintf(`window.scrollBy(0, %d); document.body.scrollHeight`, p.cfg.ScrollStepPx)

	lastHeight := -1
	stable := 0
	for i := 0; i < rounds; i++ {
		if ctx.Err() != nil {
			return
		}

		var height int
		stepCtx, cancel := context.WithTimeout(browserCtx, p.cfg.ActionTimeout)
		err := chromedp.Run(stepCtx, chromedp.Evaluate(scrollJS, &height))
		cancel()
		if err != nil {
			p.logger.Debug("scroll round %d failed: %v", i+1, err)
			return
		}

		if height == lastHeight {
			stable++
			if stable >= stableHeightRounds {
				p.logger.Debug("page height flat for %d rounds, stopping scroll early", stable)
				break
			}
		} else {
			stable = 0
			lastHeight = height
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	// settle delay for the last lazy-load batch
	select {
	case <-time.After(3 * delay):
	case <-ctx.Done():
	}
}
