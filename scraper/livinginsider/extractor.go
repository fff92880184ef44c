package livinginsider

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"livinginsider-scraper/models"
)

// revealPhoneJS clicks the "show phone" control so the real number replaces
// the masked placeholder. Best-effort: gated contact info is a bonus, not a
// requirement.
const revealPhoneJS = `
(function() {
	var selectors = ['.show-phone', '.btn-call', '[data-action="show-phone"]', '.contact-phone a'];
	for (var i = 0; i < selectors.length; i++) {
		var el = document.querySelector(selectors[i]);
		if (el) { try { el.click(); return true; } catch (e) {} }
	}
	return false;
})()
`

// detailFieldsJS extracts the raw field bag from a detail page. Selector
// specifics are the site's, so this block is the brittle part; everything
// downstream only sees the bag's keys.
const detailFieldsJS = `
(function() {
	function text(sel) {
		var el = document.querySelector(sel);
		return el ? el.textContent.trim() : '';
	}
	function attr(sel, name) {
		var el = document.querySelector(sel);
		return el ? (el.getAttribute(name) || '') : '';
	}
	function places(sel) {
		var out = [];
		var rows = document.querySelectorAll(sel);
		for (var i = 0; i < rows.length; i++) {
			var name = rows[i].querySelector('.place-name');
			var dist = rows[i].querySelector('.place-distance');
			if (!name || !dist) continue;
			var km = parseFloat((dist.textContent || '').replace(/[^\d.]/g, ''));
			if (!isNaN(km)) out.push({ name: name.textContent.trim(), distance_km: km });
		}
		return out;
	}
	function list(sel) {
		var out = [];
		var els = document.querySelectorAll(sel);
		for (var i = 0; i < els.length; i++) {
			var t = els[i].textContent.trim();
			if (t) out.push(t);
		}
		return out;
	}
	function images() {
		var out = [];
		var els = document.querySelectorAll('.gallery img, .carousel img, .slide-img img');
		for (var i = 0; i < els.length; i++) {
			var src = els[i].getAttribute('data-src') || els[i].getAttribute('src');
			if (src) out.push(src);
		}
		return out;
	}

	return {
		title:          text('h1.title-detail, h1'),
		price:          text('.price-detail, .detail-price'),
		original_price: text('.price-original, .price-before'),
		deal_type:      text('.post-type, .detail-tag-type'),
		category:       text('.breadcrumb li:nth-child(2), .detail-category'),
		area_sqm:       text('.detail-area .val, .area-size'),
		land_area_sqw:  text('.detail-land .val'),
		bedrooms:       text('.detail-bed .val, .bedroom-count'),
		bathrooms:      text('.detail-bath .val, .bathroom-count'),
		floor:          text('.detail-floor .val'),
		posted_date:    text('.post-date, .detail-date-create'),
		updated_date:   text('.update-date, .detail-date-update'),
		province:       text('.detail-province, .location-province'),
		district:       text('.detail-district, .location-district'),
		zone:           text('.detail-zone, .location-zone'),
		address:        text('.detail-address'),
		latitude:       attr('#map-detail', 'data-lat'),
		longitude:      attr('#map-detail', 'data-lng'),
		stations:       places('.nearby-transit .nearby-row'),
		hospitals:      places('.nearby-hospital .nearby-row'),
		malls:          places('.nearby-mall .nearby-row'),
		agent_name:     text('.agent-name, .member-name'),
		agent_phone:    text('.contact-phone .number, .phone-number'),
		agent_email:    text('.contact-email'),
		agent_line:     text('.contact-line .line-id'),
		agent_verified: !!document.querySelector('.agent-verified, .badge-verify'),
		views:          text('.stat-views .count, .view-count'),
		clicks:         text('.stat-clicks .count'),
		description:    text('.detail-description, .wordwrap-description'),
		images:         images(),
		facilities:     list('.facility-list li, .detail-facility .item')
	};
})()
`

// extractDetail is the default ExtractFunc: navigate the worker's page to
// the detail URL, dismiss overlays, best-effort reveal of gated contact
// info, then evaluate the field extraction with an overall timeout. Timeout
// and evaluation failures come back as ordinary retryable errors.
func (p *Pipeline) extractDetail(ctx, pageCtx context.Context, url string, fast bool) (models.RawFields, error) {
	runCtx, cancel := context.WithTimeout(pageCtx, p.cfg.DetailTimeout)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.Evaluate(dismissOverlaysJS, nil),
	}
	if !fast {
		var revealed bool
		actions = append(actions,
			chromedp.Evaluate(revealPhoneJS, &revealed),
			chromedp.Sleep(p.cfg.ActionTimeout/10),
		)
	}

	var raw models.RawFields
	actions = append(actions, chromedp.Evaluate(detailFieldsJS, &raw))

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return nil, fmt.Errorf("extract %s: %w", url, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("extract %s: empty field bag", url)
	}
	return raw, nil
}
