package services

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"livinginsider-scraper/models"
	"livinginsider-scraper/utils"
)

var (
	// numberRegexp captures the first numeric value in currency/number text.
	numberRegexp = regexp.MustCompile(`-?[\d,]+(?:\.\d+)?`)
	// listingIDRegexp extracts the numeric id from a canonical detail URL.
	listingIDRegexp = regexp.MustCompile(`/livingdetail/(\d+)`)
	// slashDateRegexp matches d/m/y dates, Buddhist or Gregorian year.
	slashDateRegexp = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	// thaiDateRegexp matches "15 มี.ค. 2567" style dates.
	thaiDateRegexp = regexp.MustCompile(`(\d{1,2})\s+(\S+)\s+(\d{4})`)
)

var thaiMonths = map[string]time.Month{
	"ม.ค.":  time.January,
	"ก.พ.":  time.February,
	"มี.ค.": time.March,
	"เม.ย.": time.April,
	"พ.ค.":  time.May,
	"มิ.ย.": time.June,
	"ก.ค.":  time.July,
	"ส.ค.":  time.August,
	"ก.ย.":  time.September,
	"ต.ค.":  time.October,
	"พ.ย.":  time.November,
	"ธ.ค.":  time.December,
}

// Text truncation limits for free-text fields.
const (
	titleMaxLen       = 300
	descriptionMaxLen = 4000
	addressMaxLen     = 500
)

// Normalizer maps the extractor's open-ended field bag into the fixed
// Listing schema. Every output listing carries the full field set; anything
// unrecognised or missing becomes an explicit null.
type Normalizer struct {
	logger    *utils.Logger
	maxImages int
}

// NewNormalizer creates a Normalizer. maxImages caps the image list length.
func NewNormalizer(logger *utils.Logger, maxImages int) *Normalizer {
	if maxImages < 1 {
		maxImages = 1
	}
	return &Normalizer{logger: logger, maxImages: maxImages}
}

// Normalize builds a Listing from one extracted field bag. Scores are left
// zero; the Scorer fills them afterwards.
func (n *Normalizer) Normalize(raw models.RawFields, pageURL string) *models.Listing {
	l := &models.Listing{
		ListingID:  listingIDFromURL(pageURL),
		ListingURL: pageURL,
		ScrapedAt:  time.Now(),
	}

	l.Title = truncated(asString(raw, "title"), titleMaxLen)
	l.DealType = asString(raw, "deal_type")
	l.Category = asString(raw, "category")
	l.Price = asPositiveFloat(raw, "price")
	l.OriginalPrice = asPositiveFloat(raw, "original_price")
	l.AreaSqm = asPositiveFloat(raw, "area_sqm")
	l.LandAreaSqw = asPositiveFloat(raw, "land_area_sqw")
	l.Bedrooms = asInt(raw, "bedrooms")
	l.Bathrooms = asInt(raw, "bathrooms")
	l.Floor = asInt(raw, "floor")

	if l.Price != nil && l.AreaSqm != nil && *l.AreaSqm > 0 {
		ppsm := *l.Price / *l.AreaSqm
		l.PricePerSqm = &ppsm
	}

	l.PostedDate = parseDate(asString(raw, "posted_date"))
	l.UpdatedDate = parseDate(asString(raw, "updated_date"))

	l.Province = asString(raw, "province")
	l.District = asString(raw, "district")
	l.Zone = asString(raw, "zone")
	l.Address = truncated(asString(raw, "address"), addressMaxLen)
	l.Latitude = asFloat(raw, "latitude")
	l.Longitude = asFloat(raw, "longitude")

	l.NearestStation, l.NearestStationKm, l.StationsJSON = nearestPlace(raw, "stations")
	l.NearestHospital, l.NearestHospitalKm, l.HospitalsJSON = nearestPlace(raw, "hospitals")
	l.NearestMall, l.NearestMallKm, l.MallsJSON = nearestPlace(raw, "malls")

	l.AgentName = asString(raw, "agent_name")
	l.AgentPhone = asString(raw, "agent_phone")
	l.AgentEmail = asString(raw, "agent_email")
	l.AgentLine = asString(raw, "agent_line")
	l.AgentVerified = asBool(raw, "agent_verified")

	l.Views = asInt(raw, "views")
	l.Clicks = asInt(raw, "clicks")

	l.Description = truncated(asString(raw, "description"), descriptionMaxLen)

	images := n.normalizeImages(raw, pageURL)
	l.ImageCount = len(images)
	if len(images) > 0 {
		l.ImagesJSON = jsonEncoded(images)
	}

	facilities := asStringList(raw, "facilities")
	l.FacilityCount = len(facilities)
	if len(facilities) > 0 {
		l.FacilitiesJSON = jsonEncoded(facilities)
		for _, f := range facilities {
			lower := strings.ToLower(f)
			switch {
			case strings.Contains(lower, "pool") || strings.Contains(f, "สระว่ายน้ำ"):
				l.HasPool = true
			case strings.Contains(lower, "gym") || strings.Contains(lower, "fitness") || strings.Contains(f, "ฟิตเนส"):
				l.HasGym = true
			case strings.Contains(lower, "parking") || strings.Contains(f, "ที่จอดรถ"):
				l.HasParking = true
			case strings.Contains(lower, "security") || strings.Contains(lower, "cctv") || strings.Contains(f, "รักษาความปลอดภัย"):
				l.HasSecurity = true
			}
		}
	}

	return l
}

// normalizeImages resolves every image URL against the page origin, drops
// anything unparseable and caps the list length.
func (n *Normalizer) normalizeImages(raw models.RawFields, pageURL string) []string {
	candidates := asStringList(raw, "images")
	if len(candidates) == 0 {
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	out := make([]string, 0, len(candidates))
	seen := map[string]bool{}
	for _, c := range candidates {
		abs := resolveURL(base, c)
		if abs == "" || seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
		if len(out) >= n.maxImages {
			break
		}
	}
	return out
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func listingIDFromURL(pageURL string) string {
	if m := listingIDRegexp.FindStringSubmatch(pageURL); len(m) == 2 {
		return m[1]
	}
	return pageURL
}

// place is one nearby point of interest as the extractor reports it.
type place struct {
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
}

// nearestPlace summarizes a nearby-place list: the closest entry plus the
// JSON-encoded full list sorted by distance.
func nearestPlace(raw models.RawFields, key string) (*string, *float64, *string) {
	v, ok := raw[key]
	if !ok {
		return nil, nil, nil
	}
	entries, ok := v.([]any)
	if !ok || len(entries) == 0 {
		return nil, nil, nil
	}

	places := make([]place, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringValue(m["name"]))
		dist, distOK := floatValue(m["distance_km"])
		if name == "" || !distOK || dist < 0 {
			continue
		}
		places = append(places, place{Name: name, DistanceKm: dist})
	}
	if len(places) == 0 {
		return nil, nil, nil
	}

	sort.Slice(places, func(i, j int) bool { return places[i].DistanceKm < places[j].DistanceKm })

	name := places[0].Name
	dist := places[0].DistanceKm
	return &name, &dist, jsonEncoded(places)
}

// parseDate converts a scraped date string to ISO yyyy-mm-dd, handling both
// d/m/y and Thai-month forms. Buddhist-era years (> 2400) are converted to
// Gregorian by subtracting 543.
func parseDate(s *string) *string {
	if s == nil {
		return nil
	}
	text := strings.TrimSpace(*s)
	if text == "" {
		return nil
	}

	var day, year int
	var month time.Month

	if m := slashDateRegexp.FindStringSubmatch(text); len(m) == 4 {
		day, _ = strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
		if mo < 1 || mo > 12 {
			return nil
		}
		month = time.Month(mo)
	} else if m := thaiDateRegexp.FindStringSubmatch(text); len(m) == 4 {
		mo, ok := thaiMonths[m[2]]
		if !ok {
			return nil
		}
		day, _ = strconv.Atoi(m[1])
		year, _ = strconv.Atoi(m[3])
		month = mo
	} else {
		return nil
	}

	if year > 2400 {
		year -= 543
	}
	if day < 1 || day > 31 || year < 1900 || year > 2200 {
		return nil
	}

	iso := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	return &iso
}

func truncated(s *string, max int) *string {
	if s == nil {
		return nil
	}
	v := normaliseText(*s)
	if v == "" {
		return nil
	}
	if len(v) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(v[cut]) {
			cut--
		}
		v = v[:cut]
	}
	return &v
}

// normaliseText strips leading/trailing whitespace and collapses internal
// whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func jsonEncoded(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// ── field-bag accessors ──

func asString(raw models.RawFields, key string) *string {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	s := strings.TrimSpace(stringValue(v))
	if s == "" {
		return nil
	}
	return &s
}

func asFloat(raw models.RawFields, key string) *float64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	f, ok := floatValue(v)
	if !ok {
		return nil
	}
	return &f
}

func asPositiveFloat(raw models.RawFields, key string) *float64 {
	f := asFloat(raw, key)
	if f == nil || *f <= 0 {
		return nil
	}
	return f
}

func asInt(raw models.RawFields, key string) *int {
	f := asFloat(raw, key)
	if f == nil {
		return nil
	}
	i := int(*f)
	return &i
}

func asBool(raw models.RawFields, key string) *bool {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func asStringList(raw models.RawFields, key string) []string {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, 0, len(list))
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s := strings.TrimSpace(stringValue(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return ""
	}
}

// floatValue accepts native numbers and currency/number-like text
// ("฿3,500,000", "85.5 ตร.ม.").
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		match := numberRegexp.FindString(strings.ReplaceAll(n, ",", ""))
		if match == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(match, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
