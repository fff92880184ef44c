package models

import "time"

// RawFields is the open-ended key/value bag produced by the detail-page
// extractor. The normalizer maps it into the fixed Listing schema; keys it
// does not recognise are dropped, keys that are missing become explicit nulls.
type RawFields map[string]any

// Listing is one normalized output record for a single detail page. Every
// listing written to a job carries the exact same field set; fields without
// data are explicit nulls (pointer types), never absent; the tabular export
// depends on that.
//
// Scores are stored on a 0–100 scale. ValueScore is filled in a second pass
// because it is derived from QualityScore.
type Listing struct {
	ListingID  string `json:"listing_id"`
	ListingURL string `json:"listing_url"`

	Title         *string  `json:"title"`
	DealType      *string  `json:"deal_type"`
	Category      *string  `json:"category"`
	Price         *float64 `json:"price"`
	OriginalPrice *float64 `json:"original_price"`
	PricePerSqm   *float64 `json:"price_per_sqm"`
	AreaSqm       *float64 `json:"area_sqm"`
	LandAreaSqw   *float64 `json:"land_area_sqw"`
	Bedrooms      *int     `json:"bedrooms"`
	Bathrooms     *int     `json:"bathrooms"`
	Floor         *int     `json:"floor"`

	PostedDate  *string   `json:"posted_date"`
	UpdatedDate *string   `json:"updated_date"`
	ScrapedAt   time.Time `json:"scraped_at"`

	Province  *string  `json:"province"`
	District  *string  `json:"district"`
	Zone      *string  `json:"zone"`
	Address   *string  `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	NearestStation    *string  `json:"nearest_station"`
	NearestStationKm  *float64 `json:"nearest_station_km"`
	NearestHospital   *string  `json:"nearest_hospital"`
	NearestHospitalKm *float64 `json:"nearest_hospital_km"`
	NearestMall       *string  `json:"nearest_mall"`
	NearestMallKm     *float64 `json:"nearest_mall_km"`
	StationsJSON      *string  `json:"stations_json"`
	HospitalsJSON     *string  `json:"hospitals_json"`
	MallsJSON         *string  `json:"malls_json"`

	AgentName     *string `json:"agent_name"`
	AgentPhone    *string `json:"agent_phone"`
	AgentEmail    *string `json:"agent_email"`
	AgentLine     *string `json:"agent_line"`
	AgentVerified *bool   `json:"agent_verified"`

	Views  *int `json:"views"`
	Clicks *int `json:"clicks"`

	Description *string `json:"description"`

	ImagesJSON *string `json:"images_json"`
	ImageCount int     `json:"image_count"`

	FacilitiesJSON *string `json:"facilities_json"`
	FacilityCount  int     `json:"facility_count"`
	HasPool        bool    `json:"has_pool"`
	HasGym         bool    `json:"has_gym"`
	HasParking     bool    `json:"has_parking"`
	HasSecurity    bool    `json:"has_security"`

	QualityScore      int     `json:"quality_score"`
	PriceScore        int     `json:"price_score"`
	CompletenessScore int     `json:"completeness_score"`
	WalkScore         int     `json:"walk_score"`
	LocationScore     int     `json:"location_score"`
	FacilityScore     int     `json:"facility_score"`
	InvestmentScore   int     `json:"investment_score"`
	ValueScore        int     `json:"value_score"`
	AnomalyFlags      *string `json:"anomaly_flags"`
}

// ListingColumns is the authoritative export column order. The CSV, XLSX and
// Postgres writers all follow it.
var ListingColumns = []string{
	"listing_id", "listing_url",
	"title", "deal_type", "category",
	"price", "original_price", "price_per_sqm", "area_sqm", "land_area_sqw",
	"bedrooms", "bathrooms", "floor",
	"posted_date", "updated_date", "scraped_at",
	"province", "district", "zone", "address", "latitude", "longitude",
	"nearest_station", "nearest_station_km",
	"nearest_hospital", "nearest_hospital_km",
	"nearest_mall", "nearest_mall_km",
	"stations_json", "hospitals_json", "malls_json",
	"agent_name", "agent_phone", "agent_email", "agent_line", "agent_verified",
	"views", "clicks",
	"description",
	"images_json", "image_count",
	"facilities_json", "facility_count",
	"has_pool", "has_gym", "has_parking", "has_security",
	"quality_score", "price_score", "completeness_score",
	"walk_score", "location_score", "facility_score", "investment_score",
	"value_score", "anomaly_flags",
}

// Values returns the listing's fields in ListingColumns order. Nil pointers
// come through as nil so writers can render an explicit empty/null cell.
func (l *Listing) Values() []any {
	return []any{
		l.ListingID, l.ListingURL,
		l.Title, l.DealType, l.Category,
		l.Price, l.OriginalPrice, l.PricePerSqm, l.AreaSqm, l.LandAreaSqw,
		l.Bedrooms, l.Bathrooms, l.Floor,
		l.PostedDate, l.UpdatedDate, l.ScrapedAt,
		l.Province, l.District, l.Zone, l.Address, l.Latitude, l.Longitude,
		l.NearestStation, l.NearestStationKm,
		l.NearestHospital, l.NearestHospitalKm,
		l.NearestMall, l.NearestMallKm,
		l.StationsJSON, l.HospitalsJSON, l.MallsJSON,
		l.AgentName, l.AgentPhone, l.AgentEmail, l.AgentLine, l.AgentVerified,
		l.Views, l.Clicks,
		l.Description,
		l.ImagesJSON, l.ImageCount,
		l.FacilitiesJSON, l.FacilityCount,
		l.HasPool, l.HasGym, l.HasParking, l.HasSecurity,
		l.QualityScore, l.PriceScore, l.CompletenessScore,
		l.WalkScore, l.LocationScore, l.FacilityScore, l.InvestmentScore,
		l.ValueScore, l.AnomalyFlags,
	}
}
