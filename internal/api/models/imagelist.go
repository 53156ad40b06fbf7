package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/poi"
)

// MaxPOIs bounds the size of one resolve request.
const MaxPOIs = 500

// POIInput is one point of interest of a resolve request.
type POIInput struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Lat       *float64  `json:"lat"`
	Lon       *float64  `json:"lon"`
}

// ImageListRequest is the body of POST /v1/image-lists.
type ImageListRequest struct {
	Instrument string `json:"instrument"`
	Level      string `json:"level"`
	Product    string `json:"product,omitempty"`

	// Platform forces a backend; empty lets the selector choose.
	Platform string `json:"platform,omitempty"`

	BoundingBoxSize float64 `json:"boundingBoxSize,omitempty"`
	TimeWindowHours float64 `json:"timeWindowHours,omitempty"`
	DayNight        string  `json:"dayNight,omitempty"`
	L3Resolution    string  `json:"l3Resolution,omitempty"`
	L3BinningPeriod string  `json:"l3BinningPeriod,omitempty"`

	POIs []POIInput `json:"pois"`
}

// Validate returns one FieldError per invalid field.
func (r *ImageListRequest) Validate() []FieldError {
	var errs []FieldError
	add := func(field, code, msg string) {
		errs = append(errs, FieldError{Field: field, Code: code, Message: msg})
	}

	if strings.TrimSpace(r.Instrument) == "" {
		add("instrument", CodeRequired, "instrument is required")
	} else if _, err := platform.LookupInstrument(r.Instrument); err != nil {
		add("instrument", CodeUnsupported, err.Error())
	}
	if strings.TrimSpace(r.Level) == "" {
		add("level", CodeRequired, "level is required")
	}
	if r.Platform != "" {
		if _, err := platform.ParseKind(r.Platform); err != nil {
			add("platform", CodeUnsupported, err.Error())
		}
	}
	if r.BoundingBoxSize < 0 {
		add("boundingBoxSize", CodeOutOfRange, "must not be negative")
	}
	if r.TimeWindowHours < 0 {
		add("timeWindowHours", CodeOutOfRange, "must not be negative")
	}

	switch {
	case len(r.POIs) == 0:
		add("pois", CodeRequired, "at least one point of interest is required")
	case len(r.POIs) > MaxPOIs:
		add("pois", CodeOutOfRange, fmt.Sprintf("at most %d points of interest per request", MaxPOIs))
	}

	for i, p := range r.POIs {
		field := fmt.Sprintf("pois[%d]", i)
		if p.Timestamp.IsZero() {
			add(field+".timestamp", CodeRequired, "timestamp is required")
		}
		switch {
		case p.Lat == nil:
			add(field+".lat", CodeRequired, "lat is required")
		case *p.Lat < -90 || *p.Lat > 90:
			add(field+".lat", CodeOutOfRange, "must be between -90 and 90")
		}
		switch {
		case p.Lon == nil:
			add(field+".lon", CodeRequired, "lon is required")
		case *p.Lon < -180 || *p.Lon > 180:
			add(field+".lon", CodeOutOfRange, "must be between -180 and 180")
		}
	}
	return errs
}

// Query converts the request options into a platform query.
func (r *ImageListRequest) Query() platform.Query {
	return platform.Query{
		Instrument:      r.Instrument,
		Level:           r.Level,
		Product:         r.Product,
		BoundingBoxSize: r.BoundingBoxSize,
		TimeWindow:      time.Duration(r.TimeWindowHours * float64(time.Hour)),
		DayNight:        r.DayNight,
		L3Resolution:    r.L3Resolution,
		L3BinningPeriod: r.L3BinningPeriod,
	}.WithDefaults()
}

// Dataset converts the validated points of interest, keeping their order.
func (r *ImageListRequest) Dataset() []*poi.POI {
	pois := make([]*poi.POI, 0, len(r.POIs))
	for i, p := range r.POIs {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("%d", i+1)
		}
		pois = append(pois, &poi.POI{
			ID:        id,
			Timestamp: p.Timestamp.UTC(),
			Latitude:  *p.Lat,
			Longitude: *p.Lon,
		})
	}
	return pois
}

// POIResult is one resolved point of interest.
type POIResult struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	ImageNames []string  `json:"imageNames"`
	ImageURLs  []string  `json:"imageUrls"`
}

// ImageListResponse is the body returned by POST /v1/image-lists.
type ImageListResponse struct {
	RunID    string      `json:"runId"`
	Platform string      `json:"platform"`
	Resolved int         `json:"resolved"`
	Failed   int         `json:"failed"`
	POIs     []POIResult `json:"pois"`

	// Images is the reconciled, deduplicated download list.
	Images []poi.Image `json:"images"`
}

// NewPOIResults maps resolved points of interest 1:1 in input order.
func NewPOIResults(pois []*poi.POI) []POIResult {
	out := make([]POIResult, 0, len(pois))
	for _, p := range pois {
		out = append(out, POIResult{
			ID:         p.ID,
			Timestamp:  p.Timestamp,
			Lat:        p.Latitude,
			Lon:        p.Longitude,
			ImageNames: p.Names(),
			ImageURLs:  p.URLs(),
		})
	}
	return out
}
