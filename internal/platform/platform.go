// Package platform selects and drives the backend data platforms that resolve
// points of interest into downloadable image lists.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/poi"
)

// Predefined errors for platform operations.
var (
	// ErrUnsupportedInstrument is returned for an unknown instrument.
	ErrUnsupportedInstrument = errors.New("unsupported instrument")

	// ErrUnsupportedLevel is returned when a backend cannot serve the processing level.
	ErrUnsupportedLevel = errors.New("unsupported processing level")

	// ErrUnsupportedProduct is returned when a backend cannot serve the product.
	ErrUnsupportedProduct = errors.New("unsupported product")

	// ErrUnknownPlatform is returned when no platform is registered for a kind.
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Kind identifies a backend.
type Kind string

// Supported backends.
const (
	KindOceanColor Kind = "oceancolor"
	KindCMR        Kind = "cmr"
	KindCDSE       Kind = "cdse"
	KindCreodias   Kind = "creodias"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindOceanColor, KindCMR, KindCDSE, KindCreodias:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

// Query holds the search parameters shared by every POI of a run.
type Query struct {
	Instrument string `json:"instrument"`
	Level      string `json:"level"`
	Product    string `json:"product,omitempty"`

	// BoundingBoxSize is the search radius in nautical miles.
	BoundingBoxSize float64 `json:"bounding_box_size"`

	// TimeWindow is the half width of the search window around each POI.
	TimeWindow time.Duration `json:"time_window"`

	// DayNight overrides the day/night filter of the browser backend (D, N, D@N).
	DayNight string `json:"day_night,omitempty"`

	// L3Resolution and L3BinningPeriod filter level 3 products (e.g. 4km, 8D).
	L3Resolution    string `json:"l3_resolution,omitempty"`
	L3BinningPeriod string `json:"l3_binning_period,omitempty"`
}

// Default search extents.
const (
	DefaultBoundingBoxSize = 60.0
	DefaultTimeWindow      = 12 * time.Hour
	DefaultL3Resolution    = "4km"
	DefaultL3BinningPeriod = "8D"
)

// WithDefaults fills unset fields.
func (q Query) WithDefaults() Query {
	if q.BoundingBoxSize <= 0 {
		q.BoundingBoxSize = DefaultBoundingBoxSize
	}
	if q.TimeWindow <= 0 {
		q.TimeWindow = DefaultTimeWindow
	}
	if q.L3Resolution == "" {
		q.L3Resolution = DefaultL3Resolution
	}
	if q.L3BinningPeriod == "" {
		q.L3BinningPeriod = DefaultL3BinningPeriod
	}
	return q
}

// Platform is a backend able to resolve POIs into images and retrieve them.
type Platform interface {
	// Name returns the backend identifier.
	Name() string

	// Kind returns the backend kind.
	Kind() Kind

	// Validate checks that the backend can serve the query, without network access.
	Validate(q Query) error

	// Search runs the backend query (and any supplementary queries) for one POI.
	Search(ctx context.Context, p *poi.POI, q Query) ([]poi.Image, error)

	// Download retrieves the given images, skipping those already on disk.
	Download(ctx context.Context, images []poi.Image) (*download.Report, error)
}

// Reconciler is implemented by platforms that post-process the flattened image list
// (e.g. dropping superseded near-real-time or reprocessed products).
type Reconciler interface {
	Reconcile(images []poi.Image) []poi.Image
}

// ContractError reports a backend response that does not have the expected structure.
type ContractError struct {
	Backend string
	Detail  string
	Err     error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response: %s: %v", e.Backend, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response: %s", e.Backend, e.Detail)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx search response.
type StatusError struct {
	Backend    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code: %d", e.Backend, e.StatusCode)
}
