// Package geo computes the spatial and temporal search extents around a point of interest.
package geo

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// NauticalMilesPerDegree converts a radius in nautical miles to degrees of latitude.
const NauticalMilesPerDegree = 60.0

// BoundingBox is a lat/lon search region. West may be greater than East
// when the box crosses the antimeridian.
type BoundingBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Box returns the bounding box of radius radiusNM nautical miles around (lat, lon).
// Latitudes are clamped to [-90, 90] and longitudes wrapped into [-180, 180].
// The longitudinal half-width is widened by 1/cos(lat) to keep the footprint
// roughly constant; at the poles the box spans every longitude.
func Box(lat, lon, radiusNM float64) BoundingBox {
	dLat := radiusNM / NauticalMilesPerDegree

	box := BoundingBox{
		North: math.Min(lat+dLat, 90),
		South: math.Max(lat-dLat, -90),
	}

	cosLat := math.Cos(lat * math.Pi / 180)
	if math.Abs(lat) >= 90 || cosLat <= 1e-12 {
		box.West, box.East = -180, 180
		return box
	}

	dLon := dLat / cosLat
	if dLon >= 180 {
		box.West, box.East = -180, 180
		return box
	}

	box.West = lon - dLon
	if box.West < -180 {
		box.West += 360
	}
	box.East = lon + dLon
	if box.East > 180 {
		box.East -= 360
	}
	return box
}

// CrossesAntimeridian reports whether the box wraps around longitude 180.
func (b BoundingBox) CrossesAntimeridian() bool {
	return b.West > b.East
}

// String formats the box as "w,s,e,n" with 5 decimals, as used by the search APIs.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", b.West, b.South, b.East, b.North)
}

// Bounds returns the box as orb bounds, split in two at the antimeridian if needed.
func (b BoundingBox) Bounds() []orb.Bound {
	if !b.CrossesAntimeridian() {
		return []orb.Bound{{
			Min: orb.Point{b.West, b.South},
			Max: orb.Point{b.East, b.North},
		}}
	}
	return []orb.Bound{
		{Min: orb.Point{b.West, b.South}, Max: orb.Point{180, b.North}},
		{Min: orb.Point{-180, b.South}, Max: orb.Point{b.East, b.North}},
	}
}

// Geometry returns the footprint as a polygon, or a multipolygon across the antimeridian.
func (b BoundingBox) Geometry() orb.Geometry {
	bounds := b.Bounds()
	if len(bounds) == 1 {
		return bounds[0].ToPolygon()
	}

	mp := make(orb.MultiPolygon, 0, len(bounds))
	for _, bound := range bounds {
		mp = append(mp, bound.ToPolygon())
	}
	return mp
}

// WKT returns the footprint in well-known text.
func (b BoundingBox) WKT() string {
	return wkt.MarshalString(b.Geometry())
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	for _, bound := range b.Bounds() {
		if bound.Contains(orb.Point{lon, lat}) {
			return true
		}
	}
	return false
}

// TimeWindow is a closed time interval.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Window returns the symmetric window [t-halfWidth, t+halfWidth].
func Window(t time.Time, halfWidth time.Duration) TimeWindow {
	return TimeWindow{
		Start: t.Add(-halfWidth),
		End:   t.Add(halfWidth),
	}
}

// DaysSinceEpoch returns the number of whole days between 1970-01-01 and t (UTC).
func DaysSinceEpoch(t time.Time) int {
	return int(math.Floor(float64(t.UTC().Unix()) / 86400))
}
