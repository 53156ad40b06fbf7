package creodias

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var errNoFeatures = errors.New("missing features array")

type featureCollection struct {
	Features   *[]feature `json:"features"`
	Properties struct {
		TotalResults int `json:"totalResults"`
		Links        []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	} `json:"properties"`
}

type feature struct {
	ID         string            `json:"id"`
	Geometry   *geojson.Geometry `json:"geometry"`
	Properties struct {
		Title            string          `json:"title"`
		ParentIdentifier json.RawMessage `json:"parentIdentifier"`
		Services         struct {
			Download struct {
				URL  string `json:"url"`
				Size int64  `json:"size"`
			} `json:"download"`
		} `json:"services"`
	} `json:"properties"`
}

// Feature is a finder search hit.
type Feature struct {
	ID          string
	Title       string
	DownloadURL string

	// Child is set for features with a parent product (e.g. MSI granules).
	Child bool

	// Footprint is the bound of the feature geometry, nil when the finder
	// returned none.
	Footprint *orb.Bound
}

// ParseFeatures decodes one page of a resto search and returns the features
// and the link to the next page, if any.
func ParseFeatures(r io.Reader) ([]Feature, string, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, "", fmt.Errorf("decoding response: %w", err)
	}
	if fc.Features == nil {
		return nil, "", errNoFeatures
	}

	features := make([]Feature, 0, len(*fc.Features))
	for _, f := range *fc.Features {
		parent := string(f.Properties.ParentIdentifier)
		feat := Feature{
			ID:          f.ID,
			Title:       f.Properties.Title,
			DownloadURL: f.Properties.Services.Download.URL,
			Child:       parent != "" && parent != "null",
		}
		if f.Geometry != nil && f.Geometry.Geometry() != nil {
			b := f.Geometry.Geometry().Bound()
			feat.Footprint = &b
		}
		features = append(features, feat)
	}

	next := ""
	for _, l := range fc.Properties.Links {
		if l.Rel == "next" {
			next = l.Href
		}
	}
	return features, next, nil
}
