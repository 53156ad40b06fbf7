package cmr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/OceanOptics/getOC/internal/poi"
)

// errNoFeed is returned when a granule search response lacks the feed object.
var errNoFeed = errors.New("missing feed")

// dataRelSuffix marks granule links pointing at the data file itself.
const dataRelSuffix = "/data#"

type granuleResponse struct {
	Feed *struct {
		Entry []granule `json:"entry"`
	} `json:"feed"`
}

type granule struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	ProducerGranuleID string `json:"producer_granule_id"`
	TimeStart         string `json:"time_start"`
	Links             []link `json:"links"`
}

type link struct {
	Rel       string `json:"rel"`
	Href      string `json:"href"`
	Inherited bool   `json:"inherited"`
}

// ParseGranules extracts the data file of every granule in a granules.json
// response, returning the images and the number of entries read.
func ParseGranules(r io.Reader) ([]poi.Image, int, error) {
	var resp granuleResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, 0, fmt.Errorf("decoding response: %w", err)
	}
	if resp.Feed == nil {
		return nil, 0, errNoFeed
	}

	var images []poi.Image
	for _, g := range resp.Feed.Entry {
		for _, l := range g.Links {
			if l.Inherited || !strings.HasSuffix(l.Rel, dataRelSuffix) {
				continue
			}
			name := fileName(l.Href)
			if name == "" {
				continue
			}
			images = append(images, poi.Image{Name: name, URL: l.Href})
		}
	}
	return images, len(resp.Feed.Entry), nil
}

func fileName(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Path == "" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
