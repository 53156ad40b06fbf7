package oceancolor

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Listing is the set of file names found on a browser result page.
type Listing struct {
	Names []string

	// Single is set when the page links one file directly instead of
	// listing thumbnails.
	Single bool
}

// ParseListing extracts the file names of a level1or2list page. A page with a
// direct getfile link holds exactly one result; otherwise results are listed
// as thumbnails whose title is the file name. Names not containing level are dropped.
func ParseListing(r io.Reader, level string) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	listing := &Listing{}

	doc.Find(`a[href*="/getfile/"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if name := fileName(href); name != "" {
			listing.Names = append(listing.Names, name)
		}
	})

	if len(listing.Names) > 0 {
		listing.Single = true
	} else {
		doc.Find(`[title][width="70"]`).Each(func(_ int, s *goquery.Selection) {
			if title := strings.TrimSpace(s.AttrOr("title", "")); title != "" {
				listing.Names = append(listing.Names, title)
			}
		})
	}

	listing.Names = filterLevel(listing.Names, level)
	return listing, nil
}

func fileName(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "getfile" {
		return ""
	}
	return name
}

func filterLevel(names []string, level string) []string {
	out := names[:0]
	for _, name := range names {
		if strings.Contains(name, level) {
			out = append(out, name)
		}
	}
	return out
}

// withCompressedSuffix appends ".bz2" to MODIS level 1A thumbnail titles,
// which omit it, and removes repeats keeping the first occurrence.
func withCompressedSuffix(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.Contains(name, ".L1A_") && !strings.HasSuffix(name, ".bz2") {
			name += ".bz2"
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// GeoCompanion returns the geolocation file paired with a VIIRS level 1A file:
// "V2020229174800.L1A_SNPP.nc" pairs with "V2020229174800.GEO-M_SNPP.nc" and
// "SNPP_VIIRS.20200816T174800.L1A.nc" with "SNPP_VIIRS.20200816T174800.GEO.nc".
func GeoCompanion(name string) string {
	if strings.Contains(name, ".L1A_") {
		return strings.Replace(name, "L1A", "GEO-M", 1)
	}
	return strings.Replace(name, "L1A", "GEO", 1)
}

// withGeoCompanions appends the geolocation companion of every level 1A
// science file, in the same order.
func withGeoCompanions(names []string) []string {
	out := make([]string, 0, 2*len(names))
	out = append(out, names...)
	for _, name := range names {
		if strings.Contains(name, "L1A") {
			out = append(out, GeoCompanion(name))
		}
	}
	return out
}
