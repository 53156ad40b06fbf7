// Package poi holds the points-of-interest dataset and the images resolved for them.
package poi

import (
	"errors"
	"time"
)

// Predefined errors for dataset handling.
var (
	// ErrInvalidRow is returned when a dataset row cannot be parsed.
	ErrInvalidRow = errors.New("invalid dataset row")

	// ErrMisaligned is returned when image names and urls differ in length.
	ErrMisaligned = errors.New("image names and urls are not aligned")
)

// Image is a matched file: the name it is stored under and the URL it is retrieved from.
type Image struct {
	Name string `json:"name"`
	URL  string `json:"url"`

	// Entity is an optional backend product identifier (e.g. a catalogue UUID).
	Entity string `json:"entity,omitempty"`
}

// POI is a space-time point of interest.
type POI struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`

	// Images are the candidate files matched for this POI, empty until resolved.
	Images []Image `json:"images"`
}

// Validate checks the coordinate ranges of the POI.
func (p *POI) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return ErrInvalidRow
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return ErrInvalidRow
	}
	return nil
}

// Names returns the image names in order.
func (p *POI) Names() []string {
	names := make([]string, len(p.Images))
	for i, img := range p.Images {
		names[i] = img.Name
	}
	return names
}

// URLs returns the image urls, positionally aligned with Names.
func (p *POI) URLs() []string {
	urls := make([]string, len(p.Images))
	for i, img := range p.Images {
		urls[i] = img.URL
	}
	return urls
}

// Resolved reports whether at least one image was matched.
func (p *POI) Resolved() bool {
	return len(p.Images) > 0
}

// Pair builds images from aligned name and url slices.
func Pair(names, urls []string) ([]Image, error) {
	if len(names) != len(urls) {
		return nil, ErrMisaligned
	}
	images := make([]Image, 0, len(names))
	for i := range names {
		images = append(images, Image{Name: names[i], URL: urls[i]})
	}
	return images, nil
}

// Flatten concatenates the images of every POI in row order.
// Images without a URL are dropped.
func Flatten(pois []*POI) []Image {
	var images []Image
	for _, p := range pois {
		for _, img := range p.Images {
			if img.Name == "" || img.URL == "" {
				continue
			}
			images = append(images, img)
		}
	}
	return images
}

// MostRecent returns the latest timestamp of the dataset, or the zero time if it is empty.
func MostRecent(pois []*POI) time.Time {
	var latest time.Time
	for _, p := range pois {
		if p.Timestamp.After(latest) {
			latest = p.Timestamp
		}
	}
	return latest
}
