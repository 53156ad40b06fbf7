package poi

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format of the dataset files.
const TimeLayout = "2006/01/02 15:04:05"

// listSeparator joins list-valued columns in cache files.
const listSeparator = ";"

// Column positions of the dataset schema.
const (
	colID = iota
	colTimestamp
	colLatitude
	colLongitude
	colImageNames
	colURLs
	colEntities
)

// altTimeLayouts are accepted on read only.
var altTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Read parses a header-less dataset.
// Rows carrying image_names and urls columns are returned with their images populated.
func Read(r io.Reader) ([]*POI, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var pois []*POI
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		p, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		pois = append(pois, p)
	}

	return pois, nil
}

// ReadCache parses a previously written image list, dropping rows without image names.
func ReadCache(r io.Reader) ([]*POI, error) {
	pois, err := Read(r)
	if err != nil {
		return nil, err
	}

	resolved := pois[:0]
	for _, p := range pois {
		if p.Resolved() {
			resolved = append(resolved, p)
		}
	}
	return resolved, nil
}

// ReadFile opens and parses a dataset file.
func ReadFile(path string) ([]*POI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// ReadCacheFile opens and parses an image list cache file.
func ReadCacheFile(path string) ([]*POI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image list: %w", err)
	}
	defer f.Close()

	return ReadCache(f)
}

// Write serializes the dataset with its image lists.
func Write(w io.Writer, pois []*POI) error {
	writer := csv.NewWriter(w)

	for _, p := range pois {
		entities := make([]string, len(p.Images))
		hasEntity := false
		for i, img := range p.Images {
			entities[i] = img.Entity
			if img.Entity != "" {
				hasEntity = true
			}
		}
		entityCol := ""
		if hasEntity {
			entityCol = strings.Join(entities, listSeparator)
		}

		record := []string{
			p.ID,
			p.Timestamp.UTC().Format(TimeLayout),
			strconv.FormatFloat(p.Latitude, 'f', 5, 64),
			strconv.FormatFloat(p.Longitude, 'f', 5, 64),
			strings.Join(p.Names(), listSeparator),
			strings.Join(p.URLs(), listSeparator),
			entityCol,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %s: %w", p.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteFile writes the dataset to path, replacing any existing file.
func WriteFile(path string, pois []*POI) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image list: %w", err)
	}

	if err := Write(f, pois); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CachePath returns the image list file associated with a dataset,
// e.g. "cruise_MODIS-Aqua_L2_OC.csv" next to "cruise.csv".
func CachePath(datasetPath, instrument, level, product string) string {
	dir := filepath.Dir(datasetPath)
	stem := strings.TrimSuffix(filepath.Base(datasetPath), filepath.Ext(datasetPath))

	parts := []string{stem, instrument, level}
	if product != "" {
		parts = append(parts, product)
	}
	return filepath.Join(dir, strings.Join(parts, "_")+".csv")
}

func parseRecord(record []string) (*POI, error) {
	if len(record) < 4 {
		return nil, fmt.Errorf("%w: expected at least 4 columns, got %d", ErrInvalidRow, len(record))
	}

	ts, err := parseTimestamp(strings.TrimSpace(record[colTimestamp]))
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q", ErrInvalidRow, record[colTimestamp])
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(record[colLatitude]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: latitude %q", ErrInvalidRow, record[colLatitude])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(record[colLongitude]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: longitude %q", ErrInvalidRow, record[colLongitude])
	}

	p := &POI{
		ID:        strings.TrimSpace(record[colID]),
		Timestamp: ts,
		Latitude:  lat,
		Longitude: lon,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: coordinates out of range (%.5f, %.5f)", err, lat, lon)
	}

	if len(record) > colURLs {
		images, err := parseImages(record)
		if err != nil {
			return nil, err
		}
		p.Images = images
	}

	return p, nil
}

func parseImages(record []string) ([]Image, error) {
	names := splitList(record[colImageNames])
	urls := splitList(record[colURLs])

	images, err := Pair(names, urls)
	if err != nil {
		return nil, fmt.Errorf("%w: %d names, %d urls", err, len(names), len(urls))
	}

	if len(record) > colEntities {
		entities := splitList(record[colEntities])
		if len(entities) == len(images) {
			for i := range images {
				images[i].Entity = entities[i]
			}
		}
	}
	return images, nil
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(TimeLayout, s)
	if err == nil {
		return ts, nil
	}
	for _, layout := range altTimeLayouts {
		if ts, altErr := time.Parse(layout, s); altErr == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, err
}
