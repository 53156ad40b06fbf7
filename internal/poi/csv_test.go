package poi_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OceanOptics/getOC/internal/poi"
)

func TestRead_PlainDataset(t *testing.T) {
	input := "p1,2020/08/16 12:00:00,36.0,-70.0\np2,2020/08/17 06:30:15,-45.25,170.5\n"

	pois, err := poi.Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, pois, 2)

	assert.Equal(t, "p1", pois[0].ID)
	assert.Equal(t, time.Date(2020, 8, 16, 12, 0, 0, 0, time.UTC), pois[0].Timestamp)
	assert.InDelta(t, 36.0, pois[0].Latitude, 1e-9)
	assert.InDelta(t, -70.0, pois[0].Longitude, 1e-9)
	assert.False(t, pois[0].Resolved())

	assert.Equal(t, time.Date(2020, 8, 17, 6, 30, 15, 0, time.UTC), pois[1].Timestamp)
}

func TestRead_InvalidRows(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few columns", "p1,2020/08/16 12:00:00,36.0\n"},
		{"bad timestamp", "p1,16-08-2020,36.0,-70.0\n"},
		{"bad latitude", "p1,2020/08/16 12:00:00,north,-70.0\n"},
		{"latitude out of range", "p1,2020/08/16 12:00:00,95.0,-70.0\n"},
		{"longitude out of range", "p1,2020/08/16 12:00:00,10.0,190.0\n"},
		{"misaligned lists", "p1,2020/08/16 12:00:00,10.0,10.0,a;b,u1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := poi.Read(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, poi.ErrInvalidRow) || errors.Is(err, poi.ErrMisaligned))
		})
	}
}

func TestWriteThenReadCache(t *testing.T) {
	pois := []*poi.POI{
		{
			ID:        "p1",
			Timestamp: time.Date(2020, 8, 16, 12, 0, 0, 0, time.UTC),
			Latitude:  36.123456,
			Longitude: -70,
			Images: []poi.Image{
				{Name: "A.L2_LAC_OC.nc", URL: "https://example.test/getfile/A.L2_LAC_OC.nc"},
				{Name: "B.L2_LAC_OC.nc", URL: "https://example.test/getfile/B.L2_LAC_OC.nc"},
			},
		},
		{
			ID:        "p2",
			Timestamp: time.Date(2020, 8, 17, 0, 0, 0, 0, time.UTC),
			Latitude:  10,
			Longitude: 20,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, poi.Write(&buf, pois))

	firstLine := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t,
		"p1,2020/08/16 12:00:00,36.12346,-70.00000,A.L2_LAC_OC.nc;B.L2_LAC_OC.nc,"+
			"https://example.test/getfile/A.L2_LAC_OC.nc;https://example.test/getfile/B.L2_LAC_OC.nc,",
		firstLine)

	cached, err := poi.ReadCache(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, cached, 1, "rows without image names are dropped")
	assert.Equal(t, "p1", cached[0].ID)
	assert.Equal(t, pois[0].Names(), cached[0].Names())
	assert.Equal(t, pois[0].URLs(), cached[0].URLs())
}

func TestReadCache_Entities(t *testing.T) {
	input := "p1,2020/08/16 12:00:00,36.0,-70.0,S3A.zip;S3B.zip,u1;u2,id-1;id-2\n"

	pois, err := poi.ReadCache(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, pois, 1)
	require.Len(t, pois[0].Images, 2)
	assert.Equal(t, "id-1", pois[0].Images[0].Entity)
	assert.Equal(t, "id-2", pois[0].Images[1].Entity)
}

func TestFlatten_PreservesPairsAndDropsEmptyURLs(t *testing.T) {
	pois := []*poi.POI{
		{ID: "a", Images: []poi.Image{{Name: "n1", URL: "u1"}, {Name: "n2", URL: ""}}},
		{ID: "b", Images: []poi.Image{{Name: "n3", URL: "u3"}}},
	}

	images := poi.Flatten(pois)
	require.Len(t, images, 2)
	assert.Equal(t, poi.Image{Name: "n1", URL: "u1"}, images[0])
	assert.Equal(t, poi.Image{Name: "n3", URL: "u3"}, images[1])
}

func TestMostRecent(t *testing.T) {
	older := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, poi.MostRecent(nil).IsZero())
	assert.Equal(t, newer, poi.MostRecent([]*poi.POI{{Timestamp: older}, {Timestamp: newer}}))
}

func TestPair_Misaligned(t *testing.T) {
	_, err := poi.Pair([]string{"a", "b"}, []string{"u"})
	assert.ErrorIs(t, err, poi.ErrMisaligned)
}

func TestCachePath(t *testing.T) {
	path := poi.CachePath(filepath.Join("data", "cruise.csv"), "MODIS-Aqua", "L2", "OC")
	assert.Equal(t, filepath.Join("data", "cruise_MODIS-Aqua_L2_OC.csv"), path)

	path = poi.CachePath("cruise.csv", "OLCI", "L1", "")
	assert.Equal(t, "cruise_OLCI_L1.csv", path)
}
