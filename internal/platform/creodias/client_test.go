package creodias_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/platform/creodias"
	"github.com/OceanOptics/getOC/internal/poi"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

func feature(id, title string, parent interface{}, downloadURL string) map[string]interface{} {
	return map[string]interface{}{
		"type": "Feature",
		"id":   id,
		"properties": map[string]interface{}{
			"title":            title,
			"parentIdentifier": parent,
			"services": map[string]interface{}{
				"download": map[string]interface{}{"url": downloadURL, "size": 1024},
			},
		},
	}
}

func testPOI() *poi.POI {
	return &poi.POI{ID: "p1", Timestamp: time.Date(2020, 8, 16, 12, 0, 0, 0, time.UTC), Latitude: 36, Longitude: -70}
}

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/resto/api/collections/Sentinel2/search.json", r.URL.Path)
		assert.Equal(t, "MSI", q.Get("instrument"))
		assert.Equal(t, "L1C", q.Get("productType"))
		assert.Equal(t, "LEVEL1C", q.Get("processingLevel"))
		assert.Equal(t, "2020-08-16T00:00:00Z", q.Get("startDate"))
		assert.Equal(t, "2020-08-17T00:00:00Z", q.Get("completionDate"))
		assert.NotEmpty(t, q.Get("box"))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"type": "FeatureCollection",
			"features": []map[string]interface{}{
				feature("old", "S2A_MSIL1C_20200816T153911_N0209_R011_T18SUF_20200816T190436.SAFE", nil, "https://zipper.example/download/old"),
				feature("granule", "S2A_OPER_MSI_L1C_TL_SGS__20200816T190436_A026898_T18SUF_N02.09", "old", ""),
				feature("new", "S2A_MSIL1C_20200816T153911_N0500_R011_T18SUF_20230501T101010.SAFE", nil, ""),
			},
			"properties": map[string]interface{}{"totalResults": 3},
		})
	}))
	defer server.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := creodias.NewClient(creodias.ClientConfig{
		FinderURL:   server.URL + "/resto/api/collections",
		DownloadURL: "https://zipper.example/download",
		HTTPClient:  resilience.NewClient(resilience.DefaultClientConfig("creodias-test")),
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return now },
	})

	images, err := client.Search(context.Background(), testPOI(), platform.Query{Instrument: "MSI", Level: "L1C"})
	require.NoError(t, err)

	require.Len(t, images, 2, "features with a parent are skipped")
	assert.Equal(t, "S2A_MSIL1C_20200816T153911_N0209_R011_T18SUF_20200816T190436.SAFE.zip", images[0].Name)
	assert.Equal(t, "https://zipper.example/download/old", images[0].URL)
	assert.Equal(t, "https://zipper.example/download/new", images[1].URL, "fallback download url")

	reconciled := client.Reconcile(images)
	require.Len(t, reconciled, 1)
	assert.Equal(t, "new", reconciled[0].Entity)
}

func TestClient_SearchFollowsNextLink(t *testing.T) {
	var pages atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := pages.Add(1)
		body := map[string]interface{}{
			"features": []map[string]interface{}{
				feature(fmt.Sprintf("id%d", page), fmt.Sprintf("S3A_OL_1_EFR____2020081%dT145135_x.SEN3", page), nil, ""),
			},
		}
		if page == 1 {
			assert.Equal(t, "OL", r.URL.Query().Get("instrument"))
			assert.Equal(t, "EFR", r.URL.Query().Get("productType"))
			assert.Equal(t, "LEVEL1", r.URL.Query().Get("processingLevel"))
			body["properties"] = map[string]interface{}{
				"links": []map[string]string{{"rel": "next", "href": server.URL + "/resto/api/collections/Sentinel3/search.json?page=2"}},
			}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	client := creodias.NewClient(creodias.ClientConfig{
		FinderURL:  server.URL + "/resto/api/collections",
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("creodias-paging")),
		Logger:     zerolog.Nop(),
	})

	images, err := client.Search(context.Background(), testPOI(), platform.Query{Instrument: "OLCI", Level: "L1"})
	require.NoError(t, err)
	assert.Len(t, images, 2)
	assert.Equal(t, int32(2), pages.Load())
}

func square(lon, lat float64) map[string]interface{} {
	return map[string]interface{}{
		"type": "Polygon",
		"coordinates": [][][]float64{{
			{lon - 1, lat - 1}, {lon + 1, lat - 1}, {lon + 1, lat + 1}, {lon - 1, lat + 1}, {lon - 1, lat - 1},
		}},
	}
}

func TestClient_SearchDropsFootprintsOutsideBox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		inside := feature("inside", "S3A_OL_2_WFR____20200816T145135_a.SEN3", nil, "")
		inside["geometry"] = square(-70, 36)
		outside := feature("outside", "S3A_OL_2_WFR____20200816T145135_b.SEN3", nil, "")
		outside["geometry"] = square(10, 10)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"features": []map[string]interface{}{inside, outside},
		})
	}))
	defer server.Close()

	client := creodias.NewClient(creodias.ClientConfig{
		FinderURL:  server.URL + "/resto/api/collections",
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("creodias-footprint")),
		Logger:     zerolog.Nop(),
	})

	images, err := client.Search(context.Background(), testPOI(), platform.Query{Instrument: "OLCI", Level: "L2"})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "inside", images[0].Entity)
}

func TestParseFeatures_Footprint(t *testing.T) {
	body := `{"features":[
		{"id":"a","geometry":{"type":"Polygon","coordinates":[[[-71,35],[-69,35],[-69,37],[-71,37],[-71,35]]]},"properties":{"title":"A"}},
		{"id":"b","geometry":null,"properties":{"title":"B"}}
	]}`

	features, next, err := creodias.ParseFeatures(strings.NewReader(body))
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, features, 2)

	require.NotNil(t, features[0].Footprint)
	assert.InDelta(t, -71, features[0].Footprint.Min.Lon(), 1e-9)
	assert.InDelta(t, 37, features[0].Footprint.Max.Lat(), 1e-9)
	assert.Nil(t, features[1].Footprint)
}

func TestClient_DownloadRefreshesExpiredToken(t *testing.T) {
	body := strings.Repeat("c", 4096)
	var logins atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "CLOUDFERRO_PUBLIC", r.PostForm.Get("client_id"))
		n := logins.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("tok-%d", n),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/download/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("Expired signature!"))
			return
		}
		_, _ = w.Write([]byte(body))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	client := creodias.NewClient(creodias.ClientConfig{
		TokenURL: server.URL + "/token",
		Username: "user",
		Password: "pass",
		Download: download.Config{OutputDir: dir, MaxRetries: 1, RetryDelay: -1},
		Logger:   zerolog.Nop(),
	})

	report, err := client.Download(context.Background(), []poi.Image{
		{Name: "S3A_OL_1_EFR.SEN3.zip", URL: server.URL + "/download/abc", Entity: "abc"},
	})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, int32(2), logins.Load())

	got, err := os.ReadFile(filepath.Join(dir, "S3A_OL_1_EFR.SEN3.zip"))
	require.NoError(t, err)
	assert.Len(t, got, len(body))
}

func TestClient_SearchStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := creodias.NewClient(creodias.ClientConfig{
		FinderURL:  server.URL,
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("creodias-status")),
		Logger:     zerolog.Nop(),
	})

	_, err := client.Search(context.Background(), testPOI(), platform.Query{Instrument: "SLSTR", Level: "L2"})
	var statusErr *platform.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}
