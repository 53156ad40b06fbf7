// Package cmr searches the NASA Common Metadata Repository for OB.DAAC granules.
package cmr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/geo"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/poi"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

const (
	// ProviderName identifies this backend.
	ProviderName = "cmr"

	// DefaultSearchURL is the CMR granule search endpoint.
	DefaultSearchURL = "https://cmr.earthdata.nasa.gov/search/granules.json"

	// Provider is the CMR data provider holding ocean color granules.
	Provider = "OB_DAAC"

	// NRTWindow is how long after acquisition granules may still only be
	// indexed under the near-real-time short name.
	NRTWindow = 60 * 24 * time.Hour

	// PageSize is the number of granules requested per page.
	PageSize = 2000

	// maxPages bounds paging through a single search.
	maxPages = 10

	temporalLayout = "2006-01-02T15:04:05Z"
)

// ClientConfig holds configuration for the CMR client.
type ClientConfig struct {
	// SearchURL overrides the public endpoint.
	SearchURL string

	// Username and Password are the Earthdata login used for downloads.
	Username string
	Password string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Download configures file retrieval. Platform and Auth are filled in.
	Download download.Config

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Client is a CMR backend.
type Client struct {
	searchURL  string
	httpClient *resilience.Client
	downloader *download.Downloader
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a new CMR backend.
func NewClient(cfg ClientConfig) *Client {
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	dl := cfg.Download
	dl.Platform = ProviderName
	if dl.Auth == nil && cfg.Username != "" {
		dl.Auth = download.BasicAuth{Username: cfg.Username, Password: cfg.Password}
	}
	dl.Logger = cfg.Logger

	return &Client{
		searchURL:  searchURL,
		httpClient: httpClient,
		downloader: download.New(dl),
		logger:     cfg.Logger,
		now:        now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Kind returns the backend kind.
func (c *Client) Kind() platform.Kind {
	return platform.KindCMR
}

// Validate checks that the catalogue indexes the requested collection.
func (c *Client) Validate(q platform.Query) error {
	_, err := ShortName(q.Instrument, q.Level, q.Product)
	return err
}

// ShortName composes the collection short name: "<root>_<L1>" for level 1
// products and "<root>_<level>_<product>" otherwise.
func ShortName(instrument, level, product string) (string, error) {
	inst, err := platform.LookupInstrument(instrument)
	if err != nil {
		return "", err
	}
	if inst.CMRName == "" {
		return "", fmt.Errorf("%w: %s is not indexed by CMR", platform.ErrUnsupportedInstrument, instrument)
	}

	switch {
	case level == platform.LevelL0 || strings.HasPrefix(level, "L1"):
		return inst.CMRName + "_" + level[:2], nil
	case level == platform.LevelL2 || platform.IsLevel3(level):
		if product == "" {
			return "", fmt.Errorf("%w: level %s requires a product", platform.ErrUnsupportedProduct, level)
		}
		return inst.CMRName + "_" + level + "_" + product, nil
	}
	return "", fmt.Errorf("%w: %q", platform.ErrUnsupportedLevel, level)
}

// Search queries the catalogue for one POI. Level 1 VIIRS searches include the
// geolocation collection; windows ending less than NRTWindow ago are repeated
// against the near-real-time collections.
func (c *Client) Search(ctx context.Context, p *poi.POI, q platform.Query) ([]poi.Image, error) {
	q = q.WithDefaults()
	inst, err := platform.LookupInstrument(q.Instrument)
	if err != nil {
		return nil, err
	}
	shortName, err := ShortName(q.Instrument, q.Level, q.Product)
	if err != nil {
		return nil, err
	}

	box := geo.Box(p.Latitude, p.Longitude, q.BoundingBoxSize)
	window := geo.Window(p.Timestamp, q.TimeWindow)

	shortNames := []string{shortName}
	if inst.IsVIIRS() && platform.IsLevel1(q.Level) {
		shortNames = append(shortNames, shortName+"_GEO")
	}
	if c.now().Sub(window.End) < NRTWindow {
		standard := len(shortNames)
		for i := 0; i < standard; i++ {
			shortNames = append(shortNames, shortNames[i]+"_NRT")
		}
	}

	var images []poi.Image
	for _, name := range shortNames {
		found, err := c.query(ctx, name, box, window)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", name, err)
		}
		c.logger.Debug().Str("poi", p.ID).Str("short_name", name).Int("granules", len(found)).Msg("cmr query completed")
		images = append(images, found...)
	}

	return filter(images, inst, q), nil
}

// filter keeps the requested level 3 resolution and binning period, and the
// satellite-qualified family of VIIRS SST products.
func filter(images []poi.Image, inst platform.Instrument, q platform.Query) []poi.Image {
	out := images[:0]
	for _, img := range images {
		if platform.IsLevel3(q.Level) &&
			(!strings.Contains(img.Name, q.L3Resolution) || !strings.Contains(img.Name, q.L3BinningPeriod)) {
			continue
		}
		if inst.IsVIIRS() && strings.HasPrefix(q.Product, "SST") && !strings.Contains(img.Name, inst.Mission+".") {
			continue
		}
		out = append(out, img)
	}
	return out
}

// query fetches every page of one collection search.
func (c *Client) query(ctx context.Context, shortName string, box geo.BoundingBox, window geo.TimeWindow) ([]poi.Image, error) {
	var images []poi.Image
	for page := 1; page <= maxPages; page++ {
		params := url.Values{}
		params.Set("provider", Provider)
		params.Set("short_name", shortName)
		params.Set("bounding_box", box.String())
		params.Set("temporal", window.Start.UTC().Format(temporalLayout)+","+window.End.UTC().Format(temporalLayout))
		params.Set("page_size", strconv.Itoa(PageSize))
		params.Set("page_num", strconv.Itoa(page))
		params.Set("sort_key", "start_date")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+params.Encode(), http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &platform.StatusError{Backend: ProviderName, StatusCode: resp.StatusCode}
		}

		found, entries, err := ParseGranules(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &platform.ContractError{Backend: ProviderName, Detail: "granule feed", Err: err}
		}
		images = append(images, found...)

		if entries < PageSize {
			break
		}
	}
	return images, nil
}

// Reconcile drops near-real-time granules superseded by their standard version.
func (c *Client) Reconcile(images []poi.Image) []poi.Image {
	return platform.DropSupersededNRT(images)
}

// Download retrieves the images with Earthdata basic authentication.
func (c *Client) Download(ctx context.Context, images []poi.Image) (*download.Report, error) {
	return c.downloader.Download(ctx, images)
}
