// Package oceancolor searches the NASA Ocean-Color Level 1&2 Browser and
// retrieves files from the OB.DAAC getfile endpoint.
package oceancolor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/geo"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/poi"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

const (
	// ProviderName identifies this backend.
	ProviderName = "oceancolor"

	// DefaultSearchURL is the Level 1&2 Browser endpoint.
	DefaultSearchURL = "https://oceancolor.gsfc.nasa.gov/cgi/browse.pl"

	// DefaultGetFileURL is prefixed to file names to build download URLs.
	DefaultGetFileURL = "https://oceandata.sci.gsfc.nasa.gov/cgi/getfile/"

	// DefaultQueryDelay is the minimum spacing between two browser queries.
	DefaultQueryDelay = time.Second
)

// ClientConfig holds configuration for the browser client.
type ClientConfig struct {
	// SearchURL and GetFileURL override the public endpoints.
	SearchURL  string
	GetFileURL string

	// QueryDelay spaces successive searches. The browser blocks aggressive polling.
	// Default: 1 second
	QueryDelay time.Duration

	// Limiter gates searches. Clients sharing one limiter share the query
	// delay; if nil, a limiter built from QueryDelay is used.
	Limiter *rate.Limiter

	// Username and Password are the Earthdata login used for downloads.
	Username string
	Password string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Download configures file retrieval. Platform and Auth are filled in.
	Download download.Config

	Logger zerolog.Logger
}

// Client is an Ocean-Color Browser backend.
type Client struct {
	searchURL  string
	getFileURL string
	httpClient *resilience.Client
	limiter    *rate.Limiter
	downloader *download.Downloader
	logger     zerolog.Logger
}

// NewClient creates a new browser backend.
func NewClient(cfg ClientConfig) *Client {
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	getFileURL := cfg.GetFileURL
	if getFileURL == "" {
		getFileURL = DefaultGetFileURL
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(cfg.QueryDelay)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	dl := cfg.Download
	dl.Platform = ProviderName
	if dl.Auth == nil && cfg.Username != "" {
		dl.Auth = download.BasicAuth{Username: cfg.Username, Password: cfg.Password}
	}
	dl.Logger = cfg.Logger

	return &Client{
		searchURL:  searchURL,
		getFileURL: getFileURL,
		httpClient: httpClient,
		limiter:    limiter,
		downloader: download.New(dl),
		logger:     cfg.Logger,
	}
}

// NewLimiter returns a gate letting one browser query through per delay.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		delay = DefaultQueryDelay
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Limiter returns the gate spacing this client's searches.
func (c *Client) Limiter() *rate.Limiter {
	return c.limiter
}

// Kind returns the backend kind.
func (c *Client) Kind() platform.Kind {
	return platform.KindOceanColor
}

// Validate checks that the browser lists the requested product.
func (c *Client) Validate(q platform.Query) error {
	inst, err := platform.LookupInstrument(q.Instrument)
	if err != nil {
		return err
	}
	if inst.IsSentinel() {
		return fmt.Errorf("%w: %s is not listed by the browser", platform.ErrUnsupportedInstrument, q.Instrument)
	}
	_, _, err = dayNightParam(q.Level, q.Product)
	return err
}

// dayNightParam maps a level and product to the browser dnm and prm parameters.
func dayNightParam(level, product string) (dnm, prm string, err error) {
	switch level {
	case platform.LevelL2:
		switch product {
		case "OC", "IOP":
			return "D", "CHL", nil
		case "SST":
			return "D@N", "SST", nil
		case "SST4":
			return "N", "SST4", nil
		}
		return "", "", fmt.Errorf("%w: %q at level %s", platform.ErrUnsupportedProduct, product, level)
	case platform.LevelL0, platform.LevelL1, platform.LevelL1A, platform.LevelL1B, platform.LevelGEO:
		return "D", "TC", nil
	}
	return "", "", fmt.Errorf("%w: %q", platform.ErrUnsupportedLevel, level)
}

// SearchURL builds the level1or2list query for one POI.
func (c *Client) SearchURL(p *poi.POI, q platform.Query) (string, error) {
	inst, err := platform.LookupInstrument(q.Instrument)
	if err != nil {
		return "", err
	}
	dnm, prm, err := dayNightParam(q.Level, q.Product)
	if err != nil {
		return "", err
	}
	if q.DayNight != "" {
		dnm = q.DayNight
	}

	box := geo.Box(p.Latitude, p.Longitude, q.BoundingBoxSize)

	params := url.Values{}
	params.Set("sub", "level1or2list")
	params.Set("sen", inst.BrowserID)
	params.Set("dnm", dnm)
	params.Set("prm", prm)
	params.Set("per", "DAY")
	params.Set("day", strconv.Itoa(geo.DaysSinceEpoch(p.Timestamp)))
	params.Set("n", formatCoord(box.North))
	params.Set("s", formatCoord(box.South))
	params.Set("w", formatCoord(box.West))
	params.Set("e", formatCoord(box.East))

	return c.searchURL + "?" + params.Encode(), nil
}

// Search queries the browser for one POI. Queries are spaced by the query delay.
func (c *Client) Search(ctx context.Context, p *poi.POI, q platform.Query) ([]poi.Image, error) {
	q = q.WithDefaults()
	inst, err := platform.LookupInstrument(q.Instrument)
	if err != nil {
		return nil, err
	}

	query, err := c.SearchURL(p, q)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for query slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, query, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &platform.StatusError{Backend: ProviderName, StatusCode: resp.StatusCode}
	}

	listing, err := ParseListing(resp.Body, q.Level)
	if err != nil {
		return nil, &platform.ContractError{Backend: ProviderName, Detail: "html listing", Err: err}
	}

	names := listing.Names
	level1A := q.Level == platform.LevelL1A || q.Level == platform.LevelL1
	if level1A && inst.IsMODIS() && !listing.Single {
		names = withCompressedSuffix(names)
	}
	if level1A && inst.IsVIIRS() {
		names = withGeoCompanions(names)
	}

	c.logger.Debug().
		Str("poi", p.ID).
		Bool("single", listing.Single).
		Int("images", len(names)).
		Msg("browser listing parsed")

	images := make([]poi.Image, 0, len(names))
	for _, name := range names {
		images = append(images, poi.Image{Name: name, URL: c.getFileURL + name})
	}
	return images, nil
}

// Download retrieves the images with Earthdata basic authentication.
func (c *Client) Download(ctx context.Context, images []poi.Image) (*download.Report, error) {
	return c.downloader.Download(ctx, images)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}
