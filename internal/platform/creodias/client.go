// Package creodias searches the CREODIAS resto finder and downloads Sentinel
// products with a query-string token.
package creodias

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/auth"
	"github.com/OceanOptics/getOC/internal/download"
	"github.com/OceanOptics/getOC/internal/geo"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/poi"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

const (
	// ProviderName identifies this backend.
	ProviderName = "creodias"

	// DefaultFinderURL is the base of the collection search endpoints.
	DefaultFinderURL = "https://finder.creodias.eu/resto/api/collections"

	// DefaultDownloadURL is used for features without a download service link.
	DefaultDownloadURL = "https://zipper.creodias.eu/download"

	// DefaultTokenURL is the identity provider token endpoint.
	DefaultTokenURL = "https://auth.creodias.eu/auth/realms/DIAS/protocol/openid-connect/token"

	// ClientID is the public OpenID client of CREODIAS.
	ClientID = "CLOUDFERRO_PUBLIC"

	// DefaultMaxRetries is the download attempt budget of archive products.
	DefaultMaxRetries = 10

	maxRecords    = 1000
	maxPages      = 20
	finderTimeFmt = "2006-01-02T15:04:05Z"
	archiveSuffix = ".zip"
)

// processingLevels maps levels to the finder vocabulary.
var processingLevels = map[string]string{
	platform.LevelL1:  "LEVEL1",
	platform.LevelL2:  "LEVEL2",
	platform.LevelL1C: "LEVEL1C",
	platform.LevelL2A: "LEVEL2A",
}

// ClientConfig holds configuration for the CREODIAS client.
type ClientConfig struct {
	// FinderURL, DownloadURL and TokenURL override the public endpoints.
	FinderURL   string
	DownloadURL string
	TokenURL    string

	// Username and Password are the CREODIAS account.
	Username string
	Password string

	// Tokens overrides the password-grant token source.
	Tokens download.TokenProvider

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Download configures file retrieval. Platform and Auth are filled in.
	Download download.Config

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Client is a CREODIAS backend.
type Client struct {
	finderURL   string
	downloadURL string
	httpClient  *resilience.Client
	downloader  *download.Downloader
	logger      zerolog.Logger
	now         func() time.Time
}

// NewClient creates a new CREODIAS backend.
func NewClient(cfg ClientConfig) *Client {
	finderURL := strings.TrimSuffix(cfg.FinderURL, "/")
	if finderURL == "" {
		finderURL = DefaultFinderURL
	}
	downloadURL := strings.TrimSuffix(cfg.DownloadURL, "/")
	if downloadURL == "" {
		downloadURL = DefaultDownloadURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = auth.NewTokenSource(auth.TokenSourceConfig{
			TokenURL: tokenURL,
			ClientID: ClientID,
			Username: cfg.Username,
			Password: cfg.Password,
			Logger:   cfg.Logger,
		})
	}

	dl := cfg.Download
	dl.Platform = ProviderName
	dl.Resume = true
	if dl.MaxRetries == 0 {
		dl.MaxRetries = DefaultMaxRetries
	}
	if dl.Auth == nil {
		dl.Auth = download.QueryTokenAuth{Tokens: tokens, Param: "token"}
	}
	dl.Logger = cfg.Logger

	return &Client{
		finderURL:   finderURL,
		downloadURL: downloadURL,
		httpClient:  httpClient,
		downloader:  download.New(dl),
		logger:      cfg.Logger,
		now:         now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Kind returns the backend kind.
func (c *Client) Kind() platform.Kind {
	return platform.KindCreodias
}

// Validate checks that the instrument and level map to a finder product type.
func (c *Client) Validate(q platform.Query) error {
	_, err := platform.ResolveSentinelProduct(q.Instrument, q.Level, q.Product)
	return err
}

// SearchURL builds the first finder query of one POI.
func (c *Client) SearchURL(p *poi.POI, q platform.Query) (string, error) {
	sp, err := platform.ResolveSentinelProduct(q.Instrument, q.Level, q.Product)
	if err != nil {
		return "", err
	}

	box := geo.Box(p.Latitude, p.Longitude, q.BoundingBoxSize)
	window := geo.Window(p.Timestamp, q.TimeWindow)

	params := url.Values{}
	params.Set("instrument", sp.Sensor)
	params.Set("productType", sp.Variant)
	params.Set("processingLevel", processingLevels[sp.Level])
	params.Set("startDate", window.Start.UTC().Format(finderTimeFmt))
	params.Set("completionDate", window.End.UTC().Format(finderTimeFmt))
	if box.CrossesAntimeridian() {
		params.Set("geometry", box.WKT())
	} else {
		params.Set("box", box.String())
	}
	params.Set("maxRecords", strconv.Itoa(maxRecords))
	params.Set("sortParam", "startDate")

	return fmt.Sprintf("%s/Sentinel%d/search.json?%s", c.finderURL, sp.Mission, params.Encode()), nil
}

// Search lists the top-level products matching one POI.
func (c *Client) Search(ctx context.Context, p *poi.POI, q platform.Query) ([]poi.Image, error) {
	q = q.WithDefaults()
	next, err := c.SearchURL(p, q)
	if err != nil {
		return nil, err
	}

	box := geo.Box(p.Latitude, p.Longitude, q.BoundingBoxSize)

	var images []poi.Image
	for page := 0; next != "" && page < maxPages; page++ {
		features, nextLink, err := c.fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, f := range features {
			if f.Child || f.Title == "" {
				continue
			}
			if !overlaps(f.Footprint, box) {
				c.logger.Debug().Str("feature", f.Title).Msg("footprint outside bounding box")
				continue
			}
			dl := f.DownloadURL
			if dl == "" {
				dl = c.downloadURL + "/" + f.ID
			}
			images = append(images, poi.Image{
				Name:   archiveName(f.Title),
				URL:    dl,
				Entity: f.ID,
			})
		}
		next = nextLink
	}
	return images, nil
}

// overlaps reports whether a footprint touches the box. Features without a
// geometry are kept.
func overlaps(footprint *orb.Bound, box geo.BoundingBox) bool {
	if footprint == nil {
		return true
	}
	for _, b := range box.Bounds() {
		if footprint.Intersects(b) {
			return true
		}
	}
	return false
}

func archiveName(title string) string {
	if strings.HasSuffix(title, archiveSuffix) {
		return title
	}
	return title + archiveSuffix
}

func (c *Client) fetch(ctx context.Context, pageURL string) ([]Feature, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &platform.StatusError{Backend: ProviderName, StatusCode: resp.StatusCode}
	}

	features, next, err := ParseFeatures(resp.Body)
	if err != nil {
		return nil, "", &platform.ContractError{Backend: ProviderName, Detail: "resto features", Err: err}
	}
	return features, next, nil
}

// Reconcile keeps the most recent version of every acquisition.
func (c *Client) Reconcile(images []poi.Image) []poi.Image {
	return platform.SelectMostRecent(images, c.now())
}

// Download retrieves the products, passing the access token in the query string.
// An "Expired signature!" rejection renews the token in place.
func (c *Client) Download(ctx context.Context, images []poi.Image) (*download.Report, error) {
	return c.downloader.Download(ctx, images)
}
