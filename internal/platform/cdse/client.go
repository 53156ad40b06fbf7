// Package cdse searches the Copernicus Data Space Ecosystem OData catalogue
// and downloads Sentinel products with bearer tokens.
package cdse

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

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
	ProviderName = "cdse"

	// DefaultCatalogueURL is the OData products endpoint.
	DefaultCatalogueURL = "https://catalogue.dataspace.copernicus.eu/odata/v1/Products"

	// DefaultDownloadURL is the base of product download links.
	DefaultDownloadURL = "https://zipper.dataspace.copernicus.eu/odata/v1/Products"

	// DefaultTokenURL is the identity provider token endpoint.
	DefaultTokenURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"

	// ClientID is the public OpenID client of the data space.
	ClientID = "cdse-public"

	// DefaultMaxRetries is the download attempt budget of archive products.
	DefaultMaxRetries = 10

	pageSize      = 1000
	maxPages      = 20
	odataTimeFmt  = "2006-01-02T15:04:05.000Z"
	archiveSuffix = ".zip"
)

// ClientConfig holds configuration for the data space client.
type ClientConfig struct {
	// CatalogueURL, DownloadURL and TokenURL override the public endpoints.
	CatalogueURL string
	DownloadURL  string
	TokenURL     string

	// Username and Password are the data space account.
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

// Client is a Copernicus Data Space backend.
type Client struct {
	catalogueURL string
	downloadURL  string
	httpClient   *resilience.Client
	downloader   *download.Downloader
	logger       zerolog.Logger
	now          func() time.Time
}

// NewClient creates a new data space backend.
func NewClient(cfg ClientConfig) *Client {
	catalogueURL := cfg.CatalogueURL
	if catalogueURL == "" {
		catalogueURL = DefaultCatalogueURL
	}
	downloadURL := cfg.DownloadURL
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
		dl.Auth = download.BearerAuth{Tokens: tokens}
	}
	dl.Logger = cfg.Logger

	return &Client{
		catalogueURL: catalogueURL,
		downloadURL:  downloadURL,
		httpClient:   httpClient,
		downloader:   download.New(dl),
		logger:       cfg.Logger,
		now:          now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Kind returns the backend kind.
func (c *Client) Kind() platform.Kind {
	return platform.KindCDSE
}

// Validate checks that the instrument and level map to a product type.
func (c *Client) Validate(q platform.Query) error {
	_, err := platform.ResolveSentinelProduct(q.Instrument, q.Level, q.Product)
	return err
}

// Filter builds the OData $filter expression of one POI search.
func Filter(sp platform.SentinelProduct, box geo.BoundingBox, window geo.TimeWindow) string {
	return fmt.Sprintf(
		"Collection/Name eq 'SENTINEL-%d' and "+
			"Attributes/OData.CSC.StringAttribute/any(att:att/Name eq 'productType' and att/OData.CSC.StringAttribute/Value eq '%s') and "+
			"OData.CSC.Intersects(area=geography'SRID=4326;%s') and "+
			"ContentDate/Start gt %s and ContentDate/Start lt %s",
		sp.Mission,
		sp.ProductType(),
		box.WKT(),
		window.Start.UTC().Format(odataTimeFmt),
		window.End.UTC().Format(odataTimeFmt),
	)
}

// Search lists the online products intersecting the POI bounding box within
// its time window.
func (c *Client) Search(ctx context.Context, p *poi.POI, q platform.Query) ([]poi.Image, error) {
	q = q.WithDefaults()
	sp, err := platform.ResolveSentinelProduct(q.Instrument, q.Level, q.Product)
	if err != nil {
		return nil, err
	}

	box := geo.Box(p.Latitude, p.Longitude, q.BoundingBoxSize)
	window := geo.Window(p.Timestamp, q.TimeWindow)

	params := url.Values{}
	params.Set("$filter", Filter(sp, box, window))
	params.Set("$orderby", "ContentDate/Start asc")
	params.Set("$top", strconv.Itoa(pageSize))
	next := c.catalogueURL + "?" + params.Encode()

	var images []poi.Image
	offline := 0
	for page := 0; next != "" && page < maxPages; page++ {
		products, nextLink, err := c.fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, product := range products {
			if !product.Online {
				offline++
				continue
			}
			images = append(images, poi.Image{
				Name:   product.Name + archiveSuffix,
				URL:    c.downloadURL + "(" + product.ID + ")/$value",
				Entity: product.ID,
			})
		}
		next = nextLink
	}

	if offline > 0 {
		c.logger.Warn().Str("poi", p.ID).Int("offline", offline).Msg("skipping offline products")
	}
	return images, nil
}

func (c *Client) fetch(ctx context.Context, pageURL string) ([]Product, string, error) {
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

	products, next, err := ParseProducts(resp.Body)
	if err != nil {
		return nil, "", &platform.ContractError{Backend: ProviderName, Detail: "odata products", Err: err}
	}
	return products, next, nil
}

// Reconcile keeps the most recent version of every acquisition.
func (c *Client) Reconcile(images []poi.Image) []poi.Image {
	return platform.SelectMostRecent(images, c.now())
}

// Download retrieves the products with a bearer token, resuming partial files.
func (c *Client) Download(ctx context.Context, images []poi.Image) (*download.Report, error) {
	return c.downloader.Download(ctx, images)
}
