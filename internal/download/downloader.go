package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/OceanOptics/getOC/internal/auth"
	"github.com/OceanOptics/getOC/internal/poi"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
	"github.com/OceanOptics/getOC/internal/telemetry"
)

// Default download settings.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 60 * time.Second
	DefaultMinFileSize = 1024
	DefaultChunkSize   = 16 * 1024
	DefaultTimeout     = 5 * time.Minute

	// EarthdataLoginHost is the single sign-on host of Earthdata downloads.
	EarthdataLoginHost = "urs.earthdata.nasa.gov"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4096
	maxRedirects = 10
)

// Config holds configuration for a Downloader.
type Config struct {
	// Platform and RunID label recorded transfers.
	Platform string
	RunID    string

	// OutputDir receives the files. It is created if missing.
	OutputDir string

	// MaxRetries is the total number of attempts per file.
	// Default: 3
	MaxRetries int

	// RetryDelay is the fixed wait between attempts. Negative disables the wait.
	// Default: 60 seconds
	RetryDelay time.Duration

	// MinFileSize is the size below which an existing file is fetched again,
	// and a transfer of unknown length is considered truncated.
	// Default: 1024 bytes
	MinFileSize int64

	// ChunkSize is the copy buffer size.
	// Default: 16 KiB
	ChunkSize int

	// Timeout bounds the wait for response headers.
	// Default: 5 minutes
	Timeout time.Duration

	// Resume keeps partial temporary files between attempts and asks the
	// server for the missing byte range.
	Resume bool

	// FailFast stops the batch at the first failed file.
	FailFast bool

	// Verbose logs progress as a percentage rounded to 10%.
	Verbose bool

	// Auth signs requests. Nil sends anonymous requests.
	Auth Authenticator

	// HTTPClient is an optional custom client. If nil, a client with a cookie
	// jar and redirect-preserving authorization is built.
	HTTPClient *http.Client

	// Recorder and Publisher are optional transfer sinks.
	Recorder  Recorder
	Publisher Publisher

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Downloader retrieves images one at a time.
type Downloader struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
	tracer trace.Tracer

	files   metric.Int64Counter
	bytes   metric.Int64Counter
	retries metric.Int64Counter
}

// New creates a Downloader, applying defaults to unset fields.
func New(cfg Config) *Downloader {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	switch {
	case cfg.RetryDelay == 0:
		cfg.RetryDelay = DefaultRetryDelay
	case cfg.RetryDelay < 0:
		cfg.RetryDelay = 0
	}
	if cfg.MinFileSize <= 0 {
		cfg.MinFileSize = DefaultMinFileSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}

	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	meter := telemetry.Meter("github.com/OceanOptics/getOC/internal/download")
	files, _ := meter.Int64Counter("getoc.download.files",
		metric.WithDescription("Files handled by the downloader, by outcome"))
	bytes, _ := meter.Int64Counter("getoc.download.bytes",
		metric.WithDescription("Bytes written by the downloader"),
		metric.WithUnit("By"))
	retries, _ := meter.Int64Counter("getoc.download.retries",
		metric.WithDescription("Download attempts that were retried"))

	return &Downloader{
		cfg:     cfg,
		client:  client,
		now:     now,
		tracer:  telemetry.Tracer("github.com/OceanOptics/getOC/internal/download"),
		files:   files,
		bytes:   bytes,
		retries: retries,
	}
}

// NewHTTPClient returns a client suited to large archive transfers: no overall
// timeout, a cookie jar for single sign-on hops, and the Authorization header
// carried across redirects.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout

	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Transport:     transport,
		Jar:           jar,
		CheckRedirect: keepAuthorization,
	}
}

// keepAuthorization carries bearer tokens across every hop. Passwords only
// follow redirects to the original host and to the Earthdata login host.
func keepAuthorization(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.Header.Get("Authorization") != "" {
		return nil
	}
	value := via[0].Header.Get("Authorization")
	if value == "" {
		return nil
	}
	host := req.URL.Hostname()
	if strings.HasPrefix(value, "Bearer ") || host == via[0].URL.Hostname() || host == EarthdataLoginHost {
		req.Header.Set("Authorization", value)
	}
	return nil
}

// Download retrieves every image in order. It returns an error only when the
// batch stops early: cancellation, rejected credentials or FailFast.
func (d *Downloader) Download(ctx context.Context, images []poi.Image) (*Report, error) {
	start := d.now()
	report := &Report{Requested: len(images)}
	defer func() { report.Duration = d.now().Sub(start) }()

	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return report, fmt.Errorf("create output directory: %w", err)
	}

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		d.cfg.Logger.Info().
			Int("index", i+1).
			Int("total", len(images)).
			Str("file", img.Name).
			Msg("downloading")

		transfer, err := d.Fetch(ctx, img)
		switch {
		case err == nil && transfer.Skipped:
			report.Skipped++
		case err == nil:
			report.Completed++
			report.Bytes += transfer.Bytes
		default:
			report.Failed++
			report.Failures = append(report.Failures, Failure{Name: img.Name, Err: err})

			if errors.Is(err, auth.ErrInvalidCredentials) || ctx.Err() != nil || d.cfg.FailFast {
				return report, fmt.Errorf("%w: %s: %w", ErrAborted, img.Name, err)
			}
		}
	}

	return report, nil
}

// Fetch retrieves a single image. A file already present with at least
// MinFileSize bytes is not requested again.
func (d *Downloader) Fetch(ctx context.Context, img poi.Image) (Transfer, error) {
	ctx, span := d.tracer.Start(ctx, "download.fetch",
		trace.WithAttributes(
			attribute.String("download.file", img.Name),
			attribute.String("download.platform", d.cfg.Platform),
		))
	defer span.End()

	t := Transfer{
		RunID:    d.cfg.RunID,
		Platform: d.cfg.Platform,
		Name:     img.Name,
		URL:      img.URL,
		Expected: -1,
	}
	logger := d.cfg.Logger.With().Str("file", img.Name).Logger()

	if img.Name == "" || img.URL == "" {
		err := fmt.Errorf("%w: %q", ErrNoURL, img.Name)
		d.finish(ctx, &t, err)
		span.SetStatus(codes.Error, err.Error())
		return t, err
	}

	dest := filepath.Join(d.cfg.OutputDir, img.Name)
	tmp := filepath.Join(d.cfg.OutputDir, TempPrefix+img.Name)

	if fi, err := os.Stat(dest); err == nil {
		if fi.Size() >= d.cfg.MinFileSize {
			logger.Info().Int64("bytes", fi.Size()).Msg("skip (already downloaded)")
			t.Skipped = true
			t.Bytes = fi.Size()
			d.finish(ctx, &t, nil)
			return t, nil
		}
		logger.Warn().Int64("bytes", fi.Size()).Msg("removing truncated file")
		_ = os.Remove(dest)
	}

	d.transition(ctx, &t, StatePending)
	d.transition(ctx, &t, StateInProgress)

	policy := resilience.RetryPolicy{MaxAttempts: d.cfg.MaxRetries, Delay: d.cfg.RetryDelay}
	err := resilience.Retry(ctx, policy, func(attempt int) error {
		t.Attempts = attempt
		err := d.attempt(ctx, img, tmp, &t, logger)
		if err != nil && !retryable(err) {
			return resilience.Permanent(err)
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		d.retries.Add(ctx, 1)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", d.cfg.MaxRetries).
			Dur("retry_in", wait).
			Msg("download attempt failed")
	})

	if err == nil {
		if err = os.Rename(tmp, dest); err != nil {
			err = fmt.Errorf("rename temporary file: %w", err)
		}
	}
	if err != nil {
		_ = os.Remove(tmp)
		_ = os.Remove(dest)
		logger.Error().Err(err).Int("attempts", t.Attempts).Msg("download failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.finish(ctx, &t, err)
		return t, err
	}

	logger.Info().Int64("bytes", t.Bytes).Int("attempts", t.Attempts).Msg("download complete")
	d.bytes.Add(ctx, t.Bytes)
	d.finish(ctx, &t, nil)
	return t, nil
}

// attempt performs one request and writes the body to tmp.
func (d *Downloader) attempt(ctx context.Context, img poi.Image, tmp string, t *Transfer, logger zerolog.Logger) error {
	var offset int64
	if d.cfg.Resume {
		if fi, err := os.Stat(tmp); err == nil {
			offset = fi.Size()
		}
	} else {
		_ = os.Remove(tmp)
	}

	resp, err := d.request(ctx, img.URL, offset, logger)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			_ = os.Remove(tmp)
		}
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			_ = os.Remove(tmp)
			return fmt.Errorf("%w: content range %q does not resume at %d", ErrIncomplete, resp.Header.Get("Content-Range"), offset)
		}
		flags |= os.O_APPEND
		t.Expected = total
		if total < 0 && resp.ContentLength >= 0 {
			t.Expected = offset + resp.ContentLength
		}
		logger.Debug().Int64("offset", offset).Msg("resuming partial download")
	default:
		offset = 0
		flags |= os.O_TRUNC
		t.Expected = resp.ContentLength
	}

	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("open temporary file: %w", err))
	}

	written, copyErr := d.copy(f, resp.Body, offset, t.Expected, logger)
	closeErr := f.Close()
	t.Bytes = offset + written

	if copyErr != nil {
		return fmt.Errorf("read body: %w", copyErr)
	}
	if closeErr != nil {
		return resilience.Permanent(fmt.Errorf("close temporary file: %w", closeErr))
	}
	if t.Expected >= 0 && t.Bytes < t.Expected {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, t.Bytes, t.Expected)
	}
	if t.Expected < 0 && t.Bytes < d.cfg.MinFileSize {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %d bytes is below the %d byte minimum", ErrIncomplete, t.Bytes, d.cfg.MinFileSize)
	}
	return nil
}

// request issues the GET and renews the credentials once if the backend
// reports an expired token. The renewal does not count as an attempt.
func (d *Downloader) request(ctx context.Context, rawURL string, offset int64, logger zerolog.Logger) (*http.Response, error) {
	resp, err := d.send(ctx, rawURL, offset)
	if err != nil {
		return nil, err
	}
	if success(resp.StatusCode) {
		return resp, nil
	}

	statusErr := readStatusError(resp)
	if d.cfg.Auth == nil || !expiredToken(statusErr) {
		return nil, statusErr
	}

	logger.Info().Int("status", statusErr.StatusCode).Msg("access token expired, refreshing")
	refreshed, err := d.cfg.Auth.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if !refreshed {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidCredentials, statusErr)
	}

	resp, err = d.send(ctx, rawURL, offset)
	if err != nil {
		return nil, err
	}
	if success(resp.StatusCode) {
		return resp, nil
	}
	statusErr = readStatusError(resp)
	if statusErr.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidCredentials, statusErr)
	}
	return nil, statusErr
}

func (d *Downloader) send(ctx context.Context, rawURL string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	if d.cfg.Auth != nil {
		if err := d.cfg.Auth.Authorize(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// copy streams body to w in ChunkSize pieces.
func (d *Downloader) copy(w io.Writer, body io.Reader, offset, expected int64, logger zerolog.Logger) (int64, error) {
	buf := make([]byte, d.cfg.ChunkSize)
	var written int64
	lastPct := -1

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)

			if d.cfg.Verbose && expected > 0 {
				pct := progress(offset+written, expected)
				if pct != lastPct {
					lastPct = pct
					logger.Debug().Int("percent", pct).Msg("download progress")
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (d *Downloader) transition(ctx context.Context, t *Transfer, state State) {
	t.State = state
	t.UpdatedAt = d.now()
	if d.cfg.Recorder == nil {
		return
	}
	if err := d.cfg.Recorder.Record(ctx, *t); err != nil {
		d.cfg.Logger.Warn().Err(err).Str("file", t.Name).Str("state", string(state)).Msg("failed to record transfer")
	}
}

// finish moves t to its terminal state and announces it.
func (d *Downloader) finish(ctx context.Context, t *Transfer, err error) {
	state := StateComplete
	outcome := "complete"
	switch {
	case err != nil:
		state = StateFailed
		outcome = "failed"
		t.Error = err.Error()
	case t.Skipped:
		outcome = "skipped"
	}

	// Sinks should see the terminal state even when the run was canceled.
	sinkCtx := context.WithoutCancel(ctx)
	d.transition(sinkCtx, t, state)
	d.files.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	if d.cfg.Publisher == nil {
		return
	}
	if pubErr := d.cfg.Publisher.Publish(sinkCtx, *t); pubErr != nil {
		d.cfg.Logger.Warn().Err(pubErr).Str("file", t.Name).Msg("failed to publish transfer")
	}
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code >= 500 || code == http.StatusRequestTimeout ||
			code == http.StatusTooManyRequests || code == http.StatusRequestedRangeNotSatisfiable
	}
	return true
}

// expiredToken reports a rejection that fresh credentials may cure. CREODIAS
// answers "Expired signature!"; other backends send a bare 401.
func expiredToken(err *StatusError) bool {
	return err.StatusCode == http.StatusUnauthorized ||
		strings.Contains(strings.ToLower(err.Body), "expired")
}

func success(code int) bool {
	return code >= 200 && code < 300
}

func readStatusError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// parseContentRange parses "bytes start-end/total". total is -1 when unknown.
func parseContentRange(value string) (start, total int64, ok bool) {
	rest, found := strings.CutPrefix(value, "bytes ")
	if !found {
		return 0, 0, false
	}
	rng, size, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, false
		}
	}
	return start, total, true
}

// progress rounds done/total to the nearest 10 percent.
func progress(done, total int64) int {
	return int(math.Round(float64(done)/float64(total)*10)) * 10
}
