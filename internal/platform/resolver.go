package platform

import (
	"context"
	"errors"
	"fmt"
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

const instrumentationName = "github.com/OceanOptics/getOC/internal/platform"

// DefaultMaxCircuitWaits is how many times in a row one POI waits for an open
// circuit breaker before the pass is aborted.
const DefaultMaxCircuitWaits = 3

// ResolverConfig holds configuration for the image list resolver.
type ResolverConfig struct {
	Platform Platform
	Logger   zerolog.Logger
	RunID    string

	// CircuitWait is how long to wait before querying a POI again when the
	// search client's circuit breaker is open.
	// Default: the circuit breaker timeout
	CircuitWait time.Duration

	// MaxCircuitWaits bounds the consecutive waits for one POI.
	// Default: DefaultMaxCircuitWaits
	MaxCircuitWaits int
}

// Resolver drives a platform over every POI of a dataset.
type Resolver struct {
	platform Platform
	logger   zerolog.Logger

	circuitWait     time.Duration
	maxCircuitWaits int

	tracer  trace.Tracer
	queries metric.Int64Counter
}

// ResolveSummary reports the outcome of a resolution pass.
type ResolveSummary struct {
	Total    int
	Resolved int
	Failed   int
	Images   int
	Duration time.Duration
}

// NewResolver creates a new resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger.With().Str("platform", cfg.Platform.Name()).Logger()
	if cfg.RunID != "" {
		logger = logger.With().Str("run_id", cfg.RunID).Logger()
	}

	queries, err := telemetry.Meter(instrumentationName).Int64Counter(
		"getoc.search.queries",
		metric.WithDescription("Number of per-POI searches by outcome"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create search counter")
	}

	circuitWait := cfg.CircuitWait
	if circuitWait <= 0 {
		circuitWait = resilience.DefaultCircuitBreakerConfig("").Timeout
	}
	maxWaits := cfg.MaxCircuitWaits
	if maxWaits <= 0 {
		maxWaits = DefaultMaxCircuitWaits
	}

	return &Resolver{
		platform:        cfg.Platform,
		logger:          logger,
		circuitWait:     circuitWait,
		maxCircuitWaits: maxWaits,
		tracer:          telemetry.Tracer(instrumentationName),
		queries:         queries,
	}
}

// Resolve populates the images of every POI in place, one POI at a time.
// A failed search leaves the POI with an empty list; invalid credentials,
// configuration errors, a backend whose breaker stays open and cancellation
// abort the pass.
func (r *Resolver) Resolve(ctx context.Context, pois []*poi.POI, q Query) (*ResolveSummary, error) {
	start := time.Now()
	q = q.WithDefaults()

	if err := r.platform.Validate(q); err != nil {
		return nil, fmt.Errorf("validate query: %w", err)
	}

	ctx, span := r.tracer.Start(ctx, "platform.Resolve", trace.WithAttributes(
		attribute.String("platform", r.platform.Name()),
		attribute.String("instrument", q.Instrument),
		attribute.String("level", q.Level),
		attribute.Int("pois", len(pois)),
	))
	defer span.End()

	summary := &ResolveSummary{Total: len(pois)}
	for i, p := range pois {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return summary, err
		}

		r.logger.Info().
			Int("index", i+1).
			Int("total", len(pois)).
			Str("poi", p.ID).
			Str("instrument", q.Instrument).
			Str("level", q.Level).
			Str("product", q.Product).
			Time("timestamp", p.Timestamp).
			Float64("lat", p.Latitude).
			Float64("lon", p.Longitude).
			Msg("querying")

		images, err := r.search(ctx, p, q)
		if err != nil {
			if ctx.Err() != nil || isFatal(err) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return summary, err
			}
			r.logger.Error().Err(err).Str("poi", p.ID).Msg("search failed")
			r.count(ctx, "failed")
			summary.Failed++
			p.Images = nil
			continue
		}

		p.Images = images
		if len(images) > 0 {
			summary.Resolved++
		}
		summary.Images += len(images)
		r.count(ctx, "ok")

		r.logger.Debug().Str("poi", p.ID).Int("images", len(images)).Msg("query completed")
	}

	summary.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("resolved", summary.Resolved),
		attribute.Int("failed", summary.Failed),
	)

	r.logger.Info().
		Int("total", summary.Total).
		Int("resolved", summary.Resolved).
		Int("failed", summary.Failed).
		Int("images", summary.Images).
		Dur("duration", summary.Duration).
		Msg("image lists resolved")

	return summary, nil
}

// Finalize flattens the resolved lists into the download list: platform
// reconciliation first, then deduplication by image name.
func (r *Resolver) Finalize(pois []*poi.POI) []poi.Image {
	images := poi.Flatten(pois)
	if rec, ok := r.platform.(Reconciler); ok {
		images = rec.Reconcile(images)
	}
	images = Dedup(images)

	r.logger.Info().Int("images", len(images)).Msg("download list ready")
	return images
}

// search queries one POI. An open circuit breaker rejects the query before it
// is sent, so the same POI is queried again once the breaker can half-open.
func (r *Resolver) search(ctx context.Context, p *poi.POI, q Query) ([]poi.Image, error) {
	for waits := 0; ; waits++ {
		images, err := r.platform.Search(ctx, p, q)
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			return images, err
		}
		if waits == r.maxCircuitWaits {
			return nil, fmt.Errorf("search %s after %d waits: %w", p.ID, waits, err)
		}

		r.logger.Warn().Str("poi", p.ID).Dur("wait", r.circuitWait).Msg("circuit breaker open, waiting")
		timer := time.NewTimer(r.circuitWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Resolver) count(ctx context.Context, outcome string) {
	if r.queries == nil {
		return
	}
	r.queries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", r.platform.Name()),
		attribute.String("outcome", outcome),
	))
}

func isFatal(err error) bool {
	return errors.Is(err, auth.ErrInvalidCredentials) ||
		errors.Is(err, resilience.ErrCircuitOpen) ||
		errors.Is(err, ErrUnsupportedInstrument) ||
		errors.Is(err, ErrUnsupportedLevel) ||
		errors.Is(err, ErrUnsupportedProduct)
}
