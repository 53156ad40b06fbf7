// Package handler implements the HTTP handlers of the resolve API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/api/models"
	"github.com/OceanOptics/getOC/internal/api/response"
	"github.com/OceanOptics/getOC/internal/auth"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/poi"
)

const maxBodyBytes = 1 << 20

// ImageListConfig holds the dependencies of the image list handler.
type ImageListConfig struct {
	Platforms *platform.Registry
	Logger    zerolog.Logger

	// Timeout bounds one resolution; zero means the request context only.
	Timeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// ImageListHandler resolves POIs into image lists without downloading.
type ImageListHandler struct {
	platforms *platform.Registry
	logger    zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewImageListHandler creates a new ImageListHandler.
func NewImageListHandler(cfg ImageListConfig) *ImageListHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ImageListHandler{
		platforms: cfg.Platforms,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
		now:       now,
	}
}

// Create handles POST /v1/image-lists.
func (h *ImageListHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req models.ImageListRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		response.Validation(w, r, fmt.Sprintf("request body is not valid: %v", err), nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.Validation(w, r, "invalid image list request", errs)
		return
	}

	pois := req.Dataset()
	q := req.Query()

	kind, err := h.choose(req.Platform, pois, q)
	if err != nil {
		response.Validation(w, r, err.Error(), []models.FieldError{
			{Field: "instrument", Code: models.CodeUnsupported, Message: err.Error()},
		})
		return
	}

	p, err := h.platforms.New(kind)
	if err != nil {
		h.logger.Error().Err(err).Str("platform", string(kind)).Msg("failed to create platform")
		response.Upstream(w, r, fmt.Sprintf("platform %s is not available", kind))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	resolver := platform.NewResolver(platform.ResolverConfig{Platform: p, Logger: h.logger, RunID: runID})

	summary, err := resolver.Resolve(ctx, pois, q)
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.ImageListResponse{
		RunID:    runID,
		Platform: p.Name(),
		Resolved: summary.Resolved,
		Failed:   summary.Failed,
		POIs:     models.NewPOIResults(pois),
		Images:   resolver.Finalize(pois),
	})
}

func (h *ImageListHandler) choose(requested string, pois []*poi.POI, q platform.Query) (platform.Kind, error) {
	if requested != "" {
		return platform.ParseKind(requested)
	}
	return platform.Select(h.now(), poi.MostRecent(pois), q.Instrument, q.Level)
}

func (h *ImageListHandler) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, platform.ErrUnsupportedInstrument),
		errors.Is(err, platform.ErrUnsupportedLevel),
		errors.Is(err, platform.ErrUnsupportedProduct):
		response.Validation(w, r, err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		response.Upstream(w, r, "the data platform rejected the configured credentials")
	case errors.Is(err, context.DeadlineExceeded):
		response.Upstream(w, r, "resolution timed out")
	default:
		h.logger.Error().Err(err).Msg("resolution failed")
		response.InternalError(w, r, "resolution failed")
	}
}
