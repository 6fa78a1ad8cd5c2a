// Package v1 provides the Governance API: pattern and attribute management for the
// UI and the pipeline-signal callback for the build system.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-pattern-catalog/internal/api/common"
	"github.com/stacklok/toolhive-pattern-catalog/internal/catalog"
	"github.com/stacklok/toolhive-pattern-catalog/internal/ledger"
	"github.com/stacklok/toolhive-pattern-catalog/internal/registry"
	"github.com/stacklok/toolhive-pattern-catalog/internal/service"
	"github.com/stacklok/toolhive-pattern-catalog/internal/status"
)

const (
	maxBodySize = 1 << 20
	// DefaultMaxSkew is how far a signed callback timestamp may be from server time
	DefaultMaxSkew = 5 * time.Minute
	// DefaultMaxWait bounds the wait parameter of DELETE
	DefaultMaxWait = 30 * time.Minute
)

// Pipeline is the part of the orchestrator the API talks to
type Pipeline interface {
	HandleSignal(ctx context.Context, signal service.Signal) (bool, error)
	Run(patternID uuid.UUID) (*service.PipelineRun, bool)
}

// Option configures the routes
type Option func(*Routes)

// WithSignalSecret requires pipeline signals to be signed with the secret
func WithSignalSecret(secret string, maxSkew time.Duration) Option {
	return func(rr *Routes) {
		rr.signalSecret = []byte(secret)
		if maxSkew > 0 {
			rr.maxSkew = maxSkew
		}
	}
}

// WithClock sets the clock used to check signature timestamps
func WithClock(c clock.PassiveClock) Option {
	return func(rr *Routes) {
		rr.clock = c
	}
}

// WithMaxWait bounds how long DELETE may wait for teardown
func WithMaxWait(d time.Duration) Option {
	return func(rr *Routes) {
		if d > 0 {
			rr.maxWait = d
		}
	}
}

// Routes handles the v1 endpoints
type Routes struct {
	catalog  *catalog.Catalog
	registry *registry.Registry
	pipeline Pipeline
	clock    clock.PassiveClock

	signalSecret []byte
	maxSkew      time.Duration
	maxWait      time.Duration
}

// NewRoutes creates the v1 routes
func NewRoutes(cat *catalog.Catalog, reg *registry.Registry, pipeline Pipeline, opts ...Option) *Routes {
	rr := &Routes{
		catalog:  cat,
		registry: reg,
		pipeline: pipeline,
		clock:    clock.RealClock{},
		maxSkew:  DefaultMaxSkew,
		maxWait:  DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr
}

// Router creates the HTTP router for the v1 endpoints
func Router(cat *catalog.Catalog, reg *registry.Registry, pipeline Pipeline, opts ...Option) http.Handler {
	routes := NewRoutes(cat, reg, pipeline, opts...)

	r := chi.NewRouter()
	r.Route("/patterns", func(r chi.Router) {
		r.Get("/", routes.listPatterns)
		r.Post("/", routes.createPattern)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", routes.getPattern)
			r.Put("/", routes.updatePattern)
			r.Delete("/", routes.deletePattern)
			r.Post("/pipeline-signal", routes.pipelineSignal)
			r.Get("/packages", routes.listPackages)
			r.Get("/run", routes.getRun)
		})
	})
	r.Route("/attributes", func(r chi.Router) {
		r.Get("/", routes.listAttributes)
		r.Post("/", routes.defineAttribute)
		r.Delete("/", routes.removeAttribute)
	})
	return r
}

// createPattern handles POST /v1/patterns
//
// @Summary		Create pattern
// @Description	Register a pattern and start provisioning its repository and pipeline
// @Tags		patterns
// @Accept		json
// @Produce		json
// @Param		pattern	body		CreatePatternRequest	true	"Pattern"
// @Success		201		{object}	service.Pattern
// @Failure		400		{object}	common.ErrorResponse	"Invalid attribute or input"
// @Failure		409		{object}	common.ErrorResponse	"Duplicate name"
// @Router		/v1/patterns [post]
func (rr *Routes) createPattern(w http.ResponseWriter, r *http.Request) {
	var req CreatePatternRequest
	if err := decodeJSON(w, r, &req); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	p, err := rr.catalog.Create(r.Context(), catalog.CreateRequest{
		Name:        req.Name,
		Type:        service.PatternType(req.Type),
		Description: req.Description,
		Attributes:  req.Attributes,
	})
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, p, http.StatusCreated)
}

// listPatterns handles GET /v1/patterns
//
// @Summary		List patterns
// @Description	List patterns ordered by name. Attribute filters are combined with AND.
// @Tags		patterns
// @Produce		json
// @Param		attribute	query	string	false	"key:value, repeatable"
// @Param		name		query	string	false	"Case-insensitive name substring"
// @Param		status		query	string	false	"Pattern status"
// @Success		200	{object}	PatternListResponse
// @Failure		400	{object}	common.ErrorResponse
// @Router		/v1/patterns [get]
func (rr *Routes) listPatterns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var opts []service.Option[service.ListPatternsOptions]
	for _, raw := range query["attribute"] {
		ref, err := service.ParseAttributeRef(raw)
		if err == nil {
			ref, err = registry.Normalize(ref.Key, ref.Value)
		}
		if err != nil {
			common.WriteServiceError(w, r, err)
			return
		}
		opts = append(opts, service.WithAttribute(ref))
	}
	if name := query.Get("name"); name != "" {
		opts = append(opts, service.WithNameContains(name))
	}
	if raw := query.Get("status"); raw != "" {
		st, err := status.ParseStatus(raw)
		if err != nil {
			common.WriteServiceError(w, r, fmt.Errorf("%w: %w", service.ErrInvalidInput, err))
			return
		}
		opts = append(opts, service.WithStatus(st))
	}

	patterns, err := rr.catalog.List(r.Context(), opts...)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	if patterns == nil {
		patterns = []*service.Pattern{}
	}
	common.WriteJSONResponse(w, PatternListResponse{Patterns: patterns, Count: len(patterns)}, http.StatusOK)
}

// getPattern handles GET /v1/patterns/{id}
func (rr *Routes) getPattern(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetIDParam(r, "id")
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	p, err := rr.catalog.Get(r.Context(), id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, p, http.StatusOK)
}

// updatePattern handles PUT /v1/patterns/{id}
//
// @Summary		Update pattern
// @Description	Change the description and/or attributes of a Ready or Failed pattern
// @Tags		patterns
// @Accept		json
// @Produce		json
// @Param		id		path		string					true	"Pattern ID"
// @Param		pattern	body		UpdatePatternRequest	true	"Changes"
// @Success		200		{object}	service.Pattern
// @Failure		400		{object}	common.ErrorResponse
// @Failure		404		{object}	common.ErrorResponse
// @Failure		409		{object}	common.ErrorResponse	"Pattern is not Ready or Failed"
// @Router		/v1/patterns/{id} [put]
func (rr *Routes) updatePattern(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetIDParam(r, "id")
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	var req UpdatePatternRequest
	if err := decodeJSON(w, r, &req); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	p, err := rr.catalog.Update(r.Context(), id, catalog.UpdateRequest{
		Description: req.Description,
		Attributes:  req.Attributes,
	})
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, p, http.StatusOK)
}

// deletePattern handles DELETE /v1/patterns/{id}
//
// @Summary		Delete pattern
// @Description	Request teardown. With wait, block until teardown ends or the wait expires.
// @Tags		patterns
// @Produce		json
// @Param		id		path		string	true	"Pattern ID"
// @Param		wait	query		string	false	"Go duration, e.g. 30s; capped at the configured maximum"
// @Success		200		{object}	service.Pattern	"Deleted"
// @Success		202		{object}	service.Pattern	"Teardown in progress"
// @Failure		404		{object}	common.ErrorResponse
// @Failure		409		{object}	common.ErrorResponse	"Already deleting or teardown failed"
// @Router		/v1/patterns/{id} [delete]
func (rr *Routes) deletePattern(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetIDParam(r, "id")
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err = time.ParseDuration(raw)
		if err != nil || wait <= 0 {
			common.WriteServiceError(w, r, fmt.Errorf("%w: wait must be a positive duration, got %q",
				service.ErrInvalidInput, raw))
			return
		}
		if wait > rr.maxWait {
			// The connection cannot outlive the server write timeout; teardown itself is unbounded
			slog.DebugContext(r.Context(), "Capping delete wait", "requested", wait, "max", rr.maxWait)
			wait = rr.maxWait
		}
	}

	p, err := rr.catalog.Delete(r.Context(), id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	if wait == 0 {
		common.WriteJSONResponse(w, p, http.StatusAccepted)
		return
	}

	final, err := rr.catalog.Await(r.Context(), id, wait, status.StatusDeleted, status.StatusFailed)
	switch {
	case errors.Is(err, service.ErrTimeout):
		common.WriteJSONResponse(w, final, http.StatusAccepted)
	case errors.Is(err, service.ErrNotFound):
		// Purged before the wait started
		p.Status = status.StatusDeleted
		common.WriteJSONResponse(w, p, http.StatusOK)
	case err != nil:
		common.WriteServiceError(w, r, err)
	case final.Status == status.StatusFailed:
		common.WriteErrorResponse(w, final.StatusReason, common.CodeExternalFailure, http.StatusConflict)
	default:
		common.WriteJSONResponse(w, final, http.StatusOK)
	}
}

// pipelineSignal handles POST /v1/patterns/{id}/pipeline-signal
//
// @Summary		Pipeline signal
// @Description	Callback of the build system. Stale and duplicate signals are accepted and ignored.
// @Tags		pipeline
// @Accept		json
// @Produce		json
// @Param		id		path		string			true	"Pattern ID"
// @Param		signal	body		SignalRequest	true	"Signal"
// @Success		202		{object}	SignalResponse
// @Failure		400		{object}	common.ErrorResponse
// @Failure		401		{object}	common.ErrorResponse	"Bad signature"
// @Router		/v1/patterns/{id}/pipeline-signal [post]
func (rr *Routes) pipelineSignal(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetIDParam(r, "id")
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		common.WriteServiceError(w, r, fmt.Errorf("%w: failed to read body: %w", service.ErrInvalidInput, err))
		return
	}
	if len(rr.signalSecret) > 0 {
		err := verifySignature(rr.signalSecret, rr.maxSkew, rr.clock.Now(),
			r.Header.Get(SignatureTimestampHeader), r.Header.Get(SignatureHeader), body)
		if err != nil {
			slog.WarnContext(r.Context(), "Rejected pipeline signal",
				"pattern_id", id,
				"error", err,
				"request_id", middleware.GetReqID(r.Context()))
			common.WriteErrorResponse(w, err.Error(), common.CodeUnauthorized, http.StatusUnauthorized)
			return
		}
	}

	var req SignalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		common.WriteServiceError(w, r, fmt.Errorf("%w: malformed signal: %w", service.ErrInvalidInput, err))
		return
	}
	sig, err := req.toSignal(id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}

	applied, err := rr.pipeline.HandleSignal(r.Context(), sig)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, SignalResponse{Applied: applied}, http.StatusAccepted)
}

func (req *SignalRequest) toSignal(patternID uuid.UUID) (service.Signal, error) {
	stage, err := status.ParseStage(req.Stage)
	if err != nil {
		return service.Signal{}, fmt.Errorf("%w: %w", service.ErrInvalidInput, err)
	}
	st, err := status.ParseSignalStatus(req.Status)
	if err != nil {
		return service.Signal{}, fmt.Errorf("%w: %w", service.ErrInvalidInput, err)
	}
	return service.Signal{
		PatternID:     patternID,
		RunID:         req.RunID,
		Stage:         stage,
		Status:        st,
		Packages:      req.Packages,
		Reason:        req.Reason,
		RepositoryRef: req.RepositoryRef,
		SignalTime:    req.SignalTime,
	}, nil
}

// listPackages handles GET /v1/patterns/{id}/packages
//
// @Summary		List packages
// @Description	Packages in recording order, with the newest version of each name
// @Tags		patterns
// @Produce		json
// @Param		id	path		string	true	"Pattern ID"
// @Success		200	{object}	PackageListResponse
// @Failure		404	{object}	common.ErrorResponse
// @Router		/v1/patterns/{id}/packages [get]
func (rr *Routes) listPackages(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetIDParam(r, "id")
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	if _, err := rr.catalog.Get(r.Context(), id); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	packages, err := rr.catalog.Packages(r.Context(), id)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	if packages == nil {
		packages = []service.Package{}
	}
	common.WriteJSONResponse(w, PackageListResponse{
		Packages: packages,
		Latest:   ledger.LatestVersions(packages),
	}, http.StatusOK)
}

// getRun handles GET /v1/patterns/{id}/run; it returns the active run, or the last finished one
func (rr *Routes) getRun(w http.ResponseWriter, r *http.Request) {
	id, err := common.GetIDParam(r, "id")
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	run, ok := rr.pipeline.Run(id)
	if !ok {
		common.WriteServiceError(w, r, fmt.Errorf("%w: pattern %s has no pipeline run", service.ErrNotFound, id))
		return
	}
	common.WriteJSONResponse(w, run, http.StatusOK)
}

// defineAttribute handles POST /v1/attributes
func (rr *Routes) defineAttribute(w http.ResponseWriter, r *http.Request) {
	var req DefineAttributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	attr, err := rr.registry.Define(r.Context(), req.Key, req.Value, req.Description)
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	common.WriteJSONResponse(w, attr, http.StatusCreated)
}

// removeAttribute handles DELETE /v1/attributes?key=&value=, also accepting the pair as a JSON body
func (rr *Routes) removeAttribute(w http.ResponseWriter, r *http.Request) {
	ref := service.AttributeRef{Key: r.URL.Query().Get("key"), Value: r.URL.Query().Get("value")}
	if ref.Key == "" && ref.Value == "" && r.ContentLength != 0 {
		if err := decodeJSON(w, r, &ref); err != nil {
			common.WriteServiceError(w, r, err)
			return
		}
	}

	if err := rr.registry.Remove(r.Context(), ref.Key, ref.Value); err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listAttributes handles GET /v1/attributes
func (rr *Routes) listAttributes(w http.ResponseWriter, r *http.Request) {
	attrs, err := rr.registry.List(r.Context())
	if err != nil {
		common.WriteServiceError(w, r, err)
		return
	}
	if attrs == nil {
		attrs = []*service.Attribute{}
	}
	common.WriteJSONResponse(w, AttributeListResponse{Attributes: attrs}, http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", service.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed request body: %s", service.ErrInvalidInput, strings.TrimPrefix(err.Error(), "json: "))
	}
	return nil
}
