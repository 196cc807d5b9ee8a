// Package api serves the read-only HTTP surface: document lookups by
// product code and the health endpoint. Writes only ever happen through the
// ingestion pipeline.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	docstorepkg "github.com/drblury/catalogflow/internal/docstore"
	ingestpkg "github.com/drblury/catalogflow/internal/ingest"
	jsoncodec "github.com/drblury/catalogflow/internal/jsoncodec"
	logging "github.com/drblury/catalogflow/internal/logging"
	schemapkg "github.com/drblury/catalogflow/internal/schema"
)

const defaultListLimit = 100

// HealthReporter is the slice of the consumer manager the API needs.
type HealthReporter interface {
	Health() map[string]ingestpkg.QueueHealth
	Healthy() bool
}

// Handler serves the read API over the document store.
type Handler struct {
	store    docstorepkg.Store
	registry *schemapkg.Registry
	health   HealthReporter
	logger   logging.ServiceLogger
}

// NewHandler builds the read API handler. health may be nil when the API
// runs without consumers.
func NewHandler(store docstorepkg.Store, registry *schemapkg.Registry, health HealthReporter, logger logging.ServiceLogger) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
		health:   health,
		logger:   logger.With(logging.LogFields{"component": "api"}),
	}
}

// Router mounts all routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.GetHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/{collection}", h.ListDocuments)
		r.Get("/{collection}/{productCode}", h.GetDocument)
	})
	return r
}

type healthResponse struct {
	Status string                           `json:"status"`
	Store  string                           `json:"store"`
	Queues map[string]ingestpkg.QueueHealth `json:"queues,omitempty"`
}

// GetHealth reports consumer liveness and store reachability. Degraded
// state returns 503 so orchestrators restart the service.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("store ping failed", err, nil)
		resp.Store = "unreachable"
		healthy = false
	}
	if h.health != nil {
		resp.Queues = h.health.Health()
		if !h.health.Healthy() {
			healthy = false
		}
	}
	if !healthy {
		resp.Status = "degraded"
		h.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetDocument returns the current document for one product code.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	productCode := chi.URLParam(r, "productCode")

	if !h.registry.Has(collection) {
		h.writeError(w, http.StatusNotFound, "unknown collection")
		return
	}

	doc, err := h.store.Get(r.Context(), docstorepkg.Key{Collection: collection, ProductCode: productCode})
	if err != nil {
		switch {
		case errors.Is(err, docstorepkg.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, docstorepkg.ErrInvalidKey):
			h.writeError(w, http.StatusBadRequest, "invalid product code")
		default:
			h.logger.Error("document lookup failed", err, logging.LogFields{
				"collection":   collection,
				"product_code": productCode,
			})
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// ListDocuments returns documents in a collection, product-code ordered.
// The limit query parameter caps the page size.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !h.registry.Has(collection) {
		h.writeError(w, http.StatusNotFound, "unknown collection")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	docs, err := h.store.List(r.Context(), collection, limit)
	if err != nil {
		h.logger.Error("document list failed", err, logging.LogFields{"collection": collection})
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"collection": collection,
		"count":      len(docs),
		"documents":  docs,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, body); err != nil {
		h.logger.Error("response encoding failed", err, nil)
	}
}
