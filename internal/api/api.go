// Package api exposes the bulk-import service over HTTP for the review UI.
// Callers are authenticated upstream; the gateway forwards the tenant and
// user in the X-Organization-ID and X-User-ID headers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/importer"
	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

// Header names carrying the caller identity.
const (
	HeaderOrganization = "X-Organization-ID"
	HeaderUser         = "X-User-ID"
)

// Service is the importer surface the API serves.
type Service interface {
	CreateRun(ctx context.Context, in importer.CreateRunInput) (*model.ImportRun, error)
	GetRun(ctx context.Context, orgID, runID string) (*model.ImportRun, error)
	ListRuns(ctx context.Context, orgID string, filter model.RunFilter) ([]model.ImportRun, error)
	GetItem(ctx context.Context, orgID, runID, itemID string) (*model.ImportItem, error)
	ListItems(ctx context.Context, orgID, runID string, filter model.ItemFilter) ([]model.ImportItem, error)
	UpdateItemDecision(ctx context.Context, orgID, runID, itemID string, d importer.Decision) (*model.ImportItem, error)
	BulkUpdateItems(ctx context.Context, orgID, runID string, d importer.BulkDecision) (model.RunCounters, error)
	RefreshRunCounters(ctx context.Context, orgID, runID string) (model.RunCounters, error)
	FinalizeRun(ctx context.Context, orgID, runID, userID string) (*model.FinalizeSummary, error)
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// MaxUploadBytes bounds the multipart body of run uploads.
	MaxUploadBytes int64
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
}

type handler struct {
	svc  Service
	opts Options
}

// NewRouter builds the HTTP handler.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	h := &handler{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", HeaderOrganization, HeaderUser},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1/bulk-imports", func(r chi.Router) {
		r.Use(requireOrganization)
		r.Post("/runs", h.createRun)
		r.Get("/runs", h.listRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", h.getRun)
			r.Post("/finalize", h.finalizeRun)
			r.Post("/counters", h.refreshCounters)
			r.Get("/items", h.listItems)
			r.Post("/items/bulk", h.bulkDecision)
			r.Get("/items/{itemID}", h.getItem)
			r.Patch("/items/{itemID}", h.itemDecision)
		})
	})
	return r
}

type ctxKey int

const (
	orgKey ctxKey = iota
	userKey
)

func requireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := r.Header.Get(HeaderOrganization)
		if org == "" {
			writeError(w, http.StatusUnauthorized, "missing_organization", HeaderOrganization+" header is required")
			return
		}
		ctx := context.WithValue(r.Context(), orgKey, org)
		ctx = context.WithValue(ctx, userKey, r.Header.Get(HeaderUser))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func orgID(r *http.Request) string {
	s, _ := r.Context().Value(orgKey).(string)
	return s
}

func userID(r *http.Request) string {
	s, _ := r.Context().Value(userKey).(string)
	return s
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	writeJSON(w, status, body)
}

// writeServiceError maps importer error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *importer.Error
	switch {
	case errors.As(err, &ie):
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, importer.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, importer.ErrConflict):
			status = http.StatusConflict
		case errors.Is(err, importer.ErrValidation):
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, ie.Code, ie.Msg)
	default:
		zap.L().Error("api: request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return false
	}
	return true
}
