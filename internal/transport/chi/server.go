package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/domain/geo"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/request"
	"github.com/kailas-cloud/venuesearch/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/venuesearch/internal/logger"
	"github.com/kailas-cloud/venuesearch/internal/repository/queue"
	"github.com/kailas-cloud/venuesearch/internal/usecase/extraction"
	healthuc "github.com/kailas-cloud/venuesearch/internal/usecase/health"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
	// retryAfterSec is advertised when the index is unreachable.
	retryAfterSec = "5"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeBadRequest       = "bad_request"
	codeInvalidQuery     = "invalid_query"
	codeReviewNotFound   = "review_not_found"
	codeVenueNotFound    = "venue_not_found"
	codeIndexUnavailable = "index_unavailable"
	codeUnauthorized     = "unauthorized"
	codeInternal         = "internal_error"
)

// Searcher is the search entry point.
type Searcher interface {
	Search(ctx context.Context, text string, location *geo.Point, o request.Overrides, limit int) (result.Set, error)
}

// Pipeline is the extraction pipeline entry point.
type Pipeline interface {
	OnReviewSubmitted(ctx context.Context, reviewID string) error
	DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the HTTP API.
type Server struct {
	search        Searcher
	pipeline      Pipeline
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, pipeline Pipeline, health HealthChecker, logger *zap.Logger) *Server {
	s := &Server{
		search:   search,
		pipeline: pipeline,
		health:   health,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		validationHandler(domain.ErrInvalidQuery, codeInvalidQuery),
		sentinelHandler(domain.ErrReviewNotFound, http.StatusNotFound, codeReviewNotFound),
		sentinelHandler(domain.ErrVenueNotFound, http.StatusNotFound, codeVenueNotFound),
		indexUnavailableHandler,
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/search", s.Search)
		r.Post("/reviews/{id}/submitted", s.ReviewSubmitted)
		r.Get("/pipeline/dead-letters", s.DeadLetters)
	})
}

// searchParams are the query parameters of GET /v1/search.
type searchParams struct {
	Q        string
	Lat      *float64
	Lon      *float64
	PriceMax *int
	Cuisines *[]string
	RadiusM  *float64
	Limit    *int
}

func bindSearchParams(r *http.Request) (searchParams, error) {
	var p searchParams
	q := r.URL.Query()
	binds := []struct {
		name     string
		explode  bool
		required bool
		dest     any
	}{
		{"q", true, true, &p.Q},
		{"lat", true, false, &p.Lat},
		{"lon", true, false, &p.Lon},
		{"price_max", true, false, &p.PriceMax},
		{"cuisines", false, false, &p.Cuisines},
		{"radius_m", true, false, &p.RadiusM},
		{"limit", true, false, &p.Limit},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", b.explode, b.required, b.name, q, b.dest); err != nil {
			return searchParams{}, fmt.Errorf("parameter %s: %w", b.name, err)
		}
	}
	if (p.Lat == nil) != (p.Lon == nil) {
		return searchParams{}, errors.New("lat and lon must be given together")
	}
	return p, nil
}

// Search handles GET /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	p, err := bindSearchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	var loc *geo.Point
	if p.Lat != nil {
		loc = &geo.Point{Lat: *p.Lat, Lon: *p.Lon}
	}
	var o request.Overrides
	if p.PriceMax != nil {
		o.PriceMax = *p.PriceMax
	}
	if p.Cuisines != nil {
		o.Cuisines = *p.Cuisines
	}
	if p.RadiusM != nil {
		o.RadiusMeters = *p.RadiusM
	}
	limit := 0
	if p.Limit != nil {
		limit = *p.Limit
	}

	set, err := s.search.Search(r.Context(), p.Q, loc, o, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// ReviewSubmitted handles POST /v1/reviews/{id}/submitted.
func (s *Server) ReviewSubmitted(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "review id is required")
		return
	}
	if err := s.pipeline.OnReviewSubmitted(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"review_id": id, "status": "queued"})
}

// DeadLetters handles GET /v1/pipeline/dead-letters.
func (s *Server) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxDeadLetterLimit {
			writeError(w, http.StatusBadRequest, codeBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxDeadLetterLimit))
			return
		}
		limit = n
	}
	items, err := s.pipeline.DeadLetters(r.Context(), int64(limit))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type healthResponse struct {
	Status   healthuc.Status                 `json:"status"`
	Checks   map[string]healthuc.CheckResult `json:"checks"`
	Pipeline *extraction.Liveness            `json:"pipeline,omitempty"`
}

// HealthCheck handles GET /health. Only an unreachable index fails the
// probe; degraded components are reported with 200.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	resp := healthResponse{Status: report.Status, Checks: report.Checks, Pipeline: report.Pipeline}
	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// validationHandler answers 400 with the validation detail, which never
// carries internals.
func validationHandler(sentinel error, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, http.StatusBadRequest, code, err.Error())
		return true
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// indexUnavailableHandler marks storage loss as retryable.
func indexUnavailableHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		return false
	}
	w.Header().Set("Retry-After", retryAfterSec)
	writeError(w, http.StatusServiceUnavailable, codeIndexUnavailable, domain.ErrIndexUnavailable.Error())
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.Or(r.Context(), s.logger)
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
