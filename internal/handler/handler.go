package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/catalog"
	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/handler/dto"
	"github.com/mtlprog/pointledger/internal/middleware"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/mtlprog/pointledger/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeout bounds every request, including the row locks a
// confirmation may wait on.
const requestTimeout = 30 * time.Second

// CatalogLoader returns the reference table used by POST /catalog/sync.
type CatalogLoader func() ([]catalog.Item, error)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pool                  *pgxpool.Pool
	catalogService        *service.CatalogService
	ledgerService         *service.LedgerService
	reconciliationService *service.ReconciliationService
	reportService         *service.ReportService
	validator             *service.Validator
	actorMiddleware       *middleware.ActorMiddleware
	validate              *validator.Validate
	loadCatalog           CatalogLoader
	clock                 service.Clock
}

// New creates a new Handler instance with all dependencies.
func New(pool *pgxpool.Pool, loadCatalog CatalogLoader) *Handler {
	if loadCatalog == nil {
		loadCatalog = catalog.Default
	}

	// Create repositories
	personRepo := repository.NewPersonRepository(pool)
	taskRepo := repository.NewTaskRepository(pool)
	ledgerRepo := repository.NewLedgerRepository(pool)
	quotaRepo := repository.NewQuotaPeriodRepository(pool)
	usageRepo := repository.NewUsageLinkRepository(pool)

	return &Handler{
		pool:                  pool,
		catalogService:        service.NewCatalogService(pool, taskRepo, personRepo),
		ledgerService:         service.NewLedgerService(pool, taskRepo, ledgerRepo, usageRepo, personRepo),
		reconciliationService: service.NewReconciliationService(pool, ledgerRepo, quotaRepo, usageRepo, personRepo),
		reportService:         service.NewReportService(ledgerRepo, quotaRepo, usageRepo, taskRepo, personRepo),
		validator:             service.NewValidator(personRepo),
		actorMiddleware:       middleware.NewActorMiddleware(personRepo),
		validate:              validator.New(validator.WithRequiredStructEnabled()),
		loadCatalog:           loadCatalog,
		clock:                 service.SystemClock,
	}
}

// WithClock pins "today" for every service behind the handler.
func (h *Handler) WithClock(c service.Clock) *Handler {
	h.clock = c
	h.ledgerService.WithClock(c)
	h.reconciliationService.WithClock(c)
	return h
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	// Health check
	r.Get("/healthz", h.handleHealthz)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes with caller identity
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.actorMiddleware.Resolve)

		r.Get("/tasks", h.handleListTasks)
		r.Post("/catalog/sync", h.handleSyncCatalog)
		r.Post("/settlement", h.handleComputeSettlement)
		r.Get("/people", h.handleListPeople)

		r.Route("/people/{id}", func(r chi.Router) {
			r.Post("/entries", h.handleAccrue)
			r.Get("/entries", h.handleListEntries)
			r.Get("/expiring", h.handleExpiringSoon)
			r.Get("/overview", h.handleOverview)

			r.Route("/months/{month}", func(r chi.Router) {
				r.Get("/available", h.handleListAvailable)
				r.Post("/confirm", h.handleConfirm)
				r.Get("/balance", h.handleBalance)
				r.Get("/settlement", h.handleMonthlySettlement)
				r.Get("/usage", h.handleUsageStatement)
			})
		})

		r.Patch("/entries/{id}", h.handleUpdateEntry)
		r.Delete("/entries/{id}", h.handleDeleteEntry)
	})
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.pool.Ping(ctx); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps a service error and writes it, with details when
// the error carries them.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	resp := dto.NewErrorResponse(code, message)
	resp.Error.Details = dto.ErrorDetails(err)
	respondJSON(w, status, resp)
}

// decodeAndValidate reads a JSON body into req and runs struct validation.
// Returns false if the request was rejected (error already sent to client).
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// actorFrom extracts the resolved actor.
// Returns (actor, true) if present, (zero, false) otherwise (error already sent to client).
func actorFrom(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNKNOWN_ACTOR", "Caller identity required")
		return domain.Actor{}, false
	}
	return actor, true
}

// extractID extracts and validates a UUID path parameter.
// Returns (id, true) if valid, ("", false) if invalid (error already sent to client).
func extractID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" id is required")
		return "", false
	}

	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+"_id must be a valid UUID")
		return "", false
	}

	return id, true
}

// extractMonth parses the {month} path parameter.
func extractMonth(w http.ResponseWriter, r *http.Request) (domain.YearMonth, bool) {
	month, err := domain.ParseYearMonth(chi.URLParam(r, "month"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "month must be YYYY-MM")
		return domain.YearMonth{}, false
	}
	return month, true
}
