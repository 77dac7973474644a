package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/handler/dto"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/mtlprog/pointledger/internal/service"
)

// handleAccrue records points for a performed task.
// @Summary Accrue points
// @Description Creates one ledger entry per unit. (person, task, process) may be accrued only once.
// @Tags entries
// @Accept json
// @Produce json
// @Param id path string true "Person ID"
// @Param request body dto.AccrueRequest true "Accrual request"
// @Success 201 {object} dto.AccrueResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /people/{id}/entries [post]
func (h *Handler) handleAccrue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	personID, ok := extractID(w, r, "person")
	if !ok {
		return
	}

	var req dto.AccrueRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	executed, err := time.Parse(domain.DateLayout, req.ExecutionDate)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "execution_date must be YYYY-MM-DD")
		return
	}

	accrual, err := h.ledgerService.Accrue(ctx, actor, service.AccrueParams{
		PersonID:          personID,
		TaskCode:          strings.TrimSpace(req.TaskCode),
		ExecutionDate:     executed,
		ExternalProcessID: req.ExternalProcessID,
		Quantity:          req.Quantity,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.AccrueResponse{
		Created:     accrual.Created,
		PointValue:  accrual.PointValue,
		TotalPoints: accrual.Total,
		Entries:     dto.NewEntryResponses(accrual.Entries),
	})
}

// handleListEntries lists a person's ledger entries.
// @Summary List ledger entries
// @Tags entries
// @Produce json
// @Param id path string true "Person ID"
// @Param month query string false "Execution month YYYY-MM"
// @Param q query string false "Search task code, description or process id"
// @Param editable query bool false "Only entries that can still be corrected"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} dto.EntriesListResponse
// @Router /people/{id}/entries [get]
func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	personID, ok := extractID(w, r, "person")
	if !ok {
		return
	}

	query := r.URL.Query()
	filters := dto.ListEntriesFilters{
		Month:        query.Get("month"),
		Search:       query.Get("q"),
		OnlyEditable: query.Get("editable") == "true",
		Limit:        service.DefaultPageSize,
	}

	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > service.MaxPageSize {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 200")
			return
		}
		filters.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "offset must be a non-negative integer")
			return
		}
		filters.Offset = offset
	}

	repoFilters := repository.EntryListFilters{
		PersonID:     personID,
		Search:       filters.Search,
		OnlyEditable: filters.OnlyEditable,
		Limit:        filters.Limit,
		Offset:       filters.Offset,
	}
	if filters.Month != "" {
		month, err := domain.ParseYearMonth(filters.Month)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "month must be YYYY-MM")
			return
		}
		repoFilters.Month = &month
	}

	results, total, err := h.ledgerService.ListEntries(ctx, actor, repoFilters)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.EntriesListResponse{
		Entries: make([]dto.EntryListItem, len(results)),
		Total:   total,
		Limit:   filters.Limit,
		Offset:  filters.Offset,
	}
	for i, res := range results {
		resp.Entries[i] = dto.NewEntryListItem(res)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleUpdateEntry corrects an unconfirmed entry.
// @Summary Correct a ledger entry
// @Description Only entries not linked to a quota period and not expired.
// @Tags entries
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param request body dto.UpdateEntryRequest true "Correction"
// @Success 200 {object} dto.EntryResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /entries/{id} [patch]
func (h *Handler) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	entryID, ok := extractID(w, r, "entry")
	if !ok {
		return
	}

	var req dto.UpdateEntryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	params := service.UpdateEntryParams{ExternalProcessID: req.ExternalProcessID}
	if req.ExecutionDate != nil {
		executed, err := time.Parse(domain.DateLayout, *req.ExecutionDate)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "execution_date must be YYYY-MM-DD")
			return
		}
		params.ExecutionDate = &executed
	}

	entry, err := h.ledgerService.UpdateEntry(ctx, actor, entryID, params)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewEntryResponse(entry))
}

// handleDeleteEntry removes an unconfirmed entry.
// @Summary Delete a ledger entry
// @Tags entries
// @Param id path string true "Entry ID"
// @Success 204
// @Failure 409 {object} dto.ErrorResponse
// @Router /entries/{id} [delete]
func (h *Handler) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	entryID, ok := extractID(w, r, "entry")
	if !ok {
		return
	}

	if err := h.ledgerService.DeleteEntry(ctx, actor, entryID); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
