package handler

import (
	"net/http"
	"strings"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/handler/dto"
	"github.com/mtlprog/pointledger/internal/service"
)

// handleListAvailable returns the entries that can be confirmed for a month.
// @Summary List available points
// @Description Prior points still valid at the month start and points produced in the month.
// @Tags reconciliation
// @Produce json
// @Param id path string true "Person ID"
// @Param month path string true "Month YYYY-MM"
// @Success 200 {object} dto.AvailableResponse
// @Router /people/{id}/months/{month}/available [get]
func (h *Handler) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	personID, ok := extractID(w, r, "person")
	if !ok {
		return
	}

	month, ok := extractMonth(w, r)
	if !ok {
		return
	}

	p, err := h.reconciliationService.ListAvailable(ctx, actor, personID, month)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.AvailableResponse{
		Month:         month.String(),
		Prior:         dto.NewEntryResponses(p.Prior),
		Current:       dto.NewEntryResponses(p.Current),
		PriorPoints:   domain.SumPoints(p.Prior),
		CurrentPoints: domain.SumPoints(p.Current),
	})
}

// handleConfirm confirms selected entries against a month's quota.
// @Summary Confirm points
// @Description All or nothing. Fails with ALREADY_USED if any entry was confirmed before.
// @Tags reconciliation
// @Accept json
// @Produce json
// @Param id path string true "Person ID"
// @Param month path string true "Month YYYY-MM"
// @Param request body dto.ConfirmRequest true "Selected entries"
// @Success 200 {object} dto.ConfirmResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /people/{id}/months/{month}/confirm [post]
func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	personID, ok := extractID(w, r, "person")
	if !ok {
		return
	}

	month, ok := extractMonth(w, r)
	if !ok {
		return
	}

	var req dto.ConfirmRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	conf, err := h.reconciliationService.Confirm(ctx, actor, service.ConfirmParams{
		PersonID: personID,
		Month:    month,
		EntryIDs: req.EntryIDs,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ConfirmResponse{
		QuotaPeriod:    dto.NewQuotaPeriodResponse(conf.QuotaPeriod),
		TotalConfirmed: conf.Total,
		Linked:         conf.Linked,
	})
}

// handleBalance returns the month's carry-over balance.
// @Summary Compute balance
// @Tags reconciliation
// @Produce json
// @Param id path string true "Person ID"
// @Param month path string true "Month YYYY-MM"
// @Param exclude query string false "Comma-separated entry IDs already selected"
// @Success 200 {object} dto.BalanceResponse
// @Router /people/{id}/months/{month}/balance [get]
func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	personID, ok := extractID(w, r, "person")
	if !ok {
		return
	}

	month, ok := extractMonth(w, r)
	if !ok {
		return
	}

	var exclude []string
	if v := r.URL.Query().Get("exclude"); v != "" {
		exclude = splitAndTrim(v, ",")
	}

	balance, err := h.reconciliationService.ComputeBalance(ctx, actor, personID, month, exclude...)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.BalanceResponse{
		Month:   month.String(),
		Balance: balance,
	})
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
