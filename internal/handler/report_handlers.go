package handler

import (
	"net/http"
	"strconv"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/handler/dto"
	"github.com/mtlprog/pointledger/internal/service"
	"github.com/shopspring/decimal"
)

// maxExpiringMonths bounds the look-ahead of GET /expiring.
const maxExpiringMonths = 24

// handleMonthlySettlement returns the detailed report figures for a month.
// @Summary Monthly settlement report
// @Tags reports
// @Produce json
// @Param id path string true "Person ID"
// @Param month path string true "Month YYYY-MM"
// @Success 200 {object} dto.MonthlyReportResponse
// @Router /people/{id}/months/{month}/settlement [get]
func (h *Handler) handleMonthlySettlement(w http.ResponseWriter, r *http.Request) {
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

	report, err := h.reportService.MonthlySettlement(ctx, actor, personID, month)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewMonthlyReportResponse(report))
}

// handleUsageStatement lists the entries consumed by a month's confirmation.
// @Summary Usage statement
// @Tags reports
// @Produce json
// @Param id path string true "Person ID"
// @Param month path string true "Month YYYY-MM"
// @Success 200 {object} dto.UsageStatementResponse
// @Router /people/{id}/months/{month}/usage [get]
func (h *Handler) handleUsageStatement(w http.ResponseWriter, r *http.Request) {
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

	stmt, err := h.reportService.UsageStatement(ctx, actor, personID, month)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewUsageStatementResponse(stmt))
}

// handleExpiringSoon groups unused points by expiration month.
// @Summary Points expiring soon
// @Tags reports
// @Produce json
// @Param id path string true "Person ID"
// @Param months query int false "Months ahead (default 3)"
// @Success 200 {object} dto.ExpiringResponse
// @Router /people/{id}/expiring [get]
func (h *Handler) handleExpiringSoon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	personID, ok := extractID(w, r, "person")
	if !ok {
		return
	}

	monthsAhead := service.DefaultExpiringMonths
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxExpiringMonths {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "months must be between 1 and 24")
			return
		}
		monthsAhead = n
	}

	asOf := domain.DateOf(h.clock())

	months, err := h.reportService.ExpiringSoon(ctx, actor, personID, monthsAhead, asOf)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := dto.ExpiringResponse{
		AsOf:        asOf.Format(domain.DateLayout),
		MonthsAhead: monthsAhead,
		Months:      make([]dto.ExpiringMonthResponse, len(months)),
		Total:       decimal.Zero,
	}
	for i, m := range months {
		resp.Months[i] = dto.ExpiringMonthResponse{
			Month:   m.Month,
			Points:  m.Points,
			Entries: dto.NewEntryResponses(m.Entries),
		}
		resp.Total = resp.Total.Add(m.Points)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleOverview returns the twelve-month summary.
// @Summary Points overview
// @Tags reports
// @Produce json
// @Param id path string true "Person ID"
// @Success 200 {object} dto.OverviewResponse
// @Router /people/{id}/overview [get]
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	personID, ok := extractID(w, r, "person")
	if !ok {
		return
	}

	ov, err := h.reportService.Overview(ctx, actor, personID, h.clock())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewOverviewResponse(ov))
}

// handleComputeSettlement applies the quota policy to caller-supplied figures.
// @Summary Compute monthly settlement
// @Tags reports
// @Accept json
// @Produce json
// @Param request body dto.SettlementRequest true "Month figures"
// @Success 200 {object} dto.SettlementResponse
// @Router /settlement [post]
func (h *Handler) handleComputeSettlement(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}

	var req dto.SettlementRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	s := domain.ComputeSettlement(req.TotalMensal, req.SaldoTotal, req.PontosExpirados)
	respondJSON(w, http.StatusOK, dto.NewSettlementResponse(s))
}
