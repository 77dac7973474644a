package dto

import (
	"time"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/mtlprog/pointledger/internal/service"
	"github.com/shopspring/decimal"
)

// TaskResponse represents a catalog task.
type TaskResponse struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	PointValue  decimal.Decimal `json:"point_value"`
	IsActive    bool            `json:"is_active"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TasksResponse represents the response for GET /tasks.
type TasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// PersonResponse represents a person visible to the caller.
type PersonResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Registration *string `json:"registration"`
	Role         string  `json:"role"`
	SectorID     *string `json:"sector_id"`
	TeamID       *string `json:"team_id"`
	LeaderID     *string `json:"leader_id"`
}

// PeopleResponse represents the response for GET /people.
type PeopleResponse struct {
	People []PersonResponse `json:"people"`
}

// EntryResponse represents a ledger entry.
type EntryResponse struct {
	ID                string          `json:"id"`
	PersonID          string          `json:"person_id"`
	TaskCode          string          `json:"task_code"`
	ExecutionDate     string          `json:"execution_date"`
	PointValue        decimal.Decimal `json:"point_value"`
	ExpirationDate    string          `json:"expiration_date"`
	ExternalProcessID string          `json:"external_process_id"`
	Quantity          int             `json:"quantity"`
	CreatedAt         time.Time       `json:"created_at"`
}

// EntryListItem represents an entry in the list view.
type EntryListItem struct {
	EntryResponse
	TaskDescription string `json:"task_description"`
	Linked          bool   `json:"linked"`
	Editable        bool   `json:"editable"`
}

// EntriesListResponse represents the response for GET /people/{id}/entries.
type EntriesListResponse struct {
	Entries []EntryListItem `json:"entries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// AccrueResponse represents the response for POST /people/{id}/entries.
type AccrueResponse struct {
	Created     int             `json:"created"`
	PointValue  decimal.Decimal `json:"point_value"`
	TotalPoints decimal.Decimal `json:"total_points"`
	Entries     []EntryResponse `json:"entries"`
}

// AvailableResponse represents the response for GET .../available.
type AvailableResponse struct {
	Month         string          `json:"month"`
	Prior         []EntryResponse `json:"prior"`
	Current       []EntryResponse `json:"current"`
	PriorPoints   decimal.Decimal `json:"prior_points"`
	CurrentPoints decimal.Decimal `json:"current_points"`
}

// BalanceResponse represents the response for GET .../balance.
type BalanceResponse struct {
	Month   string          `json:"month"`
	Balance decimal.Decimal `json:"balance"`
}

// QuotaPeriodResponse represents a quota period.
type QuotaPeriodResponse struct {
	ID                  string          `json:"id"`
	PersonID            string          `json:"person_id"`
	YearMonth           string          `json:"year_month"`
	PointsUsed          decimal.Decimal `json:"points_used"`
	Status              string          `json:"status"`
	ConfirmationDate    *string         `json:"confirmation_date"`
	ConfirmedByPersonID *string         `json:"confirmed_by_person_id"`
}

// ConfirmResponse represents the response for POST .../confirm.
type ConfirmResponse struct {
	QuotaPeriod    QuotaPeriodResponse `json:"quota_period"`
	TotalConfirmed decimal.Decimal     `json:"total_confirmed"`
	Linked         int                 `json:"linked"`
}

// SettlementResponse represents the four settlement figures.
type SettlementResponse struct {
	ResultadoMes      decimal.Decimal `json:"resultado_mes"`
	Excedente         decimal.Decimal `json:"excedente"`
	AReceber          decimal.Decimal `json:"a_receber"`
	SaldoATransportar decimal.Decimal `json:"saldo_a_transportar"`
}

// SettlementLineResponse represents one task code of the monthly report.
type SettlementLineResponse struct {
	TaskCode    string          `json:"task_code"`
	Description string          `json:"description"`
	PointValue  decimal.Decimal `json:"point_value"`
	Quantity    int             `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
}

// MonthMetricsResponse represents the usage figures of a month.
type MonthMetricsResponse struct {
	Realized       decimal.Decimal `json:"realized"`
	UsedThisMonth  decimal.Decimal `json:"used_this_month"`
	MonthlyBalance decimal.Decimal `json:"monthly_balance"`
	UsedPrior      decimal.Decimal `json:"used_prior"`
	TotalUsed      decimal.Decimal `json:"total_used"`
}

// MonthlyReportResponse represents the response for GET .../settlement.
type MonthlyReportResponse struct {
	PersonID        string                   `json:"person_id"`
	Month           string                   `json:"month"`
	Lines           []SettlementLineResponse `json:"lines"`
	TotalMensal     decimal.Decimal          `json:"total_mensal"`
	SaldoTotal      decimal.Decimal          `json:"saldo_total"`
	PontosExpirados decimal.Decimal          `json:"pontos_expirados"`
	Settlement      SettlementResponse       `json:"settlement"`
	Metrics         MonthMetricsResponse     `json:"metrics"`
}

// UsageGroupResponse represents a group of consumed entries.
type UsageGroupResponse struct {
	Entries []EntryResponse `json:"entries"`
	Total   decimal.Decimal `json:"total"`
}

// UsageStatementResponse represents the response for GET .../usage.
type UsageStatementResponse struct {
	PersonID    string               `json:"person_id"`
	Month       string               `json:"month"`
	QuotaPeriod *QuotaPeriodResponse `json:"quota_period"`
	ThisMonth   UsageGroupResponse   `json:"this_month"`
	PriorMonths UsageGroupResponse   `json:"prior_months"`
	Total       decimal.Decimal      `json:"total"`
}

// ExpiringMonthResponse represents the points expiring in one month.
type ExpiringMonthResponse struct {
	Month   string          `json:"month"`
	Points  decimal.Decimal `json:"points"`
	Entries []EntryResponse `json:"entries"`
}

// ExpiringResponse represents the response for GET /people/{id}/expiring.
type ExpiringResponse struct {
	AsOf        string                  `json:"as_of"`
	MonthsAhead int                     `json:"months_ahead"`
	Months      []ExpiringMonthResponse `json:"months"`
	Total       decimal.Decimal         `json:"total"`
}

// OverviewMonthResponse represents one month of the overview.
type OverviewMonthResponse struct {
	Month  string          `json:"month"`
	Earned decimal.Decimal `json:"earned"`
	Used   decimal.Decimal `json:"used"`
}

// OverviewResponse represents the response for GET /people/{id}/overview.
type OverviewResponse struct {
	PersonID          string                  `json:"person_id"`
	Months            []OverviewMonthResponse `json:"months"`
	TotalEarned       decimal.Decimal         `json:"total_earned"`
	TotalUsed         decimal.Decimal         `json:"total_used"`
	PrescribingMonth  string                  `json:"prescribing_month"`
	PrescribingPoints decimal.Decimal         `json:"prescribing_points"`
}

// SyncResponse represents the response for POST /catalog/sync.
type SyncResponse struct {
	Inserted    int `json:"inserted"`
	Reactivated int `json:"reactivated"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
}

// NewTaskResponse maps a catalog task.
func NewTaskResponse(t *domain.TaskDefinition) TaskResponse {
	return TaskResponse{
		Code:        t.Code,
		Description: t.Description,
		PointValue:  t.PointValue,
		IsActive:    t.IsActive,
		UpdatedAt:   t.UpdatedAt,
	}
}

// NewPersonResponse maps a person.
func NewPersonResponse(p *domain.Person) PersonResponse {
	return PersonResponse{
		ID:           p.ID,
		Name:         p.Name,
		Registration: p.Registration,
		Role:         string(p.Role),
		SectorID:     p.SectorID,
		TeamID:       p.TeamID,
		LeaderID:     p.LeaderID,
	}
}

// NewEntryResponse maps a ledger entry.
func NewEntryResponse(e *domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		ID:                e.ID,
		PersonID:          e.PersonID,
		TaskCode:          e.TaskCode,
		ExecutionDate:     e.ExecutionDate.Format(domain.DateLayout),
		PointValue:        e.PointValue,
		ExpirationDate:    e.ExpirationDate.Format(domain.DateLayout),
		ExternalProcessID: e.ExternalProcessID,
		Quantity:          e.Quantity,
		CreatedAt:         e.CreatedAt,
	}
}

// NewEntryResponses maps a list of ledger entries; never nil.
func NewEntryResponses(entries []*domain.LedgerEntry) []EntryResponse {
	out := make([]EntryResponse, len(entries))
	for i, e := range entries {
		out[i] = NewEntryResponse(e)
	}
	return out
}

// NewEntryListItem maps a listing row.
func NewEntryListItem(r repository.EntryListResult) EntryListItem {
	return EntryListItem{
		EntryResponse:   NewEntryResponse(r.Entry),
		TaskDescription: r.TaskDescription,
		Linked:          r.Linked,
		Editable:        r.Editable,
	}
}

// NewQuotaPeriodResponse maps a quota period.
func NewQuotaPeriodResponse(q *domain.QuotaPeriod) QuotaPeriodResponse {
	resp := QuotaPeriodResponse{
		ID:                  q.ID,
		PersonID:            q.PersonID,
		YearMonth:           q.YearMonth,
		PointsUsed:          q.PointsUsed,
		Status:              string(q.Status),
		ConfirmedByPersonID: q.ConfirmedByPersonID,
	}
	if q.ConfirmationDate != nil {
		d := q.ConfirmationDate.Format(domain.DateLayout)
		resp.ConfirmationDate = &d
	}
	return resp
}

// NewSettlementResponse maps settlement figures.
func NewSettlementResponse(s domain.Settlement) SettlementResponse {
	return SettlementResponse{
		ResultadoMes:      s.MonthResult,
		Excedente:         s.Surplus,
		AReceber:          s.Payable,
		SaldoATransportar: s.CarryForward,
	}
}

// NewMonthlyReportResponse maps a monthly report.
func NewMonthlyReportResponse(r *service.MonthlyReport) MonthlyReportResponse {
	lines := make([]SettlementLineResponse, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = SettlementLineResponse{
			TaskCode:    l.TaskCode,
			Description: l.Description,
			PointValue:  l.PointValue,
			Quantity:    l.Quantity,
			Total:       l.Total,
		}
	}

	return MonthlyReportResponse{
		PersonID:        r.PersonID,
		Month:           r.Month,
		Lines:           lines,
		TotalMensal:     r.TotalMensal,
		SaldoTotal:      r.SaldoTotal,
		PontosExpirados: r.PontosExpirados,
		Settlement:      NewSettlementResponse(r.Settlement),
		Metrics: MonthMetricsResponse{
			Realized:       r.Metrics.Realized,
			UsedThisMonth:  r.Metrics.UsedThisMonth,
			MonthlyBalance: r.Metrics.MonthlyBalance,
			UsedPrior:      r.Metrics.UsedPrior,
			TotalUsed:      r.Metrics.TotalUsed,
		},
	}
}

// NewUsageStatementResponse maps a usage statement.
func NewUsageStatementResponse(s *service.UsageStatement) UsageStatementResponse {
	resp := UsageStatementResponse{
		PersonID:    s.PersonID,
		Month:       s.Month,
		ThisMonth:   UsageGroupResponse{Entries: NewEntryResponses(s.ThisMonth.Entries), Total: s.ThisMonth.Total},
		PriorMonths: UsageGroupResponse{Entries: NewEntryResponses(s.PriorMonths.Entries), Total: s.PriorMonths.Total},
		Total:       s.Total,
	}
	if s.QuotaPeriod != nil {
		qp := NewQuotaPeriodResponse(s.QuotaPeriod)
		resp.QuotaPeriod = &qp
	}
	return resp
}

// NewOverviewResponse maps an overview.
func NewOverviewResponse(o *service.Overview) OverviewResponse {
	months := make([]OverviewMonthResponse, len(o.Months))
	for i, m := range o.Months {
		months[i] = OverviewMonthResponse{Month: m.Month, Earned: m.Earned, Used: m.Used}
	}

	return OverviewResponse{
		PersonID:          o.PersonID,
		Months:            months,
		TotalEarned:       o.TotalEarned,
		TotalUsed:         o.TotalUsed,
		PrescribingMonth:  o.PrescribingMonth,
		PrescribingPoints: o.PrescribingPoints,
	}
}
