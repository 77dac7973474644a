package dto

import "github.com/shopspring/decimal"

// AccrueRequest represents the request body for POST /people/{id}/entries.
type AccrueRequest struct {
	TaskCode          string `json:"task_code" validate:"required,max=16"`
	ExecutionDate     string `json:"execution_date" validate:"required,datetime=2006-01-02"`
	ExternalProcessID string `json:"external_process_id" validate:"required,max=64"`
	Quantity          int    `json:"quantity" validate:"gte=0,lte=1000"`
}

// UpdateEntryRequest represents the request body for PATCH /entries/{id}.
type UpdateEntryRequest struct {
	ExecutionDate     *string `json:"execution_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ExternalProcessID *string `json:"external_process_id,omitempty" validate:"omitempty,max=64"`
}

// ConfirmRequest represents the request body for POST /people/{id}/months/{month}/confirm.
type ConfirmRequest struct {
	EntryIDs []string `json:"entry_ids" validate:"max=1000,dive,uuid"`
}

// SettlementRequest represents the request body for POST /settlement.
type SettlementRequest struct {
	TotalMensal     decimal.Decimal `json:"total_mensal"`
	SaldoTotal      decimal.Decimal `json:"saldo_total"`
	PontosExpirados decimal.Decimal `json:"pontos_expirados"`
}

// ListEntriesFilters represents query parameters for GET /people/{id}/entries.
type ListEntriesFilters struct {
	Month        string // ?month=2024-05
	Search       string // ?q=diligência
	OnlyEditable bool   // ?editable=true
	Limit        int    // ?limit=50
	Offset       int    // ?offset=0
}
