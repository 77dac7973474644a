package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/pointledger/internal/catalog"
	"github.com/mtlprog/pointledger/internal/handler"
	"github.com/mtlprog/pointledger/internal/handler/dto"
	"github.com/mtlprog/pointledger/internal/middleware"
	"github.com/mtlprog/pointledger/internal/service"
	"github.com/mtlprog/pointledger/internal/testutil"
)

const (
	adminID     = "00000000-0000-0000-0000-000000000001"
	leaderID    = "00000000-0000-0000-0000-000000000003"
	inspectorID = "00000000-0000-0000-0000-000000000011"
	otherID     = "00000000-0000-0000-0000-000000000012"
	inactiveID  = "00000000-0000-0000-0000-000000000014"
)

type HandlerTestSuite struct {
	suite.Suite
	pool   *pgxpool.Pool
	router http.Handler
}

func (s *HandlerTestSuite) SetupSuite() {
	s.pool = testutil.Pool(s.T())

	reference := func() ([]catalog.Item, error) {
		return []catalog.Item{
			{Code: "A1", Description: "Inspeção de rotina", Points: decimal.NewFromInt(10)},
			{Code: "C3", Description: "Nova tarefa", Points: decimal.NewFromInt(2)},
		}, nil
	}

	h := handler.New(s.pool, reference).
		WithClock(service.FixedClock(time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)))
	s.router = h.Router()
}

func (s *HandlerTestSuite) SetupTest() {
	ctx := context.Background()

	testutil.Reset(s.T(), s.pool)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO people (id, name, role, sector_id, team_id, leader_id, is_active)
		VALUES
			($1, 'Admin',     'admin',     NULL, NULL, NULL, true),
			($2, 'Leader',    'leader',    'S1', 'T1', NULL, true),
			($3, 'Inspector', 'inspector', 'S1', 'T1', $2,   true),
			($4, 'Other',     'inspector', 'S2', 'T2', NULL, true),
			($5, 'Inactive',  'inspector', 'S1', 'T1', $2,   false)
	`, adminID, leaderID, inspectorID, otherID, inactiveID)
	s.Require().NoError(err)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (code, description, point_value, is_active)
		VALUES
			('A1', 'Inspeção de rotina', 10.00, true),
			('B2', 'Diligência fiscal',   5.50, true),
			('Z9', 'Tarefa extinta',      3.00, false)
	`)
	s.Require().NoError(err)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

// Helper to make a request on behalf of a person
func (s *HandlerTestSuite) makeRequest(method, path, personID string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if personID != "" {
		req.Header.Set(middleware.HeaderPersonID, personID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *HandlerTestSuite) accrue(personID, code, processID string, quantity int) dto.AccrueResponse {
	w := s.makeRequest("POST", "/api/v1/people/"+personID+"/entries", personID, dto.AccrueRequest{
		TaskCode:          code,
		ExecutionDate:     "2024-05-03",
		ExternalProcessID: processID,
		Quantity:          quantity,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp dto.AccrueResponse
	s.decode(w, &resp)
	return resp
}

func (s *HandlerTestSuite) errorCode(w *httptest.ResponseRecorder) dto.ErrorDetail {
	var resp dto.ErrorResponse
	s.decode(w, &resp)
	return resp.Error
}

// Test 1: Requests without a known, active caller are rejected
func (s *HandlerTestSuite) TestActor_Unauthorized() {
	w := s.makeRequest("GET", "/api/v1/tasks", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.makeRequest("GET", "/api/v1/tasks", "not-a-uuid", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.makeRequest("GET", "/api/v1/tasks", "00000000-0000-0000-0000-0000000000ff", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.makeRequest("GET", "/api/v1/tasks", inactiveID, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

// Test 2: Only administrators may act with another role
func (s *HandlerTestSuite) TestActor_ActAsRole() {
	w := s.makeRequest("GET", "/api/v1/tasks", inspectorID, nil, middleware.HeaderActAs, "admin")
	s.Equal(http.StatusForbidden, w.Code)

	w = s.makeRequest("GET", "/api/v1/tasks", adminID, nil, middleware.HeaderActAs, "superuser")
	s.Equal(http.StatusBadRequest, w.Code)

	// Acting as an inspector, the admin only sees themself.
	w = s.makeRequest("GET", "/api/v1/people/"+inspectorID+"/entries", adminID, nil, middleware.HeaderActAs, "inspector")
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("INSUFFICIENT_ACCESS", s.errorCode(w).Code)
}

// Test 3: Health check and metrics need no caller
func (s *HandlerTestSuite) TestHealthAndMetrics() {
	w := s.makeRequest("GET", "/healthz", "", nil)
	s.Equal(http.StatusOK, w.Code)

	s.accrue(inspectorID, "A1", "PROC-1", 1)

	w = s.makeRequest("GET", "/metrics", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "pointledger_entries_accrued_total")
}

// Test 4: Catalog listing
func (s *HandlerTestSuite) TestListTasks() {
	w := s.makeRequest("GET", "/api/v1/tasks?active=true", inspectorID, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.TasksResponse
	s.decode(w, &resp)
	s.Len(resp.Tasks, 2)
	s.Equal("A1", resp.Tasks[0].Code)
	s.True(resp.Tasks[0].PointValue.Equal(decimal.NewFromInt(10)))
}

// Test 5: Catalog synchronization is admin-only
func (s *HandlerTestSuite) TestSyncCatalog() {
	w := s.makeRequest("POST", "/api/v1/catalog/sync", inspectorID, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.makeRequest("POST", "/api/v1/catalog/sync", adminID, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.SyncResponse
	s.decode(w, &resp)
	s.Equal(dto.SyncResponse{Inserted: 1, Reactivated: 0, Updated: 0, Deactivated: 1}, resp)
}

// Test 6: Accrual creates one entry per unit
func (s *HandlerTestSuite) TestAccrue() {
	resp := s.accrue(inspectorID, "B2", "PROC-1", 2)

	s.Equal(2, resp.Created)
	s.True(resp.PointValue.Equal(decimal.RequireFromString("5.5")))
	s.True(resp.TotalPoints.Equal(decimal.NewFromInt(11)))
	s.Require().Len(resp.Entries, 2)
	s.Equal("2025-05-03", resp.Entries[0].ExpirationDate)
}

// Test 7: Duplicate accrual returns 409 with details
func (s *HandlerTestSuite) TestAccrue_Duplicate() {
	s.accrue(inspectorID, "A1", "PROC-1", 1)

	w := s.makeRequest("POST", "/api/v1/people/"+inspectorID+"/entries", inspectorID, dto.AccrueRequest{
		TaskCode:          "A1",
		ExecutionDate:     "2024-05-10",
		ExternalProcessID: "PROC-1",
	})
	s.Require().Equal(http.StatusConflict, w.Code)

	detail := s.errorCode(w)
	s.Equal("DUPLICATE_ENTRY", detail.Code)
	s.Equal("2024-05-03", detail.Details["first_execution_date"])
	s.Equal(false, detail.Details["already_used"])
}

// Test 8: Request validation
func (s *HandlerTestSuite) TestAccrue_Validation() {
	path := "/api/v1/people/" + inspectorID + "/entries"

	w := s.makeRequest("POST", path, inspectorID, dto.AccrueRequest{
		TaskCode:          "A1",
		ExecutionDate:     "03/05/2024",
		ExternalProcessID: "PROC-1",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("VALIDATION_ERROR", s.errorCode(w).Code)

	w = s.makeRequest("POST", path, inspectorID, dto.AccrueRequest{
		TaskCode:      "A1",
		ExecutionDate: "2024-05-03",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.makeRequest("POST", path, inspectorID, dto.AccrueRequest{
		TaskCode:          "Z9",
		ExecutionDate:     "2024-05-03",
		ExternalProcessID: "PROC-1",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("CATALOG_TASK_INACTIVE", s.errorCode(w).Code)

	w = s.makeRequest("POST", "/api/v1/people/nope/entries", inspectorID, dto.AccrueRequest{})
	s.Equal(http.StatusBadRequest, w.Code)
}

// Test 9: Visibility over other people's ledgers
func (s *HandlerTestSuite) TestListEntries_Visibility() {
	s.accrue(inspectorID, "A1", "PROC-1", 1)

	w := s.makeRequest("GET", "/api/v1/people/"+inspectorID+"/entries", otherID, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.makeRequest("GET", "/api/v1/people/"+inspectorID+"/entries?month=2024-05", leaderID, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.EntriesListResponse
	s.decode(w, &resp)
	s.Equal(1, resp.Total)
	s.True(resp.Entries[0].Editable)
	s.Equal("Inspeção de rotina", resp.Entries[0].TaskDescription)

	w = s.makeRequest("GET", "/api/v1/people/"+inspectorID+"/entries?limit=0", inspectorID, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

// Test 10: People listing follows visibility
func (s *HandlerTestSuite) TestListPeople() {
	w := s.makeRequest("GET", "/api/v1/people", leaderID, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.PeopleResponse
	s.decode(w, &resp)
	s.Require().Len(resp.People, 2)
	s.Equal(leaderID, resp.People[0].ID)
	s.Equal(inspectorID, resp.People[1].ID)
}

// Test 11: Availability, confirmation and balance
func (s *HandlerTestSuite) TestConfirmFlow() {
	a := s.accrue(inspectorID, "A1", "PROC-1", 1).Entries[0].ID
	b := s.accrue(inspectorID, "B2", "PROC-2", 1).Entries[0].ID
	base := "/api/v1/people/" + inspectorID + "/months/2024-05"

	w := s.makeRequest("GET", base+"/available", inspectorID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var available dto.AvailableResponse
	s.decode(w, &available)
	s.Len(available.Current, 2)
	s.True(available.CurrentPoints.Equal(decimal.RequireFromString("15.5")))

	w = s.makeRequest("GET", base+"/balance?exclude="+a, inspectorID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var balance dto.BalanceResponse
	s.decode(w, &balance)
	s.True(balance.Balance.Equal(decimal.RequireFromString("5.5")))

	w = s.makeRequest("POST", base+"/confirm", inspectorID, dto.ConfirmRequest{EntryIDs: []string{a}})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var conf dto.ConfirmResponse
	s.decode(w, &conf)
	s.Equal(1, conf.Linked)
	s.Equal("confirmed", conf.QuotaPeriod.Status)
	s.Require().NotNil(conf.QuotaPeriod.ConfirmationDate)
	s.Equal("2024-05-20", *conf.QuotaPeriod.ConfirmationDate)

	w = s.makeRequest("POST", base+"/confirm", inspectorID, dto.ConfirmRequest{EntryIDs: []string{b, a}})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("ALREADY_USED", s.errorCode(w).Code)

	w = s.makeRequest("POST", base+"/confirm", inspectorID, dto.ConfirmRequest{})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("INVALID_SELECTION", s.errorCode(w).Code)

	w = s.makeRequest("POST", base+"/confirm", inspectorID, dto.ConfirmRequest{EntryIDs: []string{"nope"}})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("VALIDATION_ERROR", s.errorCode(w).Code)

	w = s.makeRequest("GET", "/api/v1/people/"+inspectorID+"/months/2024-13/available", inspectorID, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	// Confirmed entries are locked.
	newDate := "2024-05-04"
	w = s.makeRequest("PATCH", "/api/v1/entries/"+a, inspectorID, dto.UpdateEntryRequest{ExecutionDate: &newDate})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("ENTRY_LOCKED", s.errorCode(w).Code)

	w = s.makeRequest("PATCH", "/api/v1/entries/"+b, inspectorID, dto.UpdateEntryRequest{ExecutionDate: &newDate})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var entry dto.EntryResponse
	s.decode(w, &entry)
	s.Equal("2025-05-04", entry.ExpirationDate)

	w = s.makeRequest("DELETE", "/api/v1/entries/"+b, inspectorID, nil)
	s.Equal(http.StatusNoContent, w.Code)

	w = s.makeRequest("DELETE", "/api/v1/entries/"+b, inspectorID, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

// Test 12: Reports
func (s *HandlerTestSuite) TestReports() {
	a := s.accrue(inspectorID, "A1", "PROC-1", 3).Entries
	base := "/api/v1/people/" + inspectorID

	w := s.makeRequest("POST", base+"/months/2024-05/confirm", inspectorID, dto.ConfirmRequest{EntryIDs: []string{a[0].ID}})
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.makeRequest("GET", base+"/months/2024-05/settlement", inspectorID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var report dto.MonthlyReportResponse
	s.decode(w, &report)
	s.Require().Len(report.Lines, 1)
	s.Equal(3, report.Lines[0].Quantity)
	s.True(report.TotalMensal.Equal(decimal.NewFromInt(30)))
	s.True(report.SaldoTotal.Equal(decimal.NewFromInt(20)))
	s.True(report.Metrics.UsedThisMonth.Equal(decimal.NewFromInt(10)))

	w = s.makeRequest("GET", base+"/months/2024-05/usage", inspectorID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var usage dto.UsageStatementResponse
	s.decode(w, &usage)
	s.Require().NotNil(usage.QuotaPeriod)
	s.Len(usage.ThisMonth.Entries, 1)
	s.True(usage.Total.Equal(decimal.NewFromInt(10)))

	w = s.makeRequest("GET", base+"/expiring?months=2", inspectorID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var expiring dto.ExpiringResponse
	s.decode(w, &expiring)
	s.Equal("2024-05-20", expiring.AsOf)
	s.Equal(2, expiring.MonthsAhead)
	s.Empty(expiring.Months)
	s.True(expiring.Total.IsZero())

	w = s.makeRequest("GET", base+"/expiring?months=abc", inspectorID, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.makeRequest("GET", base+"/overview", inspectorID, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var overview dto.OverviewResponse
	s.decode(w, &overview)
	s.Len(overview.Months, 12)
	s.True(overview.TotalEarned.Equal(decimal.NewFromInt(30)))
	s.True(overview.TotalUsed.Equal(decimal.NewFromInt(10)))
	s.Equal("2023-05", overview.PrescribingMonth)
}

// Test 13: Pure settlement arithmetic
func (s *HandlerTestSuite) TestComputeSettlement() {
	w := s.makeRequest("POST", "/api/v1/settlement", inspectorID, dto.SettlementRequest{
		TotalMensal:     decimal.NewFromInt(450),
		SaldoTotal:      decimal.NewFromInt(300),
		PontosExpirados: decimal.NewFromInt(50),
	})
	s.Require().Equal(http.StatusOK, w.Code)

	var resp dto.SettlementResponse
	s.decode(w, &resp)
	s.True(resp.ResultadoMes.Equal(decimal.NewFromInt(700)))
	s.True(resp.Excedente.Equal(decimal.NewFromInt(500)))
	s.True(resp.AReceber.Equal(decimal.NewFromInt(400)))
	s.True(resp.SaldoATransportar.Equal(decimal.NewFromInt(250)))
}

// Test 14: Deactivated people are out of reach even for administrators
func (s *HandlerTestSuite) TestInactiveTarget() {
	w := s.makeRequest("GET", "/api/v1/people/"+inactiveID+"/months/2024-05/balance", adminID, nil)
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("INSUFFICIENT_ACCESS", s.errorCode(w).Code)

	w = s.makeRequest("GET", "/api/v1/people/00000000-0000-0000-0000-0000000000ff/months/2024-05/balance", adminID, nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("PERSON_NOT_FOUND", s.errorCode(w).Code)
}
