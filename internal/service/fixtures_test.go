package service_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/mtlprog/pointledger/internal/service"
	"github.com/mtlprog/pointledger/internal/testutil"
)

// Fixed people of every test.
const (
	adminID      = "00000000-0000-0000-0000-000000000001"
	managerID    = "00000000-0000-0000-0000-000000000002"
	leaderID     = "00000000-0000-0000-0000-000000000003"
	inspector1ID = "00000000-0000-0000-0000-000000000011"
	inspector2ID = "00000000-0000-0000-0000-000000000012"
	outsiderID   = "00000000-0000-0000-0000-000000000013"
	inactiveID   = "00000000-0000-0000-0000-000000000014"
)

// today is the pinned reference date of the services under test.
var today = time.Date(2024, time.May, 20, 12, 0, 0, 0, time.UTC)

// fixtureSuite connects to the test database and seeds a small
// organisation before each test.
type fixtureSuite struct {
	suite.Suite
	pool *pgxpool.Pool

	personRepo *repository.PersonRepository
	taskRepo   *repository.TaskRepository
	ledgerRepo *repository.LedgerRepository
	quotaRepo  *repository.QuotaPeriodRepository
	usageRepo  *repository.UsageLinkRepository

	catalogService        *service.CatalogService
	ledgerService         *service.LedgerService
	reconciliationService *service.ReconciliationService
	reportService         *service.ReportService
}

// SetupSuite runs once before all tests.
func (s *fixtureSuite) SetupSuite() {
	s.pool = testutil.Pool(s.T())

	s.personRepo = repository.NewPersonRepository(s.pool)
	s.taskRepo = repository.NewTaskRepository(s.pool)
	s.ledgerRepo = repository.NewLedgerRepository(s.pool)
	s.quotaRepo = repository.NewQuotaPeriodRepository(s.pool)
	s.usageRepo = repository.NewUsageLinkRepository(s.pool)

	clock := service.FixedClock(today)

	s.catalogService = service.NewCatalogService(s.pool, s.taskRepo, s.personRepo)
	s.ledgerService = service.NewLedgerService(s.pool, s.taskRepo, s.ledgerRepo, s.usageRepo, s.personRepo).
		WithClock(clock)
	s.reconciliationService = service.NewReconciliationService(s.pool, s.ledgerRepo, s.quotaRepo, s.usageRepo, s.personRepo).
		WithClock(clock)
	s.reportService = service.NewReportService(s.ledgerRepo, s.quotaRepo, s.usageRepo, s.taskRepo, s.personRepo)
}

// SetupTest runs before each test.
func (s *fixtureSuite) SetupTest() {
	ctx := context.Background()

	testutil.Reset(s.T(), s.pool)

	// Leadership tree: leader -> inspector1, inspector2. The outsider sits
	// in another sector and team.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO people (id, name, role, sector_id, team_id, leader_id, is_active)
		VALUES
			($1, 'Admin',      'admin',     NULL,  NULL,  NULL, true),
			($2, 'Manager',    'manager',   'S1',  NULL,  NULL, true),
			($3, 'Leader',     'leader',    'S1',  'T1',  NULL, true),
			($4, 'Inspector1', 'inspector', 'S1',  'T1',  $3,   true),
			($5, 'Inspector2', 'inspector', 'S1',  'T1',  $3,   true),
			($6, 'Outsider',   'inspector', 'S2',  'T9',  NULL, true),
			($7, 'Inactive',   'inspector', 'S1',  'T1',  $3,   false)
	`, adminID, managerID, leaderID, inspector1ID, inspector2ID, outsiderID, inactiveID)
	s.Require().NoError(err, "failed to create people")

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (code, description, point_value, is_active)
		VALUES
			('A1', 'Inspeção de rotina', 10.00, true),
			('B2', 'Diligência fiscal',   5.50, true),
			('Z9', 'Tarefa extinta',      3.00, false)
	`)
	s.Require().NoError(err, "failed to create tasks")
}

func actorOf(personID string, role domain.Role) domain.Actor {
	return domain.Actor{PersonID: personID, Role: role}
}

func inspector1() domain.Actor { return actorOf(inspector1ID, domain.RoleInspector) }

func date(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func month(s string) domain.YearMonth {
	m, err := domain.ParseYearMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

// insertEntry writes one entry directly, bypassing the catalog.
func (s *fixtureSuite) insertEntry(personID, code, executed, value, processID string) string {
	var id string
	err := s.pool.QueryRow(context.Background(), `
		INSERT INTO ledger_entries (person_id, task_code, execution_date, point_value, expiration_date, external_process_id)
		VALUES ($1, $2, $3::date, $4::numeric, $3::date + 365, $5)
		RETURNING id
	`, personID, code, executed, value, processID).Scan(&id)
	s.Require().NoError(err, "failed to create ledger entry")
	return id
}

// confirm confirms entries as the admin and fails the test on error.
func (s *fixtureSuite) confirm(personID, ym string, ids ...string) *service.Confirmation {
	conf, err := s.reconciliationService.Confirm(context.Background(), actorOf(adminID, domain.RoleAdmin), service.ConfirmParams{
		PersonID: personID,
		Month:    month(ym),
		EntryIDs: ids,
	})
	s.Require().NoError(err)
	return conf
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ids(entries []*domain.LedgerEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func decFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
