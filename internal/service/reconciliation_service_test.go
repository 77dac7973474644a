package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/service"
)

// ReconciliationServiceTestSuite is the test suite for ReconciliationService.
type ReconciliationServiceTestSuite struct {
	fixtureSuite
}

func TestReconciliationServiceSuite(t *testing.T) {
	suite.Run(t, new(ReconciliationServiceTestSuite))
}

func (s *ReconciliationServiceTestSuite) linkCount() int {
	var n int
	err := s.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM usage_links").Scan(&n)
	s.Require().NoError(err)
	return n
}

// Test 1: Prior points still valid at the month start and points produced in it
func (s *ReconciliationServiceTestSuite) TestListAvailable_Partition() {
	ctx := context.Background()

	prior := s.insertEntry(inspector1ID, "A1", "2024-03-15", "10", "P-1")
	current := s.insertEntry(inspector1ID, "B2", "2024-05-02", "5.5", "P-2")
	// Expires 2024-04-30, before the May window opens.
	s.insertEntry(inspector1ID, "A1", "2023-05-01", "10", "P-3")
	// Executed after the month.
	s.insertEntry(inspector1ID, "A1", "2024-06-01", "10", "P-4")
	used := s.insertEntry(inspector1ID, "A1", "2024-04-20", "10", "P-5")
	s.confirm(inspector1ID, "2024-04", used)

	p, err := s.reconciliationService.ListAvailable(ctx, inspector1(), inspector1ID, month("2024-05"))
	s.Require().NoError(err)

	s.Equal([]string{prior}, ids(p.Prior))
	s.Equal([]string{current}, ids(p.Current))
}

// Test 2: Prior entries expiring on the first day of the month are still offered
func (s *ReconciliationServiceTestSuite) TestListAvailable_ExpiresOnFirstDay() {
	// 2023-05-02 + 365 days = 2024-05-01.
	id := s.insertEntry(inspector1ID, "A1", "2023-05-02", "10", "P-1")

	p, err := s.reconciliationService.ListAvailable(context.Background(), inspector1(), inspector1ID, month("2024-05"))
	s.Require().NoError(err)
	s.Equal([]string{id}, ids(p.Prior))
}

// Test 3: Balance sums both sets minus the entries already selected
func (s *ReconciliationServiceTestSuite) TestComputeBalance() {
	ctx := context.Background()

	a := s.insertEntry(inspector1ID, "A1", "2024-03-15", "10", "P-1")
	s.insertEntry(inspector1ID, "B2", "2024-05-02", "5.5", "P-2")

	balance, err := s.reconciliationService.ComputeBalance(ctx, inspector1(), inspector1ID, month("2024-05"))
	s.Require().NoError(err)
	s.True(balance.Equal(dec("15.5")), balance.String())

	balance, err = s.reconciliationService.ComputeBalance(ctx, inspector1(), inspector1ID, month("2024-05"), a)
	s.Require().NoError(err)
	s.True(balance.Equal(dec("5.5")), balance.String())

	balance, err = s.reconciliationService.ComputeBalance(ctx, inspector1(), inspector2ID, month("2024-05"))
	s.ErrorIs(err, domain.ErrPermissionDenied)
	s.True(balance.IsZero())
}

// Test 4: Confirmation links every entry and records the total
func (s *ReconciliationServiceTestSuite) TestConfirm_Success() {
	a := s.insertEntry(inspector1ID, "A1", "2024-03-15", "10", "P-1")
	b := s.insertEntry(inspector1ID, "B2", "2024-05-02", "5.5", "P-2")

	conf := s.confirm(inspector1ID, "2024-05", a, b, a)

	s.Equal(2, conf.Linked, "repeated ids collapse")
	s.True(conf.Total.Equal(dec("15.5")))
	s.Equal(domain.QuotaStatusConfirmed, conf.QuotaPeriod.Status)
	s.Equal("2024-05", conf.QuotaPeriod.YearMonth)
	s.True(conf.QuotaPeriod.PointsUsed.Equal(dec("15.5")))
	s.Require().NotNil(conf.QuotaPeriod.ConfirmationDate)
	s.Equal("2024-05-20", conf.QuotaPeriod.ConfirmationDate.Format(domain.DateLayout))
	s.Require().NotNil(conf.QuotaPeriod.ConfirmedByPersonID)
	s.Equal(adminID, *conf.QuotaPeriod.ConfirmedByPersonID)

	p, err := s.reconciliationService.ListAvailable(context.Background(), inspector1(), inspector1ID, month("2024-05"))
	s.Require().NoError(err)
	s.Empty(p.Prior)
	s.Empty(p.Current)
}

// Test 5: Two confirmations for one month accumulate into a single period
func (s *ReconciliationServiceTestSuite) TestConfirm_SecondConfirmationAccumulates() {
	a := s.insertEntry(inspector1ID, "A1", "2024-05-02", "10", "P-1")
	b := s.insertEntry(inspector1ID, "B2", "2024-05-03", "5.5", "P-2")

	first := s.confirm(inspector1ID, "2024-05", a)
	second := s.confirm(inspector1ID, "2024-05", b)

	s.Equal(first.QuotaPeriod.ID, second.QuotaPeriod.ID)
	s.True(second.Total.Equal(dec("5.5")))
	s.True(second.QuotaPeriod.PointsUsed.Equal(dec("15.5")))

	count, err := s.quotaRepo.CountByStatus(context.Background(), inspector1ID, month("2024-05"), domain.QuotaStatusConfirmed)
	s.Require().NoError(err)
	s.Equal(1, count)
}

// Test 6: A batch containing one used entry writes nothing
func (s *ReconciliationServiceTestSuite) TestConfirm_AlreadyUsedRollsBack() {
	a := s.insertEntry(inspector1ID, "A1", "2024-05-02", "10", "P-1")
	b := s.insertEntry(inspector1ID, "B2", "2024-05-03", "5.5", "P-2")
	s.confirm(inspector1ID, "2024-05", a)

	_, err := s.reconciliationService.Confirm(context.Background(), inspector1(), service.ConfirmParams{
		PersonID: inspector1ID,
		Month:    month("2024-05"),
		EntryIDs: []string{b, a},
	})
	s.ErrorIs(err, domain.ErrAlreadyUsed)

	s.Equal(1, s.linkCount())
	period, err := s.quotaRepo.GetConfirmed(context.Background(), inspector1ID, month("2024-05"))
	s.Require().NoError(err)
	s.True(period.PointsUsed.Equal(dec("10")))
}

// Test 7: Invalid selections
func (s *ReconciliationServiceTestSuite) TestConfirm_InvalidSelection() {
	ctx := context.Background()

	own := s.insertEntry(inspector1ID, "A1", "2024-05-02", "10", "P-1")
	foreign := s.insertEntry(inspector2ID, "A1", "2024-05-02", "10", "P-1")
	later := s.insertEntry(inspector1ID, "A1", "2024-06-03", "10", "P-2")
	stale := s.insertEntry(inspector1ID, "A1", "2023-04-01", "10", "P-3")

	cases := []struct {
		name string
		ids  []string
	}{
		{"empty", []string{" ", ""}},
		{"unknown", []string{own, "00000000-0000-0000-0000-0000000000ff"}},
		{"foreign", []string{own, foreign}},
		{"after the month", []string{own, later}},
		{"expired before the month", []string{own, stale}},
		{"malformed id", []string{own, "not-a-uuid"}},
	}

	for _, tc := range cases {
		_, err := s.reconciliationService.Confirm(ctx, actorOf(adminID, domain.RoleAdmin), service.ConfirmParams{
			PersonID: inspector1ID,
			Month:    month("2024-05"),
			EntryIDs: tc.ids,
		})
		s.ErrorIs(err, domain.ErrInvalidSelection, tc.name)
	}

	_, err := s.reconciliationService.Confirm(ctx, inspector1(), service.ConfirmParams{
		PersonID: inspector1ID,
		Month:    month("2024-05"),
	})
	s.ErrorIs(err, domain.ErrEmptySelection)

	s.Equal(0, s.linkCount())
	count, err := s.quotaRepo.CountByStatus(ctx, inspector1ID, month("2024-05"), domain.QuotaStatusConfirmed)
	s.Require().NoError(err)
	s.Zero(count)
}

// Test 8: Confirming someone else's month needs visibility over them
func (s *ReconciliationServiceTestSuite) TestConfirm_Visibility() {
	id := s.insertEntry(outsiderID, "A1", "2024-05-02", "10", "P-1")

	params := service.ConfirmParams{
		PersonID: outsiderID,
		Month:    month("2024-05"),
		EntryIDs: []string{id},
	}

	_, err := s.reconciliationService.Confirm(context.Background(), actorOf(managerID, domain.RoleManager), params)
	s.ErrorIs(err, domain.ErrPermissionDenied)

	// A manager cannot pose as an administrator.
	_, err = s.reconciliationService.Confirm(context.Background(), actorOf(managerID, domain.RoleAdmin), params)
	s.ErrorIs(err, domain.ErrPermissionDenied)

	// An administrator may act with a narrower role.
	_, err = s.reconciliationService.Confirm(context.Background(), actorOf(adminID, domain.RoleManager), params)
	s.ErrorIs(err, domain.ErrPermissionDenied)

	_, err = s.reconciliationService.Confirm(context.Background(), actorOf(adminID, domain.RoleAdmin), params)
	s.NoError(err)
}

// Test 9: Overlapping concurrent confirmations: exactly one wins
func (s *ReconciliationServiceTestSuite) TestConfirm_ConcurrentOverlap() {
	a := s.insertEntry(inspector1ID, "A1", "2024-05-02", "10", "P-1")
	b := s.insertEntry(inspector1ID, "A1", "2024-05-03", "10", "P-2")
	c := s.insertEntry(inspector1ID, "A1", "2024-05-04", "10", "P-3")

	selections := [][]string{{a, b}, {b, c}, {c, a}, {a, b, c}}

	var wg sync.WaitGroup
	results := make(chan error, len(selections))
	for _, sel := range selections {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			_, err := s.reconciliationService.Confirm(context.Background(), inspector1(), service.ConfirmParams{
				PersonID: inspector1ID,
				Month:    month("2024-05"),
				EntryIDs: ids,
			})
			results <- err
		}(sel)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, domain.ErrAlreadyUsed)
	}
	s.Equal(1, succeeded)

	// Every entry is consumed at most once and the period matches the links.
	var linked, distinct int
	err := s.pool.QueryRow(context.Background(),
		"SELECT COUNT(*), COUNT(DISTINCT ledger_entry_id) FROM usage_links").Scan(&linked, &distinct)
	s.Require().NoError(err)
	s.Equal(linked, distinct)

	period, err := s.quotaRepo.GetConfirmed(context.Background(), inspector1ID, month("2024-05"))
	s.Require().NoError(err)
	s.True(period.PointsUsed.Equal(dec("10").Mul(decFromInt(linked))))
}

// Test 10: Concurrent disjoint confirmations of one month both succeed
func (s *ReconciliationServiceTestSuite) TestConfirm_ConcurrentDisjoint() {
	a := s.insertEntry(inspector1ID, "A1", "2024-05-02", "10", "P-1")
	b := s.insertEntry(inspector1ID, "B2", "2024-05-03", "5.5", "P-2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a, b} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = s.reconciliationService.Confirm(context.Background(), inspector1(), service.ConfirmParams{
				PersonID: inspector1ID,
				Month:    month("2024-05"),
				EntryIDs: []string{id},
			})
		}(i, id)
	}
	wg.Wait()

	s.NoError(errs[0])
	s.NoError(errs[1])

	period, err := s.quotaRepo.GetConfirmed(context.Background(), inspector1ID, month("2024-05"))
	s.Require().NoError(err)
	s.True(period.PointsUsed.Equal(dec("15.5")), period.PointsUsed.String())
	s.Equal(2, s.linkCount())
}

// Test 11: Deactivated people cannot be confirmed, reported or accrued for
func (s *ReconciliationServiceTestSuite) TestInactivePersonIsOutOfReach() {
	ctx := context.Background()
	id := s.insertEntry(inactiveID, "A1", "2024-05-02", "10", "P-1")

	for _, actor := range []domain.Actor{
		actorOf(adminID, domain.RoleAdmin),
		actorOf(leaderID, domain.RoleLeader),
	} {
		_, err := s.reconciliationService.Confirm(ctx, actor, service.ConfirmParams{
			PersonID: inactiveID,
			Month:    month("2024-05"),
			EntryIDs: []string{id},
		})
		s.ErrorIs(err, domain.ErrPersonInactive, actor.Role)

		_, err = s.reconciliationService.ComputeBalance(ctx, actor, inactiveID, month("2024-05"))
		s.ErrorIs(err, domain.ErrPersonInactive, actor.Role)

		_, err = s.reportService.MonthlySettlement(ctx, actor, inactiveID, month("2024-05"))
		s.ErrorIs(err, domain.ErrPersonInactive, actor.Role)

		_, err = s.ledgerService.Accrue(ctx, actor, service.AccrueParams{
			PersonID:          inactiveID,
			TaskCode:          "A1",
			ExecutionDate:     date("2024-05-03"),
			ExternalProcessID: "PROC-9",
		})
		s.ErrorIs(err, domain.ErrPersonInactive, actor.Role)
	}

	_, err := s.reconciliationService.ComputeBalance(ctx, actorOf(adminID, domain.RoleAdmin), "00000000-0000-0000-0000-0000000000ff", month("2024-05"))
	s.ErrorIs(err, domain.ErrPersonNotFound)

	s.Equal(0, s.linkCount())
}

// insertPeriod stores a quota period in the given status for inspector1.
func (s *ReconciliationServiceTestSuite) insertPeriod(ym string, status domain.QuotaStatus) string {
	var id string
	err := s.pool.QueryRow(context.Background(), `
		INSERT INTO quota_periods (person_id, year_month, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`, inspector1ID, ym, string(status)).Scan(&id)
	s.Require().NoError(err)
	return id
}

// Test 12: A pending period is promoted instead of creating a second one
func (s *ReconciliationServiceTestSuite) TestConfirm_PromotesPendingPeriod() {
	pendingID := s.insertPeriod("2024-05", domain.QuotaStatusPending)
	a := s.insertEntry(inspector1ID, "A1", "2024-05-02", "10", "P-1")
	b := s.insertEntry(inspector1ID, "B2", "2024-05-03", "5.5", "P-2")

	conf := s.confirm(inspector1ID, "2024-05", a)
	s.Equal(pendingID, conf.QuotaPeriod.ID)
	s.Equal(domain.QuotaStatusConfirmed, conf.QuotaPeriod.Status)
	s.True(conf.QuotaPeriod.PointsUsed.Equal(dec("10")))
	s.Require().NotNil(conf.QuotaPeriod.ConfirmedByPersonID)
	s.Equal(adminID, *conf.QuotaPeriod.ConfirmedByPersonID)

	// The promoted period now accumulates like any confirmed one.
	conf = s.confirm(inspector1ID, "2024-05", b)
	s.Equal(pendingID, conf.QuotaPeriod.ID)
	s.True(conf.QuotaPeriod.PointsUsed.Equal(dec("15.5")))

	count, err := s.quotaRepo.CountByStatus(context.Background(), inspector1ID, month("2024-05"), domain.QuotaStatusPending)
	s.Require().NoError(err)
	s.Zero(count)
}

// Test 13: A rejected month cannot be confirmed
func (s *ReconciliationServiceTestSuite) TestConfirm_RejectedPeriod() {
	s.insertPeriod("2024-05", domain.QuotaStatusRejected)
	a := s.insertEntry(inspector1ID, "A1", "2024-05-02", "10", "P-1")

	_, err := s.reconciliationService.Confirm(context.Background(), inspector1(), service.ConfirmParams{
		PersonID: inspector1ID,
		Month:    month("2024-05"),
		EntryIDs: []string{a},
	})
	s.ErrorIs(err, domain.ErrInvalidTransition)

	s.Equal(0, s.linkCount())
	count, err := s.quotaRepo.CountByStatus(context.Background(), inspector1ID, month("2024-05"), domain.QuotaStatusConfirmed)
	s.Require().NoError(err)
	s.Zero(count)
}
