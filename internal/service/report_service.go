package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultExpiringMonths is the look-ahead of ExpiringSoon when none is given.
const DefaultExpiringMonths = 3

// overviewMonths is the length of the overview history.
const overviewMonths = 12

// ExpiringMonth groups unused points by the month they expire in.
type ExpiringMonth struct {
	Month   string
	Points  decimal.Decimal
	Entries []*domain.LedgerEntry
}

// SettlementLine is one catalog code of the monthly report.
type SettlementLine struct {
	TaskCode    string
	Description string
	PointValue  decimal.Decimal
	Quantity    int
	Total       decimal.Decimal
}

// MonthMetrics are the usage figures of a month.
type MonthMetrics struct {
	Realized       decimal.Decimal
	UsedThisMonth  decimal.Decimal
	MonthlyBalance decimal.Decimal
	UsedPrior      decimal.Decimal
	TotalUsed      decimal.Decimal
}

// MonthlyReport is the data behind the detailed productivity report.
type MonthlyReport struct {
	PersonID        string
	Month           string
	Lines           []SettlementLine
	TotalMensal     decimal.Decimal
	SaldoTotal      decimal.Decimal
	PontosExpirados decimal.Decimal
	Settlement      domain.Settlement
	Metrics         MonthMetrics
}

// UsageGroup is a list of consumed entries with its total.
type UsageGroup struct {
	Entries []*domain.LedgerEntry
	Total   decimal.Decimal
}

// UsageStatement lists what a month's confirmed period consumed.
type UsageStatement struct {
	PersonID    string
	Month       string
	QuotaPeriod *domain.QuotaPeriod
	ThisMonth   UsageGroup
	PriorMonths UsageGroup
	Total       decimal.Decimal
}

// OverviewMonth is one month of the overview history.
type OverviewMonth struct {
	Month  string
	Earned decimal.Decimal
	Used   decimal.Decimal
}

// Overview is the twelve-month summary of a person's points.
type Overview struct {
	PersonID    string
	Months      []OverviewMonth
	TotalEarned decimal.Decimal
	TotalUsed   decimal.Decimal

	// PrescribingPoints were earned in PrescribingMonth and expire this
	// month if left unused.
	PrescribingMonth  string
	PrescribingPoints decimal.Decimal
}

// ReportService builds read-only summaries of the ledger. It never writes.
type ReportService struct {
	ledgerRepo *repository.LedgerRepository
	quotaRepo  *repository.QuotaPeriodRepository
	usageRepo  *repository.UsageLinkRepository
	taskRepo   *repository.TaskRepository
	validator  *Validator
}

// NewReportService creates a new ReportService.
func NewReportService(
	ledgerRepo *repository.LedgerRepository,
	quotaRepo *repository.QuotaPeriodRepository,
	usageRepo *repository.UsageLinkRepository,
	taskRepo *repository.TaskRepository,
	personRepo *repository.PersonRepository,
) *ReportService {
	return &ReportService{
		ledgerRepo: ledgerRepo,
		quotaRepo:  quotaRepo,
		usageRepo:  usageRepo,
		taskRepo:   taskRepo,
		validator:  NewValidator(personRepo),
	}
}

// ExpiringSoon groups the person's unused points expiring between asOf and
// monthsAhead months later (both ends inclusive), oldest month first.
func (s *ReportService) ExpiringSoon(ctx context.Context, actor domain.Actor, personID string, monthsAhead int, asOf time.Time) ([]ExpiringMonth, error) {
	if _, err := s.validator.CanAccess(ctx, actor, personID); err != nil {
		return nil, err
	}

	if monthsAhead <= 0 {
		monthsAhead = DefaultExpiringMonths
	}
	from := domain.DateOf(asOf)
	to := from.AddDate(0, monthsAhead, 0)

	var (
		entries []*domain.LedgerEntry
		used    map[string]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.ledgerRepo.ListExpiringBetween(gctx, personID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		used, err = s.usageRepo.UsedSet(gctx, personID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byMonth := make(map[string]*ExpiringMonth)
	for _, e := range entries {
		if used[e.ID] {
			continue
		}
		key := domain.MonthOf(e.ExpirationDate).String()
		m, ok := byMonth[key]
		if !ok {
			m = &ExpiringMonth{Month: key, Points: decimal.Zero}
			byMonth[key] = m
		}
		m.Points = m.Points.Add(domain.SumPoints([]*domain.LedgerEntry{e}))
		m.Entries = append(m.Entries, e)
	}

	out := make([]ExpiringMonth, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// MonthlySettlement computes the detailed report figures for a month.
func (s *ReportService) MonthlySettlement(ctx context.Context, actor domain.Actor, personID string, month domain.YearMonth) (*MonthlyReport, error) {
	if _, err := s.validator.CanAccess(ctx, actor, personID); err != nil {
		return nil, err
	}

	var (
		// Every entry expiring inside the month is also in the window.
		window   []*domain.LedgerEntry
		used     map[string]bool
		tasks    []*domain.TaskDefinition
		consumed []*domain.LedgerEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		window, err = s.ledgerRepo.ListForWindow(gctx, personID, month.End(), month.Start())
		return err
	})
	g.Go(func() error {
		var err error
		used, err = s.usageRepo.UsedSet(gctx, personID)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = s.taskRepo.List(gctx, false)
		return err
	})
	g.Go(func() error {
		var err error
		consumed, err = s.consumedBy(gctx, personID, month)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	executed := make([]*domain.LedgerEntry, 0)
	for _, e := range window {
		if month.Contains(e.ExecutionDate) {
			executed = append(executed, e)
		}
	}

	totalMensal := domain.SumPoints(executed)
	saldoTotal := domain.PartitionEntries(window, used, month).Balance(nil)
	expired := domain.SumPoints(domain.ExpiringWithin(window, used, month.Start(), month.End()))

	thisMonth, prior := splitByMonth(consumed, month)
	usedThisMonth := domain.SumPoints(thisMonth)

	return &MonthlyReport{
		PersonID:        personID,
		Month:           month.String(),
		Lines:           settlementLines(executed, tasks),
		TotalMensal:     totalMensal,
		SaldoTotal:      saldoTotal,
		PontosExpirados: expired,
		Settlement:      domain.ComputeSettlement(totalMensal, saldoTotal, expired),
		Metrics: MonthMetrics{
			Realized:       totalMensal,
			UsedThisMonth:  usedThisMonth,
			MonthlyBalance: decimal.Max(totalMensal.Sub(usedThisMonth), decimal.Zero),
			UsedPrior:      domain.SumPoints(prior),
			TotalUsed:      domain.SumPoints(consumed),
		},
	}, nil
}

// UsageStatement lists the entries consumed by the month's confirmed period.
// A month without confirmations yields an empty statement.
func (s *ReportService) UsageStatement(ctx context.Context, actor domain.Actor, personID string, month domain.YearMonth) (*UsageStatement, error) {
	if _, err := s.validator.CanAccess(ctx, actor, personID); err != nil {
		return nil, err
	}

	stmt := &UsageStatement{
		PersonID:    personID,
		Month:       month.String(),
		ThisMonth:   UsageGroup{Entries: []*domain.LedgerEntry{}, Total: decimal.Zero},
		PriorMonths: UsageGroup{Entries: []*domain.LedgerEntry{}, Total: decimal.Zero},
		Total:       decimal.Zero,
	}

	period, err := s.quotaRepo.GetConfirmed(ctx, personID, month)
	if errors.Is(err, domain.ErrQuotaPeriodNotFound) {
		return stmt, nil
	}
	if err != nil {
		return nil, err
	}
	stmt.QuotaPeriod = period

	consumed, err := s.usageRepo.ListConsumedEntries(ctx, period.ID)
	if err != nil {
		return nil, err
	}

	thisMonth, prior := splitByMonth(consumed, month)
	stmt.ThisMonth = UsageGroup{Entries: thisMonth, Total: domain.SumPoints(thisMonth)}
	stmt.PriorMonths = UsageGroup{Entries: prior, Total: domain.SumPoints(prior)}
	stmt.Total = stmt.ThisMonth.Total.Add(stmt.PriorMonths.Total)

	return stmt, nil
}

// Overview summarizes the last twelve months up to asOf and the points
// earned a year ago that are still unused and about to expire.
func (s *ReportService) Overview(ctx context.Context, actor domain.Actor, personID string, asOf time.Time) (*Overview, error) {
	if _, err := s.validator.CanAccess(ctx, actor, personID); err != nil {
		return nil, err
	}

	current := domain.MonthOf(asOf)
	first := current.AddMonths(-(overviewMonths - 1))
	next := current.AddMonths(1)
	prescribing := current.AddMonths(-12)

	var (
		earned, usedTotals []repository.MonthlyTotal
		oldEntries         []*domain.LedgerEntry
		used               map[string]bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		earned, err = s.ledgerRepo.EarnedByMonth(gctx, personID, first, next)
		return err
	})
	g.Go(func() error {
		var err error
		usedTotals, err = s.ledgerRepo.UsedByMonth(gctx, personID, first, next)
		return err
	})
	g.Go(func() error {
		var err error
		oldEntries, err = s.ledgerRepo.ListExecutedBetween(gctx, personID, prescribing.Start(), prescribing.End())
		return err
	})
	g.Go(func() error {
		var err error
		used, err = s.usageRepo.UsedSet(gctx, personID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	earnedBy := totalsByMonth(earned)
	usedBy := totalsByMonth(usedTotals)

	ov := &Overview{
		PersonID:         personID,
		Months:           make([]OverviewMonth, 0, overviewMonths),
		TotalEarned:      decimal.Zero,
		TotalUsed:        decimal.Zero,
		PrescribingMonth: prescribing.String(),
	}
	for m := first; m.Before(next); m = m.AddMonths(1) {
		row := OverviewMonth{
			Month:  m.String(),
			Earned: valueOrZero(earnedBy, m.String()),
			Used:   valueOrZero(usedBy, m.String()),
		}
		ov.TotalEarned = ov.TotalEarned.Add(row.Earned)
		ov.TotalUsed = ov.TotalUsed.Add(row.Used)
		ov.Months = append(ov.Months, row)
	}

	unused := make([]*domain.LedgerEntry, 0)
	for _, e := range oldEntries {
		if !used[e.ID] {
			unused = append(unused, e)
		}
	}
	ov.PrescribingPoints = decimal.Max(domain.SumPoints(unused), decimal.Zero)

	return ov, nil
}

// consumedBy returns the entries consumed by the month's confirmed period.
func (s *ReportService) consumedBy(ctx context.Context, personID string, month domain.YearMonth) ([]*domain.LedgerEntry, error) {
	period, err := s.quotaRepo.GetConfirmed(ctx, personID, month)
	if errors.Is(err, domain.ErrQuotaPeriodNotFound) {
		return []*domain.LedgerEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.usageRepo.ListConsumedEntries(ctx, period.ID)
}

// splitByMonth separates entries executed in month from older ones.
func splitByMonth(entries []*domain.LedgerEntry, month domain.YearMonth) (thisMonth, prior []*domain.LedgerEntry) {
	thisMonth = make([]*domain.LedgerEntry, 0)
	prior = make([]*domain.LedgerEntry, 0)
	for _, e := range entries {
		if month.Contains(e.ExecutionDate) {
			thisMonth = append(thisMonth, e)
		} else {
			prior = append(prior, e)
		}
	}
	return thisMonth, prior
}

// settlementLines aggregates executed entries by code and frozen point value,
// ordered by code.
func settlementLines(executed []*domain.LedgerEntry, tasks []*domain.TaskDefinition) []SettlementLine {
	descriptions := make(map[string]string, len(tasks))
	for _, t := range tasks {
		descriptions[t.Code] = t.Description
	}

	type key struct {
		code  string
		value string
	}
	index := make(map[key]int)
	lines := make([]SettlementLine, 0)

	for _, e := range executed {
		k := key{code: e.TaskCode, value: e.PointValue.String()}
		i, ok := index[k]
		if !ok {
			i = len(lines)
			index[k] = i
			lines = append(lines, SettlementLine{
				TaskCode:    e.TaskCode,
				Description: descriptions[e.TaskCode],
				PointValue:  e.PointValue,
				Total:       decimal.Zero,
			})
		}
		qty := max(e.Quantity, 1)
		lines[i].Quantity += qty
		lines[i].Total = lines[i].Total.Add(e.PointValue.Mul(decimal.NewFromInt(int64(qty))))
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].TaskCode != lines[j].TaskCode {
			return lines[i].TaskCode < lines[j].TaskCode
		}
		return lines[i].PointValue.LessThan(lines[j].PointValue)
	})
	return lines
}

func totalsByMonth(totals []repository.MonthlyTotal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(totals))
	for _, t := range totals {
		out[t.Month] = t.Points
	}
	return out
}

func valueOrZero(m map[string]decimal.Decimal, key string) decimal.Decimal {
	if v, ok := m[key]; ok {
		return v
	}
	return decimal.Zero
}
