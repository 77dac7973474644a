package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/catalog"
	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/mtlprog/pointledger/internal/metrics"
	"github.com/mtlprog/pointledger/internal/repository"
)

// SyncResult counts the catalog changes applied by one synchronization.
// A reactivated task whose description or value also changed counts in
// both Reactivated and Updated.
type SyncResult struct {
	Inserted    int `json:"inserted"`
	Reactivated int `json:"reactivated"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
}

// CatalogService reconciles the tasks table with the reference table.
type CatalogService struct {
	pool      *pgxpool.Pool
	taskRepo  *repository.TaskRepository
	validator *Validator
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	personRepo *repository.PersonRepository,
) *CatalogService {
	return &CatalogService{
		pool:      pool,
		taskRepo:  taskRepo,
		validator: NewValidator(personRepo),
	}
}

// ListTasks returns the catalog. activeOnly hides retired codes.
func (s *CatalogService) ListTasks(ctx context.Context, activeOnly bool) ([]*domain.TaskDefinition, error) {
	return s.taskRepo.List(ctx, activeOnly)
}

// SynchronizeAs runs Synchronize on behalf of an administrator.
func (s *CatalogService) SynchronizeAs(ctx context.Context, actor domain.Actor, items []catalog.Item) (SyncResult, error) {
	if err := s.validator.RequireRole(ctx, actor, domain.RoleAdmin); err != nil {
		return SyncResult{}, err
	}
	return s.Synchronize(ctx, items)
}

// Synchronize inserts unknown codes, reactivates and updates known ones and
// deactivates active codes missing from items. Ledger entries keep the point
// values they were accrued with.
func (s *CatalogService) Synchronize(ctx context.Context, items []catalog.Item) (SyncResult, error) {
	var result SyncResult

	if err := catalog.Validate(items); err != nil {
		return result, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: begin transaction: %w", domain.ErrPersistenceFailure, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err.Error() != "tx is closed" {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	existing, err := s.taskRepo.ListForUpdate(ctx, tx)
	if err != nil {
		return result, err
	}

	byCode := make(map[string]*domain.TaskDefinition, len(existing))
	for _, t := range existing {
		byCode[t.Code] = t
	}

	reference := make(map[string]bool, len(items))
	for _, item := range items {
		reference[item.Code] = true

		task, ok := byCode[item.Code]
		if !ok {
			if err := s.taskRepo.Insert(ctx, tx, item.Code, item.Description, item.Points); err != nil {
				return result, err
			}
			result.Inserted++
			continue
		}

		reactivate := !task.IsActive
		changed := task.Differs(item.Description, item.Points)
		if !reactivate && !changed {
			continue
		}

		if err := s.taskRepo.Update(ctx, tx, item.Code, item.Description, item.Points, true); err != nil {
			return result, err
		}
		if reactivate {
			result.Reactivated++
		}
		if changed {
			result.Updated++
		}
	}

	retired := make([]string, 0)
	for _, t := range existing {
		if t.IsActive && !reference[t.Code] {
			retired = append(retired, t.Code)
		}
	}
	if err := s.taskRepo.Deactivate(ctx, tx, retired); err != nil {
		return result, err
	}
	result.Deactivated = len(retired)

	if err := tx.Commit(ctx); err != nil {
		return SyncResult{}, fmt.Errorf("%w: commit transaction: %w", domain.ErrPersistenceFailure, err)
	}

	metrics.CatalogSyncChanges.WithLabelValues("inserted").Add(float64(result.Inserted))
	metrics.CatalogSyncChanges.WithLabelValues("reactivated").Add(float64(result.Reactivated))
	metrics.CatalogSyncChanges.WithLabelValues("updated").Add(float64(result.Updated))
	metrics.CatalogSyncChanges.WithLabelValues("deactivated").Add(float64(result.Deactivated))

	slog.Info("catalog synchronized",
		"reference_size", len(items),
		"inserted", result.Inserted,
		"reactivated", result.Reactivated,
		"updated", result.Updated,
		"deactivated", result.Deactivated,
	)

	return result, nil
}
