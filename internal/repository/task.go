package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/domain"
	"github.com/shopspring/decimal"
)

// taskColumns is the shared list of columns for catalog task queries.
var taskColumns = []string{"code", "description", "point_value", "is_active", "updated_at"}

// TaskRepository handles database operations for the task catalog.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// scanTask scans a single row into a TaskDefinition.
func scanTask(row pgx.Row) (*domain.TaskDefinition, error) {
	var task domain.TaskDefinition
	err := row.Scan(
		&task.Code,
		&task.Description,
		&task.PointValue,
		&task.IsActive,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown task code", domain.ErrCatalogTaskInactive)
		}
		return nil, persistence("scan task", err)
	}
	return &task, nil
}

// scanTasks scans multiple rows into a slice of TaskDefinition.
func scanTasks(rows pgx.Rows) ([]*domain.TaskDefinition, error) {
	defer rows.Close()

	tasks := make([]*domain.TaskDefinition, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate tasks", err)
	}
	return tasks, nil
}

// List returns catalog tasks ordered by code. activeOnly hides retired codes.
func (r *TaskRepository) List(ctx context.Context, activeOnly bool) ([]*domain.TaskDefinition, error) {
	qb := psql.Select(taskColumns...).From("tasks").OrderBy("code ASC")
	if activeOnly {
		qb = qb.Where(sq.Eq{"is_active": true})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build List query for tasks: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query tasks", err)
	}
	return scanTasks(rows)
}

// GetByCode retrieves a task by code within a transaction.
// An unknown code is reported as ErrCatalogTaskInactive.
func (r *TaskRepository) GetByCode(ctx context.Context, tx pgx.Tx, code string) (*domain.TaskDefinition, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"code": code}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByCode query for task %s: %w", code, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// ListForUpdate locks and returns every catalog row (within transaction).
func (r *TaskRepository) ListForUpdate(ctx context.Context, tx pgx.Tx) ([]*domain.TaskDefinition, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		OrderBy("code ASC").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListForUpdate query for tasks: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("lock tasks", err)
	}
	return scanTasks(rows)
}

// Insert adds a new active catalog task.
func (r *TaskRepository) Insert(ctx context.Context, tx pgx.Tx, code, description string, pointValue decimal.Decimal) error {
	query, args, err := psql.
		Insert("tasks").
		Columns("code", "description", "point_value", "is_active").
		Values(code, description, pointValue, true).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Insert query for task %s: %w", code, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return persistence("insert task", err)
	}
	return nil
}

// Update overwrites description, point value and active flag of a task.
func (r *TaskRepository) Update(ctx context.Context, tx pgx.Tx, code, description string, pointValue decimal.Decimal, active bool) error {
	query, args, err := psql.
		Update("tasks").
		Set("description", description).
		Set("point_value", pointValue).
		Set("is_active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"code": code}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Update query for task %s: %w", code, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return persistence("update task", err)
	}
	return nil
}

// Deactivate marks the given codes inactive. Rows are never deleted.
func (r *TaskRepository) Deactivate(ctx context.Context, tx pgx.Tx, codes []string) error {
	if len(codes) == 0 {
		return nil
	}

	query, args, err := psql.
		Update("tasks").
		Set("is_active", false).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"code": codes}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Deactivate query for tasks: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return persistence("deactivate tasks", err)
	}
	return nil
}
