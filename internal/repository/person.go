package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/pointledger/internal/domain"
)

var personColumns = []string{
	"id", "name", "registration", "role", "sector_id", "team_id",
	"leader_id", "is_active", "created_at",
}

// PersonRepository reads the people relation. People are maintained outside
// this service, so there are no write methods.
type PersonRepository struct {
	pool *pgxpool.Pool
}

// NewPersonRepository creates a new PersonRepository.
func NewPersonRepository(pool *pgxpool.Pool) *PersonRepository {
	return &PersonRepository{pool: pool}
}

func scanPerson(row pgx.Row) (*domain.Person, error) {
	var p domain.Person
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Registration,
		&p.Role,
		&p.SectorID,
		&p.TeamID,
		&p.LeaderID,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPersonNotFound
		}
		return nil, persistence("scan person", err)
	}
	return &p, nil
}

// GetByID retrieves a person by ID.
func (r *PersonRepository) GetByID(ctx context.Context, personID string) (*domain.Person, error) {
	query, args, err := psql.
		Select(personColumns...).
		From("people").
		Where(sq.Eq{"id": personID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for person: %w", err)
	}

	return scanPerson(r.pool.QueryRow(ctx, query, args...))
}

// ListActive returns every active person ordered by name.
func (r *PersonRepository) ListActive(ctx context.Context) ([]*domain.Person, error) {
	query, args, err := psql.
		Select(personColumns...).
		From("people").
		Where(sq.Eq{"is_active": true}).
		OrderBy("name ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListActive query for people: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistence("query people", err)
	}
	defer rows.Close()

	people := make([]*domain.Person, 0)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate people", err)
	}
	return people, nil
}
