// Package testutil provides a shared PostgreSQL database for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mtlprog/pointledger/internal/database"
)

// PostgresImage is the image started when DATABASE_URL is not set.
const PostgresImage = "postgres:16-alpine"

var (
	sharedPool     *pgxpool.Pool
	sharedPoolOnce sync.Once
	sharedPoolErr  error
)

// Pool returns a migrated connection pool shared by every test in the binary.
// DATABASE_URL selects an existing server; otherwise a container is started.
// Integration tests are skipped with -short.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires PostgreSQL)")
	}

	sharedPoolOnce.Do(func() {
		sharedPool, sharedPoolErr = setup()
	})

	if sharedPoolErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedPoolErr)
	}

	return sharedPool
}

func setup() (*pgxpool.Pool, error) {
	ctx := context.Background()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		url, err := startContainer(ctx)
		if err != nil {
			return nil, err
		}
		databaseURL = url
	}

	db, err := database.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db.Pool(), nil
}

func startContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "pointledger",
			"POSTGRES_USER":     "pointledger",
			"POSTGRES_PASSWORD": "pointledger",
		},
		// The server restarts once after initdb.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}

	return fmt.Sprintf("postgres://pointledger:pointledger@%s:%s/pointledger?sslmode=disable",
		host, port.Port()), nil
}

// Reset empties every table.
func Reset(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		"TRUNCATE usage_links, quota_periods, ledger_entries, tasks, people CASCADE")
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
