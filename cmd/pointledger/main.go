// @title			PointLedger API
// @version		1.0
// @description	Productivity points ledger: accrual, expiration and monthly quota reconciliation.
// @BasePath		/api/v1

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtlprog/pointledger/internal/catalog"
	"github.com/mtlprog/pointledger/internal/config"
	"github.com/mtlprog/pointledger/internal/database"
	"github.com/mtlprog/pointledger/internal/handler"
	"github.com/mtlprog/pointledger/internal/logger"
	"github.com/mtlprog/pointledger/internal/repository"
	"github.com/mtlprog/pointledger/internal/service"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "pointledger",
		Usage: "Productivity points ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   config.DefaultLogLevel,
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"d"},
				Value:    config.DefaultDatabaseURL,
				Usage:    "PostgreSQL database URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "catalog-file",
				Aliases: []string{"c"},
				Value:   config.DefaultCatalogFile,
				Usage:   "TOML task catalog (defaults to the embedded table)",
				EnvVars: []string{"CATALOG_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
					&cli.BoolFlag{
						Name:    "skip-sync",
						Usage:   "Do not synchronize the task catalog on startup",
						EnvVars: []string{"SKIP_CATALOG_SYNC"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "sync-catalog",
				Usage:  "Reconcile the tasks table with the reference catalog",
				Action: runSyncCatalog,
			},
			{
				Name:  "migrate",
				Usage: "Manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply all pending migrations",
						Action: runMigrateUp,
					},
					{
						Name:   "down",
						Usage:  "Roll back the latest migration",
						Action: runMigrateDown,
					},
					{
						Name:   "version",
						Usage:  "Print the current schema version",
						Action: runMigrateVersion,
					},
				},
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// catalogLoader reads the reference table from --catalog-file, or the
// embedded one when the flag is empty.
func catalogLoader(c *cli.Context) handler.CatalogLoader {
	path := c.String("catalog-file")
	if path == "" {
		return catalog.Default
	}
	return func() ([]catalog.Item, error) {
		return catalog.Load(path)
	}
}

// connect opens the pool and brings the schema up to date.
func connect(c *cli.Context) (*database.DB, error) {
	ctx := c.Context

	db, err := database.New(ctx, c.String("database-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func syncCatalog(ctx context.Context, db *database.DB, load handler.CatalogLoader) (service.SyncResult, error) {
	items, err := load()
	if err != nil {
		return service.SyncResult{}, fmt.Errorf("failed to load catalog: %w", err)
	}

	pool := db.Pool()
	svc := service.NewCatalogService(pool, repository.NewTaskRepository(pool), repository.NewPersonRepository(pool))
	return svc.Synchronize(ctx, items)
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}

	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	load := catalogLoader(c)
	if !c.Bool("skip-sync") {
		if _, err := syncCatalog(ctx, db, load); err != nil {
			return fmt.Errorf("failed to synchronize catalog: %w", err)
		}
	}

	h := handler.New(db.Pool(), load)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           h.Router(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func runSyncCatalog(c *cli.Context) error {
	db, err := connect(c)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := syncCatalog(c.Context, db, catalogLoader(c))
	if err != nil {
		return err
	}

	fmt.Printf("inserted=%d reactivated=%d updated=%d deactivated=%d\n",
		result.Inserted, result.Reactivated, result.Updated, result.Deactivated)
	return nil
}

func runMigrateUp(c *cli.Context) error {
	db, err := connect(c)
	if err != nil {
		return err
	}
	db.Close()
	return nil
}

func runMigrateDown(c *cli.Context) error {
	db, err := database.New(c.Context, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RollbackMigration(c.Context, db.Pool()); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

func runMigrateVersion(c *cli.Context) error {
	db, err := database.New(c.Context, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, err := database.MigrationVersion(c.Context, db.Pool())
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	fmt.Println(version)
	return nil
}
