// Package history persists execution reports to ClickHouse.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // registers the clickhouse database/sql driver
	"github.com/ethpandaops/atrunner/internal/testcase"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	migrationsTable = "schema_migrations"
	defaultLimit    = 20
)

var (
	// ErrNotStarted is returned when the store is used before Start.
	ErrNotStarted = errors.New("history store not started")

	errNoDSN = errors.New("no history DSN configured")
)

// Summary is one stored run.
type Summary struct {
	RunID    string
	CaseID   string
	CaseName string
	Status   testcase.CaseStatus
	Start    time.Time
	Duration time.Duration
	Total    int
	Passed   int
	Failed   int
	Warnings int
	Errors   int
	Paused   bool
}

// Store records execution results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error
	Save(ctx context.Context, result *testcase.ExecutionResult) error
	Recent(ctx context.Context, limit int) ([]Summary, error)
}

type store struct {
	log logrus.FieldLogger
	dsn string
	db  *sql.DB
}

// NewStore creates a ClickHouse-backed store for dsn.
func NewStore(log logrus.FieldLogger, dsn string) Store {
	return &store{
		log: log.WithField("component", "history_store"),
		dsn: dsn,
	}
}

func (s *store) Start(ctx context.Context) error {
	if s.dsn == "" {
		return errNoDSN
	}

	s.log.Debug("starting history store")

	if err := s.ensureDatabase(ctx); err != nil {
		return err
	}

	db, err := sql.Open("clickhouse", s.dsn)
	if err != nil {
		return fmt.Errorf("opening clickhouse connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("pinging clickhouse: %w", err)
	}

	if err := s.migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.log.Info("history store started")

	return nil
}

func (s *store) migrate(ctx context.Context, db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("creating source driver: %w", err)
	}

	driver, err := clickhouse.WithInstance(db, &clickhouse.Config{
		MigrationsTable:       migrationsTable,
		MigrationsTableEngine: "MergeTree",
		MultiStatementEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("creating clickhouse driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "clickhouse", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			done <- fmt.Errorf("running migrations: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("migration canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return err
		}
	}

	s.log.Debug("history migrations applied")

	return nil
}

func (s *store) Stop() error {
	s.log.Debug("stopping history store")

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing connection: %w", err)
		}
		s.db = nil
	}

	return nil
}

const insertResult = `INSERT INTO execution_results
	(run_id, case_id, case_name, status, start_time, end_time, duration_ms,
	 total_commands, passed_commands, failed_commands, warnings, errors, paused)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertFailure = `INSERT INTO execution_failures
	(run_id, position, case_id, command_index, command, error, severity, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Save writes the run row and one row per recorded failure.
func (s *store) Save(ctx context.Context, r *testcase.ExecutionResult) error {
	if s.db == nil {
		return ErrNotStarted
	}

	if _, err := s.db.ExecContext(ctx, insertResult,
		r.RunID,
		r.CaseID,
		r.CaseName,
		string(r.Status),
		r.StartTime.UTC(),
		r.EndTime.UTC(),
		uint64(r.Duration.Milliseconds()),
		uint32(r.TotalCommands),
		uint32(r.PassedCommands),
		uint32(r.FailedCommands),
		uint32(r.Warnings),
		uint32(r.Errors),
		r.Paused,
	); err != nil {
		return fmt.Errorf("inserting execution result: %w", err)
	}

	if len(r.Failures) > 0 {
		if err := s.saveFailures(ctx, r); err != nil {
			return err
		}
	}

	s.log.WithFields(logrus.Fields{
		"run_id":   r.RunID,
		"failures": len(r.Failures),
	}).Debug("saved execution result")

	return nil
}

// saveFailures batches failure rows in one transaction, which clickhouse-go
// sends as a single block.
func (s *store) saveFailures(ctx context.Context, r *testcase.ExecutionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning failure batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertFailure)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("preparing failure batch: %w", err)
	}

	for i, f := range r.Failures {
		if _, err := stmt.ExecContext(ctx,
			r.RunID,
			uint32(i),
			f.CaseID,
			int32(f.CommandIndex),
			f.Command,
			f.Error,
			string(f.Severity),
			f.Timestamp.UTC(),
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("appending failure %d: %w", i, err)
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("closing failure batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing failure batch: %w", err)
	}

	return nil
}

const selectRecent = `SELECT run_id, case_id, case_name, status, start_time, duration_ms,
	total_commands, passed_commands, failed_commands, warnings, errors, paused
	FROM execution_results
	ORDER BY start_time DESC
	LIMIT ?`

// Recent returns the latest runs, newest first.
func (s *store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if s.db == nil {
		return nil, ErrNotStarted
	}

	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("querying execution results: %w", err)
	}
	defer rows.Close()

	var out []Summary

	for rows.Next() {
		var (
			sum                                   Summary
			status                                string
			durationMs                            uint64
			total, passed, failed, warnings, errs uint32
		)

		if err := rows.Scan(
			&sum.RunID,
			&sum.CaseID,
			&sum.CaseName,
			&status,
			&sum.Start,
			&durationMs,
			&total,
			&passed,
			&failed,
			&warnings,
			&errs,
			&sum.Paused,
		); err != nil {
			return nil, fmt.Errorf("scanning execution result: %w", err)
		}

		sum.Status = testcase.CaseStatus(status)
		sum.Duration = time.Duration(durationMs) * time.Millisecond
		sum.Total = int(total)
		sum.Passed = int(passed)
		sum.Failed = int(failed)
		sum.Warnings = int(warnings)
		sum.Errors = int(errs)

		out = append(out, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading execution results: %w", err)
	}

	return out, nil
}

var _ Store = (*store)(nil)

// newStoreWithDB wraps an open connection without running migrations.
func newStoreWithDB(log logrus.FieldLogger, db *sql.DB) *store {
	return &store{
		log: log.WithField("component", "history_store"),
		db:  db,
	}
}
