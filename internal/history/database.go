package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const bootstrapDatabase = "default"

// bootstrapOptions parses dsn and points the connection at the default
// database so the target database can be created before it is used. It
// returns the target database name, empty when the DSN names none.
func bootstrapOptions(dsn string) (*clickhouse.Options, string, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("parsing dsn: %w", err)
	}

	target := opts.Auth.Database
	if target == bootstrapDatabase {
		target = ""
	}

	opts.Auth.Database = bootstrapDatabase

	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}

	return opts, target, nil
}

func createDatabaseQuery(name string) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
}

// ensureDatabase creates the DSN's database over the native protocol.
func (s *store) ensureDatabase(ctx context.Context) error {
	opts, target, err := bootstrapOptions(s.dsn)
	if err != nil {
		return err
	}

	if target == "" {
		return nil
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer func(c driver.Conn) {
		_ = c.Close()
	}(conn)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, createDatabaseQuery(target)); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}

	s.log.WithField("database", target).Debug("history database ready")

	return nil
}
