package migrations

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	chstore "dtp-claims/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the claims database named in dsn if needed
// and applies the embedded schema, one statement at a time. Every statement is
// IF NOT EXISTS, so it runs on each start. Returns a connection to the claims database.
func RunClickhouseMigrations(ctx context.Context, dsn string, logger *log.Logger) (*chstore.Conn, error) {
	if logger == nil {
		logger = log.Default()
	}

	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		conn.Close()
		return nil, err
	}

	for _, m := range files {
		if err := validateNoSemicolonInStrings(m.sql); err != nil {
			conn.Close()
			return nil, fmt.Errorf("validate migration %s: %w", m.name, err)
		}

		// The driver does not support multi-statement Exec.
		for _, stmt := range splitStatements(m.sql) {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.name, err)
			}
		}
		logger.Printf("applied clickhouse migration %s", m.name)
	}

	return conn, nil
}

// splitStatements splits SQL content into statements by semicolon after
// dropping blank and "--" comment lines. It does not understand string
// literals or block comments; validateNoSemicolonInStrings guards the former.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with a semicolon inside a
// single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			// '' is an escaped quote
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		} else if ch == ';' && inString {
			return fmt.Errorf("semicolon inside string literal at offset %d", i)
		}
	}
	return nil
}

// identifier matches database names safe to interpolate into DDL.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// databaseFromDSN returns the target database, which must be named.
func databaseFromDSN(dsn string) (string, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := opts.Auth.Database
	switch {
	case db == "" || db == "default":
		return "", fmt.Errorf("clickhouse dsn must name the claims database")
	case !identifier.MatchString(db):
		return "", fmt.Errorf("clickhouse database %q is not a plain identifier", db)
	}
	return db, nil
}
