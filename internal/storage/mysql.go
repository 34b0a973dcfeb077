package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("koko2vichan-storage")

// OpenMySQL opens a MariaDB/MySQL pool. The connection is verified by Ping
// on the reader or writer built on top of it.
func OpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pages are processed one at a time; a small pool is enough
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// quoteIdent quotes a MySQL identifier with backticks.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// columnList quotes and comma-joins column names.
func columnList(names ...string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// qualify joins an optional schema and a table into a quoted reference.
func qualify(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}
