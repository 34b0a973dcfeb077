package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/koko2vichan/internal/errors"
	"github.com/maneesh/koko2vichan/internal/models"
)

var vichanColumns = []string{
	"thread", "subject", "email", "name", "trip", "body", "body_nomarkup", "time", "bump",
	"files", "num_files", "filehash", "password", "ip", "slug", "sticky", "locked", "cycle", "sage",
}

// VichanTable returns the posts table of a vichan board. database may be
// empty when the DSN already selects the vichan schema.
func VichanTable(database, board string) string {
	return qualify(database, "posts_"+board)
}

// VichanWriter inserts migrated posts into one vichan board.
type VichanWriter struct {
	db    *sql.DB
	table string
}

// NewVichanWriter creates a writer over a quoted table reference.
func NewVichanWriter(db *sql.DB, table string) *VichanWriter {
	return &VichanWriter{db: db, table: table}
}

// Ping verifies the vichan database is reachable.
func (vw *VichanWriter) Ping(ctx context.Context) error {
	if err := ping(ctx, vw.db); err != nil {
		return errors.NewConnectivity("vichan database", err)
	}
	return nil
}

// InsertPosts writes posts in one statement and returns the auto-increment id
// the database reports for it, which is the new post id for single-row inserts.
func (vw *VichanWriter) InsertPosts(ctx context.Context, posts []*models.VichanPost) (int64, error) {
	ctx, span := tracer.Start(ctx, "vichan.insert_posts",
		trace.WithAttributes(
			attribute.String("table", vw.table),
			attribute.Int("post_count", len(posts)),
		),
	)
	defer span.End()

	if len(posts) == 0 {
		return 0, nil
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(vichanColumns)), ", ") + ")"
	values := make([]string, len(posts))
	args := make([]any, 0, len(posts)*len(vichanColumns))
	for i, p := range posts {
		values[i] = placeholder
		args = append(args,
			p.Thread, p.Subject, p.Email, p.Name, p.Trip, p.Body, p.BodyNoMarkup, p.Time, p.Bump,
			p.Files, p.NumFiles, p.FileHash, p.Password, p.IP, p.Slug, p.Sticky, p.Locked, p.Cycle, p.Sage,
		)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		vw.table, columnList(vichanColumns...), strings.Join(values, ", "))

	result, err := vw.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to insert posts: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}

	span.SetAttributes(attribute.Int64("last_insert_id", id))
	return id, nil
}
