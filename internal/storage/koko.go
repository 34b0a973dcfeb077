package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/koko2vichan/internal/errors"
	"github.com/maneesh/koko2vichan/internal/models"
)

var kokoColumns = columnList(
	"no", "resto", "time", "md5chksum", "tim", "fname", "ext", "imgw", "imgh",
	"imgsize", "tw", "th", "pwd", "name", "email", "sub", "com", "host",
)

// KokoTable returns the imglog table of a koko board; each board lives in
// its own database named <prefix><board>.
func KokoTable(dbNamePrefix, board string) string {
	return qualify(dbNamePrefix+board, "imglog")
}

// KokoReader reads posts of one koko board in ascending post number order.
type KokoReader struct {
	db    *sql.DB
	table string
}

// NewKokoReader creates a reader over a quoted table reference.
func NewKokoReader(db *sql.DB, table string) *KokoReader {
	return &KokoReader{db: db, table: table}
}

// Ping verifies the koko database is reachable.
func (kr *KokoReader) Ping(ctx context.Context) error {
	if err := ping(ctx, kr.db); err != nil {
		return errors.NewConnectivity("koko database", err)
	}
	return nil
}

// FetchRows returns up to maxRows posts with no > afterNo, ordered by no.
func (kr *KokoReader) FetchRows(ctx context.Context, afterNo int64, maxRows int) ([]*models.SourceRow, error) {
	ctx, span := tracer.Start(ctx, "koko.fetch_rows",
		trace.WithAttributes(
			attribute.String("table", kr.table),
			attribute.Int64("after_no", afterNo),
			attribute.Int("max_rows", maxRows),
		),
	)
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %[3]s > ? ORDER BY %[3]s ASC LIMIT ?",
		kokoColumns, kr.table, quoteIdent("no"))

	rows, err := kr.db.QueryContext(ctx, query, afterNo, maxRows)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var result []*models.SourceRow
	for rows.Next() {
		row, err := scanKokoRow(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

	span.SetAttributes(attribute.Int("row_count", len(result)))
	return result, nil
}

func scanKokoRow(rows *sql.Rows) (*models.SourceRow, error) {
	var (
		row                                      models.SourceRow
		resto, tim, imgw, imgh, tw, th, postTime sql.NullInt64
		md5, fname, ext, imgsize, pwd            sql.NullString
		name, email, sub, com, host              sql.NullString
	)
	err := rows.Scan(
		&row.No, &resto, &postTime, &md5, &tim, &fname, &ext, &imgw, &imgh,
		&imgsize, &tw, &th, &pwd, &name, &email, &sub, &com, &host,
	)
	if err != nil {
		return nil, err
	}

	row.Resto = resto.Int64
	row.Time = postTime.Int64
	row.MD5Chksum = md5.String
	row.Tim = tim.Int64
	row.Fname = fname.String
	row.Ext = ext.String
	row.ImgW = int(imgw.Int64)
	row.ImgH = int(imgh.Int64)
	row.ImgSize = imgsize.String
	row.TW = int(tw.Int64)
	row.TH = int(th.Int64)
	row.Pwd = pwd.String
	row.Name = name.String
	row.Email = email.String
	row.Sub = sub.String
	row.Com = com.String
	row.Host = host.String
	return &row, nil
}
