// Package migrate drives the board-by-board copy of koko posts into vichan.
package migrate

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maneesh/koko2vichan/internal/checkpoint"
	"github.com/maneesh/koko2vichan/internal/files"
	"github.com/maneesh/koko2vichan/internal/logging"
	"github.com/maneesh/koko2vichan/internal/models"
)

var tracer = otel.Tracer("koko2vichan-migrate")

// DefaultPageSize is the number of koko rows fetched per iteration.
const DefaultPageSize = 100

// Source reads koko posts after a cursor in ascending post number order.
type Source interface {
	Ping(ctx context.Context) error
	FetchRows(ctx context.Context, afterNo int64, maxRows int) ([]*models.SourceRow, error)
}

// Target writes vichan posts and returns the last inserted id.
type Target interface {
	Ping(ctx context.Context) error
	InsertPosts(ctx context.Context, posts []*models.VichanPost) (int64, error)
}

// MediaMirror copies post attachments and probes the destination tree.
type MediaMirror interface {
	CopyPost(ctx context.Context, row *models.SourceRow) error
	Exists(ctx context.Context) files.ExistsFunc
}

// Unit is one koko board migrated into one vichan board.
type Unit struct {
	KokoBoard   string
	VichanBoard string
	Source      Source
	Target      Target
	// Media is optional; without it attachments are not copied.
	Media MediaMirror
}

// Orchestrator migrates units one after another, checkpointing after every page.
type Orchestrator struct {
	store    checkpoint.Store
	pageSize int
}

// NewOrchestrator creates an orchestrator persisting progress in store.
func NewOrchestrator(store checkpoint.Store, pageSize int) *Orchestrator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Orchestrator{store: store, pageSize: pageSize}
}

// Run migrates every unit in order. The first error aborts the run; progress
// up to the last committed page stays in the checkpoint store.
func (o *Orchestrator) Run(ctx context.Context, units []Unit) error {
	ctx, span := tracer.Start(ctx, "migrate.run",
		trace.WithAttributes(attribute.Int("unit_count", len(units))),
	)
	defer span.End()

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.MigrateUnit(ctx, unit); err != nil {
			span.RecordError(err)
			return err
		}
	}

	logging.Info("migrate", "run", "All board migrations are complete")
	return nil
}

// MigrateUnit runs one board to completion, resuming from its checkpoint.
// A board already marked completed is skipped without touching the source.
func (o *Orchestrator) MigrateUnit(ctx context.Context, unit Unit) error {
	ctx, span := tracer.Start(ctx, "migrate.unit",
		trace.WithAttributes(
			attribute.String("koko_board", unit.KokoBoard),
			attribute.String("vichan_board", unit.VichanBoard),
		),
	)
	defer span.End()

	cp, err := o.store.Load(ctx, unit.KokoBoard)
	if err != nil {
		span.RecordError(err)
		return err
	}

	state := checkpoint.StateOf(cp)
	span.SetAttributes(attribute.String("state", state.String()))

	switch state {
	case checkpoint.Completed:
		logging.Info("migrate", "unit", fmt.Sprintf("Skipping already migrated koko board %s", unit.KokoBoard))
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil
	case checkpoint.NotStarted:
		cp = checkpoint.New()
		if err := o.store.Save(ctx, unit.KokoBoard, cp); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create checkpoint for board %s: %w", unit.KokoBoard, err)
		}
		logging.Info("migrate", "unit", fmt.Sprintf("Beginning migration of koko board %s...", unit.KokoBoard))
	default:
		if cp.LastProcessedID > 0 {
			logging.Info("migrate", "unit", fmt.Sprintf("Resuming migration of koko board %s from post no. %d...", unit.KokoBoard, cp.LastProcessedID))
		} else {
			logging.Info("migrate", "unit", fmt.Sprintf("Beginning migration of koko board %s...", unit.KokoBoard))
		}
	}

	if err := unit.Source.Ping(ctx); err != nil {
		logging.Error("migrate", "unit", "Failed to connect to koko database")
		span.RecordError(err)
		return err
	}
	if err := unit.Target.Ping(ctx); err != nil {
		logging.Error("migrate", "unit", "Failed to connect to vichan database")
		span.RecordError(err)
		return err
	}

	pages := 0
	for {
		n, err := o.migratePage(ctx, unit, cp)
		if err != nil {
			span.RecordError(err)
			return err
		}
		pages++
		if n < o.pageSize {
			break
		}
	}

	cp.Complete()
	if err := o.store.Save(ctx, unit.KokoBoard, cp); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark board %s completed: %w", unit.KokoBoard, err)
	}

	span.SetAttributes(
		attribute.Int("pages", pages),
		attribute.Int64("last_post_no", cp.LastProcessedID),
		attribute.Int("thread_count", cp.Threads.Len()),
	)
	logging.Info("migrate", "unit", fmt.Sprintf("Successfully migrated posts from koko board %s to vichan board %s", unit.KokoBoard, unit.VichanBoard))
	return nil
}

// migratePage fetches, copies, inserts and checkpoints one page. It returns
// the number of rows fetched.
func (o *Orchestrator) migratePage(ctx context.Context, unit Unit, cp *checkpoint.Checkpoint) (int, error) {
	rows, err := unit.Source.FetchRows(ctx, cp.LastProcessedID, o.pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch posts of koko board %s after %d: %w", unit.KokoBoard, cp.LastProcessedID, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var exists files.ExistsFunc
	if unit.Media != nil {
		for _, row := range rows {
			if err := unit.Media.CopyPost(ctx, row); err != nil {
				return 0, err
			}
		}
		exists = unit.Media.Exists(ctx)
	}

	inserter := NewInserter(unit.VichanBoard, unit.Target, cp.Threads, exists)
	for _, batch := range Batch(rows) {
		if err := inserter.InsertBatch(ctx, batch); err != nil {
			return 0, err
		}
	}

	first, last := rows[0].No, rows[len(rows)-1].No
	if err := cp.Advance(last); err != nil {
		return 0, err
	}
	if err := o.store.Save(ctx, unit.KokoBoard, cp); err != nil {
		return 0, fmt.Errorf("failed to save checkpoint for board %s: %w", unit.KokoBoard, err)
	}

	logging.Info("migrate", "page", fmt.Sprintf("Migrated post no. %d-%d...", first, last))
	return len(rows), nil
}
