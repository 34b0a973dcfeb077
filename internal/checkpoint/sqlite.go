package checkpoint

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/maneesh/koko2vichan/internal/errors"
)

// CheckpointRecord is the SQLite row behind one board's checkpoint.
type CheckpointRecord struct {
	ID              uint   `gorm:"primarykey"`
	Unit            string `gorm:"uniqueIndex;size:64;not null"`
	Completed       bool
	LastProcessedID int64
	ThreadMappings  string `gorm:"type:text;not null"`
	UpdatedAt       time.Time
}

func (CheckpointRecord) TableName() string {
	return "migration_checkpoint"
}

// SQLiteStore keeps checkpoints in a local SQLite database.
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// OpenSQLiteStore opens (or creates) the database at path and migrates its schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.NewCheckpointCorrupt(path, err)
	}
	if err := db.AutoMigrate(&CheckpointRecord{}); err != nil {
		return nil, errors.NewCheckpointCorrupt(path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Load reads a board's checkpoint.
func (ss *SQLiteStore) Load(ctx context.Context, unit string) (*Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "sqlite.load_checkpoint",
		trace.WithAttributes(
			attribute.String("unit", unit),
		),
	)
	defer span.End()

	var rec CheckpointRecord
	err := ss.db.WithContext(ctx).Where("unit = ?", unit).First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", unit, err)
	}

	threads := NewThreadMap()
	if err := json.Unmarshal([]byte(rec.ThreadMappings), threads); err != nil {
		span.RecordError(err)
		return nil, errors.NewCheckpointCorrupt(fmt.Sprintf("%s (unit %s)", ss.path, unit), err)
	}

	span.SetAttributes(attribute.Bool("found", true))

	return &Checkpoint{
		Completed:       rec.Completed,
		LastProcessedID: rec.LastProcessedID,
		Threads:         threads,
	}, nil
}

// Save upserts a board's checkpoint.
func (ss *SQLiteStore) Save(ctx context.Context, unit string, cp *Checkpoint) error {
	ctx, span := tracer.Start(ctx, "sqlite.save_checkpoint",
		trace.WithAttributes(
			attribute.String("unit", unit),
			attribute.Int64("last_processed_id", cp.LastProcessedID),
			attribute.Bool("completed", cp.Completed),
		),
	)
	defer span.End()

	threads, err := json.Marshal(cp.Threads)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal thread mappings: %w", err)
	}

	rec := CheckpointRecord{
		Unit:            unit,
		Completed:       cp.Completed,
		LastProcessedID: cp.LastProcessedID,
		ThreadMappings:  string(threads),
	}
	err = ss.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "unit"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed", "last_processed_id", "thread_mappings", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save checkpoint for %s: %w", unit, err)
	}
	return nil
}

// Close closes the underlying database.
func (ss *SQLiteStore) Close() error {
	sqlDB, err := ss.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
