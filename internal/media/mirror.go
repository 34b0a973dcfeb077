package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/maneesh/koko2vichan/internal/files"
	"github.com/maneesh/koko2vichan/internal/logging"
	"github.com/maneesh/koko2vichan/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("koko2vichan-media")

// Mirror copies the media of koko posts from one board into a vichan board.
type Mirror struct {
	store          Store
	copier         *Copier
	kokoSrcDir     string
	vichanBoard    string
	verifyChecksum bool
}

// NewMirror creates a mirror for one board mapping. kokoBasePath is the
// directory holding koko boards; uploads live in <kokoBasePath>/<kokoBoard>/src.
func NewMirror(store Store, copier *Copier, kokoBasePath, kokoBoard, vichanBoard string, verifyChecksum bool) *Mirror {
	return &Mirror{
		store:          store,
		copier:         copier,
		kokoSrcDir:     filepath.Join(kokoBasePath, kokoBoard, "src"),
		vichanBoard:    vichanBoard,
		verifyChecksum: verifyChecksum,
	}
}

// Exists returns the probe predicate for this mirror's store.
func (m *Mirror) Exists(ctx context.Context) files.ExistsFunc {
	return ExistsFunc(ctx, m.store)
}

// CopyPost copies a post's upload and every thumbnail variant koko kept for it.
// Missing source files are logged and skipped; other I/O failures are returned.
func (m *Mirror) CopyPost(ctx context.Context, row *models.SourceRow) error {
	if !row.HasFile() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "media.copy_post",
		trace.WithAttributes(
			attribute.Int64("post_no", row.No),
			attribute.Int64("tim", row.Tim),
		),
	)
	defer span.End()

	src := filepath.Join(m.kokoSrcDir, fmt.Sprintf("%d%s", row.Tim, row.Ext))
	copied, err := m.copyIfAbsent(ctx, src, files.FilePath(m.vichanBoard, row.Tim, row.Ext), row.MD5Chksum)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !copied {
		logging.Warn("media", "copy", fmt.Sprintf("Could not find image file at %s, so it was not copied", src))
	}

	foundThumb := false
	for _, ext := range files.ThumbExtensions {
		thumbSrc := filepath.Join(m.kokoSrcDir, fmt.Sprintf("%ds.%s", row.Tim, ext))
		copied, err := m.copyIfAbsent(ctx, thumbSrc, files.ThumbPath(m.vichanBoard, row.Tim, ext), "")
		if err != nil {
			span.RecordError(err)
			return err
		}
		foundThumb = foundThumb || copied
	}
	if !foundThumb {
		logging.Warn("media", "copy", fmt.Sprintf("Could not find image thumbnail for post no. %d, so it was not copied (try running with --files-only to force-copy everything)", row.No))
	}

	span.SetAttributes(attribute.Bool("thumb_found", foundThumb))
	return nil
}

// copyIfAbsent reports whether the source exists. An existing target is left untouched.
func (m *Mirror) copyIfAbsent(ctx context.Context, src, relPath, checksum string) (bool, error) {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", src, err)
	}

	exists, err := m.store.Exists(ctx, relPath)
	if err != nil {
		return true, fmt.Errorf("failed to check %s: %w", relPath, err)
	}
	if exists {
		return true, nil
	}

	result, err := m.copier.CopyFile(ctx, m.store, src, relPath)
	if err != nil {
		return true, err
	}
	if m.verifyChecksum && checksum != "" && !VerifyChecksum(result, checksum) {
		logging.Warn("media", "verify", fmt.Sprintf("checksum mismatch for %s: koko has %s, copied %s", src, checksum, result.MD5))
	}
	return true, nil
}
