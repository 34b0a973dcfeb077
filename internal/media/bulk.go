package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/maneesh/koko2vichan/internal/logging"
)

var kokoThumbPattern = regexp.MustCompile(`s\.(\w+)$`)

// BulkTarget maps a koko file name to its vichan-relative destination.
func BulkTarget(vichanBoard, kokoFileName string) string {
	if kokoThumbPattern.MatchString(kokoFileName) {
		return vichanBoard + "/thumb/" + kokoThumbPattern.ReplaceAllString(kokoFileName, ".$1")
	}
	return vichanBoard + "/src/" + kokoFileName
}

// CopyBoard copies every file of a koko board's src directory into the vichan
// board without looking at posts. Existing targets are skipped. Returns the
// number of directory entries visited.
func CopyBoard(ctx context.Context, store Store, copier *Copier, kokoBasePath, kokoBoard, vichanBoard string) (int, error) {
	srcDir := filepath.Join(kokoBasePath, kokoBoard, "src")
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", srcDir, err)
	}

	count := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		src := filepath.Join(srcDir, entry.Name())
		target := BulkTarget(vichanBoard, entry.Name())

		exists, err := store.Exists(ctx, target)
		if err != nil {
			return count, fmt.Errorf("failed to check %s: %w", target, err)
		}

		// Stat follows symlinks, so linked uploads are copied too
		info, statErr := os.Stat(src)

		switch {
		case exists:
			logging.Info("media", "bulk", fmt.Sprintf("Skipping already copied file from %s to %s", src, target))
		case statErr == nil && info.Mode().IsRegular():
			logging.Info("media", "bulk", fmt.Sprintf("Copying %s to %s...", src, target))
			if _, err := copier.CopyFile(ctx, store, src, target); err != nil {
				return count, err
			}
		default:
			logging.Info("media", "bulk", fmt.Sprintf("Skipping non-file path %s", src))
		}
		count++
	}

	return count, nil
}
