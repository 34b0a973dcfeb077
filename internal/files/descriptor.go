// Package files derives vichan file objects from koko attachment columns.
package files

import (
	"fmt"
	"math"
	"mime"
	"strconv"
	"strings"

	"github.com/maneesh/koko2vichan/internal/models"
)

// MigratedTmpName is the placeholder tmp_name vichan expects in file objects.
const MigratedTmpName = "/tmp/_migrated_from_koko"

// ThumbExtensions are probed in order; koko may have written a thumbnail in a
// different format than the original upload.
var ThumbExtensions = []string{"gif", "jpg", "jpeg", "jfif", "png"}

var sizeUnits = map[string]float64{
	"b":  1,
	"kb": 1024,
	"mb": 1024 * 1024,
	"gb": 1024 * 1024 * 1024,
}

// Types missing from Go's builtin table, or host dependent there.
var contentTypes = map[string]string{
	"jfif": "image/jpeg",
	"bmp":  "image/bmp",
	"webm": "video/webm",
	"mp4":  "video/mp4",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"swf":  "application/x-shockwave-flash",
}

// ExistsFunc reports whether a path relative to the vichan instance root exists.
type ExistsFunc func(relPath string) bool

// ParseSize converts koko's human readable size ("1.5 MB", "300 KB", "512")
// to bytes. Anything unparseable, negative or beyond int64 yields 0.
func ParseSize(s string) int64 {
	parts := strings.Split(s, " ")
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}

	if len(parts) > 1 && parts[1] != "" {
		mult, ok := sizeUnits[strings.ToLower(parts[1])]
		if !ok {
			return 0
		}
		num *= mult
	}

	num = math.Round(num)
	if math.IsNaN(num) || num < 0 || num >= math.MaxInt64 {
		return 0
	}
	return int64(num)
}

// ContentType maps a bare extension to a MIME type, application/octet-stream if unknown.
func ContentType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return "application/octet-stream"
	}
	if t, ok := contentTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	return "application/octet-stream"
}

// FilePath is the vichan-relative path of an uploaded file. ext includes the dot.
func FilePath(board string, tim int64, ext string) string {
	return fmt.Sprintf("%s/src/%d%s", board, tim, ext)
}

// ThumbPath is the vichan-relative path of a thumbnail. ext has no dot.
func ThumbPath(board string, tim int64, ext string) string {
	return fmt.Sprintf("%s/thumb/%d.%s", board, tim, ext)
}

// ResolveThumbExt returns the first thumbnail extension present on the target,
// or fallback when none are.
func ResolveThumbExt(exists ExistsFunc, board string, tim int64, fallback string) string {
	if exists == nil {
		return fallback
	}
	for _, ext := range ThumbExtensions {
		if exists(ThumbPath(board, tim, ext)) {
			return ext
		}
	}
	return fallback
}

// Build derives the vichan file object for a koko row on the given vichan board.
func Build(row *models.SourceRow, board string, exists ExistsFunc) *models.FileDescriptor {
	ext := strings.Replace(row.Ext, ".", "", 1)
	name := row.Fname + row.Ext
	thumbExt := ResolveThumbExt(exists, board, row.Tim, ext)

	hash := row.MD5Chksum
	if hash == "" {
		hash = models.EmptyFileHash
	}

	return &models.FileDescriptor{
		Name:        name,
		Type:        ContentType(ext),
		TmpName:     MigratedTmpName,
		Error:       0,
		Size:        ParseSize(row.ImgSize),
		Filename:    name,
		Extension:   ext,
		FileID:      row.Tim,
		File:        fmt.Sprintf("%d%s", row.Tim, row.Ext),
		Thumb:       fmt.Sprintf("%d.%s", row.Tim, thumbExt),
		IsAnImage:   true,
		Hash:        hash,
		ThumbWidth:  row.TW,
		ThumbHeight: row.TH,
		FilePath:    FilePath(board, row.Tim, row.Ext),
		ThumbPath:   ThumbPath(board, row.Tim, thumbExt),
		Width:       row.ImgW,
		Height:      row.ImgH,
	}
}
