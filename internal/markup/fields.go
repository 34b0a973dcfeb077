package markup

import (
	"database/sql"
	"strings"

	"github.com/gosimple/slug"
)

// Column limits of vichan's posts_<board> table.
const (
	MaxNameLen     = 35
	MaxTripLen     = 15
	MaxSubjectLen  = 100
	MaxEmailLen    = 30
	MaxPasswordLen = 20
	MaxIPLen       = 39
	MaxSlugLen     = 256
)

func init() {
	// vichan keeps the subject's case in thread URLs
	slug.Lowercase = false
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Nullable maps the empty string to NULL.
func Nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SplitName splits a koko name field into display name and tripcode.
// Koko stores the tripcode after the first '!'; later segments are dropped.
func SplitName(raw string) (name string, trip sql.NullString) {
	parts := strings.Split(StripTags(raw), "!")
	name = Truncate(strings.TrimSpace(parts[0]), MaxNameLen)
	if len(parts) > 1 {
		trip = Nullable(Truncate(parts[1], MaxTripLen))
	}
	return name, trip
}

// Slug derives the thread URL slug from a subject. Only defined for non-empty subjects.
func Slug(subject string) sql.NullString {
	if subject == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: Truncate(slug.Make(subject), MaxSlugLen), Valid: true}
}
