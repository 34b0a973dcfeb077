package markup

import (
	"github.com/maneesh/koko2vichan/internal/models"
)

// Post builds the text columns of a vichan post from a koko row.
// Thread and file columns are left for the caller.
func Post(row *models.SourceRow, ctx *Context) *models.VichanPost {
	body, plain := Body(row.Com, ctx)
	name, trip := SplitName(row.Name)

	return &models.VichanPost{
		Subject:      Nullable(Truncate(row.Sub, MaxSubjectLen)),
		Email:        Nullable(Truncate(row.Email, MaxEmailLen)),
		Name:         name,
		Trip:         trip,
		Body:         body,
		BodyNoMarkup: plain,
		Time:         row.Time,
		Bump:         row.Time,
		Password:     Nullable(Truncate(row.Pwd, MaxPasswordLen)),
		IP:           Truncate(row.Host, MaxIPLen),
		Slug:         Slug(row.Sub),
	}
}
