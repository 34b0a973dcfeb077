package migrate

import "github.com/maneesh/koko2vichan/internal/models"

// Batch splits one fetched page into thread batches. Every thread root gets a
// batch of its own so its new id can be recorded before the replies that
// follow it are inserted; replies accumulate until the next root. Empty
// batches are dropped, and concatenating the result yields rows unchanged.
func Batch(rows []*models.SourceRow) []models.ThreadBatch {
	var batches []models.ThreadBatch
	current := models.ThreadBatch{}

	for _, row := range rows {
		if !row.IsThreadRoot() {
			current = append(current, row)
			continue
		}
		if len(current) > 0 {
			batches = append(batches, current)
		}
		batches = append(batches, models.ThreadBatch{row})
		current = models.ThreadBatch{}
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
