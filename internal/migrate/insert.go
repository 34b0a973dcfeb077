package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/maneesh/koko2vichan/internal/checkpoint"
	"github.com/maneesh/koko2vichan/internal/errors"
	"github.com/maneesh/koko2vichan/internal/files"
	"github.com/maneesh/koko2vichan/internal/markup"
	"github.com/maneesh/koko2vichan/internal/models"
)

// Inserter transforms thread batches of one board and writes them to vichan,
// recording the vichan id of every thread root it creates.
type Inserter struct {
	board   string
	target  Target
	threads *checkpoint.ThreadMap
	exists  files.ExistsFunc
}

// NewInserter creates an inserter for a vichan board. exists probes the vichan
// tree for thumbnails and may be nil.
func NewInserter(board string, target Target, threads *checkpoint.ThreadMap, exists files.ExistsFunc) *Inserter {
	return &Inserter{
		board:   board,
		target:  target,
		threads: threads,
		exists:  exists,
	}
}

// Transform builds the vichan row for a koko post. Replies whose thread has
// no recorded mapping get a NULL thread.
func (in *Inserter) Transform(row *models.SourceRow) (*models.VichanPost, error) {
	post := markup.Post(row, &markup.Context{
		Board:   in.board,
		Resto:   row.Resto,
		Threads: in.threads,
	})

	if row.Resto > 0 {
		if id, ok := in.threads.Resolve(row.Resto); ok {
			post.Thread = sql.NullInt64{Int64: id, Valid: true}
		}
	}

	if row.HasFile() {
		fd := files.Build(row, in.board, in.exists)
		encoded, err := encodeFiles([]*models.FileDescriptor{fd})
		if err != nil {
			return nil, fmt.Errorf("failed to encode files of post %d: %w", row.No, err)
		}
		post.Files = sql.NullString{String: encoded, Valid: true}
		post.NumFiles = 1
		post.FileHash = sql.NullString{String: fd.Hash, Valid: true}
	}

	return post, nil
}

// InsertBatch writes one thread batch. A batch holding only a thread root
// records the new vichan id of that thread.
func (in *Inserter) InsertBatch(ctx context.Context, batch models.ThreadBatch) error {
	if len(batch) == 0 {
		return nil
	}

	posts := make([]*models.VichanPost, 0, len(batch))
	for _, row := range batch {
		post, err := in.Transform(row)
		if err != nil {
			return err
		}
		posts = append(posts, post)
	}

	first, last := batch[0].No, batch[len(batch)-1].No
	id, err := in.target.InsertPosts(ctx, posts)
	if err != nil {
		return errors.NewInsertFailed(in.board, first, last, err)
	}

	if batch.IsRootOnly() {
		return in.threads.Record(first, id)
	}
	return nil
}

// encodeFiles matches the JSON vichan writes itself: no HTML escaping of
// file names.
func encodeFiles(fds []*models.FileDescriptor) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fds); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
