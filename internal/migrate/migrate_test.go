package migrate

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maneesh/koko2vichan/internal/checkpoint"
	"github.com/maneesh/koko2vichan/internal/errors"
	"github.com/maneesh/koko2vichan/internal/files"
	"github.com/maneesh/koko2vichan/internal/models"
)

type fakeSource struct {
	rows       []*models.SourceRow
	pingErr    error
	pingCalls  int
	fetchCalls []int64
}

func (s *fakeSource) Ping(context.Context) error {
	s.pingCalls++
	return s.pingErr
}

func (s *fakeSource) FetchRows(_ context.Context, afterNo int64, maxRows int) ([]*models.SourceRow, error) {
	s.fetchCalls = append(s.fetchCalls, afterNo)
	var out []*models.SourceRow
	for _, r := range s.rows {
		if r.No > afterNo && len(out) < maxRows {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeTarget struct {
	nextID  int64
	posts   []*models.VichanPost
	batches int
	// failAt makes the n-th InsertPosts call (1-based) fail
	failAt  int
	pingErr error
}

func (t *fakeTarget) Ping(context.Context) error { return t.pingErr }

func (t *fakeTarget) InsertPosts(_ context.Context, posts []*models.VichanPost) (int64, error) {
	t.batches++
	if t.failAt > 0 && t.batches == t.failAt {
		return 0, stderrors.New("deadlock found")
	}
	for _, p := range posts {
		t.nextID++
		t.posts = append(t.posts, p)
	}
	return t.nextID, nil
}

type memStore struct {
	saved map[string]*checkpoint.Checkpoint
	saves []*checkpoint.Checkpoint
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]*checkpoint.Checkpoint)}
}

func (m *memStore) Load(_ context.Context, unit string) (*checkpoint.Checkpoint, error) {
	return m.saved[unit].Clone(), nil
}

func (m *memStore) Save(_ context.Context, unit string, cp *checkpoint.Checkpoint) error {
	m.saved[unit] = cp.Clone()
	m.saves = append(m.saves, cp.Clone())
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeMirror struct {
	copied []int64
	thumbs map[string]bool
}

func (f *fakeMirror) CopyPost(_ context.Context, row *models.SourceRow) error {
	if row.HasFile() {
		f.copied = append(f.copied, row.No)
	}
	return nil
}

func (f *fakeMirror) Exists(context.Context) files.ExistsFunc {
	return func(rel string) bool { return f.thumbs[rel] }
}

func root(no int64) *models.SourceRow {
	return &models.SourceRow{No: no, Time: 1000 + no, Name: "Anon", Com: "root", Pwd: "pw", Host: "127.0.0.1"}
}

func reply(no, resto int64) *models.SourceRow {
	return &models.SourceRow{No: no, Resto: resto, Time: 1000 + no, Name: "Anon", Com: "reply", Pwd: "pw", Host: "127.0.0.1"}
}

func flatten(batches []models.ThreadBatch) []*models.SourceRow {
	var out []*models.SourceRow
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

func TestBatch(t *testing.T) {
	rows := []*models.SourceRow{root(1), reply(2, 5), reply(3, 5), root(10), reply(11, 10), reply(12, 10), root(13), root(14)}

	batches := Batch(rows)
	require.Len(t, batches, 6)
	assert.Equal(t, rows, flatten(batches))

	assert.True(t, batches[0].IsRootOnly())
	assert.Len(t, batches[1], 2)
	assert.True(t, batches[2].IsRootOnly())
	assert.Len(t, batches[3], 2)
	assert.True(t, batches[4].IsRootOnly())
	assert.True(t, batches[5].IsRootOnly())
}

func TestBatch_LeadingReplies(t *testing.T) {
	rows := []*models.SourceRow{reply(2, 1), reply(3, 1), root(4), reply(5, 4)}

	batches := Batch(rows)
	require.Len(t, batches, 3)
	assert.Equal(t, rows, flatten(batches))
	assert.Len(t, batches[0], 2)
	assert.False(t, batches[0].IsRootOnly())

	for _, b := range batches {
		assert.NotEmpty(t, b)
	}
}

func TestBatch_Empty(t *testing.T) {
	assert.Empty(t, Batch(nil))
}

func TestInserter_RecordsRootAndThreadsReplies(t *testing.T) {
	ctx := context.Background()
	target := &fakeTarget{nextID: 39}
	threads := checkpoint.NewThreadMap()
	in := NewInserter("b", target, threads, nil)

	require.NoError(t, in.InsertBatch(ctx, models.ThreadBatch{root(3)}))
	id, ok := threads.Resolve(3)
	require.True(t, ok)
	assert.Equal(t, int64(40), id)

	r := reply(5, 3)
	r.Com = "&gt;&gt;3 hello"
	require.NoError(t, in.InsertBatch(ctx, models.ThreadBatch{r, reply(6, 3)}))

	require.Len(t, target.posts, 3)
	assert.False(t, target.posts[0].Thread.Valid)
	assert.Equal(t, int64(40), target.posts[1].Thread.Int64)
	assert.True(t, target.posts[1].Thread.Valid)
	assert.Contains(t, target.posts[1].Body, `href="/b/res/40.html#3"`)
	assert.Equal(t, 1, threads.Len(), "reply batches must not record mappings")
}

func TestInserter_UnmappedParentGetsNullThread(t *testing.T) {
	target := &fakeTarget{}
	in := NewInserter("b", target, checkpoint.NewThreadMap(), nil)

	require.NoError(t, in.InsertBatch(context.Background(), models.ThreadBatch{reply(8, 99)}))
	require.Len(t, target.posts, 1)
	assert.False(t, target.posts[0].Thread.Valid)
}

func TestInserter_Files(t *testing.T) {
	row := root(7)
	row.MD5Chksum = "0123456789abcdef0123456789abcdef"
	row.Tim = 123
	row.Fname = "cats & dogs"
	row.Ext = ".png"
	row.ImgSize = "2 KB"

	in := NewInserter("b", &fakeTarget{}, checkpoint.NewThreadMap(), func(rel string) bool { return rel == "b/thumb/123.jpg" })
	post, err := in.Transform(row)
	require.NoError(t, err)

	assert.Equal(t, 1, post.NumFiles)
	assert.Equal(t, row.MD5Chksum, post.FileHash.String)
	require.True(t, post.Files.Valid)
	assert.Contains(t, post.Files.String, `"name":"cats & dogs.png"`)

	var decoded []models.FileDescriptor
	require.NoError(t, json.Unmarshal([]byte(post.Files.String), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "123.jpg", decoded[0].Thumb)
	assert.Equal(t, int64(2048), decoded[0].Size)
}

func TestInserter_NoChecksumNoFiles(t *testing.T) {
	row := root(7)
	row.Fname = "leftover"
	row.Ext = ".png"

	post, err := NewInserter("b", &fakeTarget{}, checkpoint.NewThreadMap(), nil).Transform(row)
	require.NoError(t, err)
	assert.False(t, post.Files.Valid)
	assert.False(t, post.FileHash.Valid)
	assert.Equal(t, 0, post.NumFiles)
}

func TestInserter_InsertFailure(t *testing.T) {
	in := NewInserter("b", &fakeTarget{failAt: 1}, checkpoint.NewThreadMap(), nil)

	err := in.InsertBatch(context.Background(), models.ThreadBatch{reply(4, 1), reply(9, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsertFailed))
	assert.Contains(t, err.Error(), "4-9")
}

func TestOrchestrator_MigratesAllPages(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{rows: []*models.SourceRow{root(1), reply(2, 1), reply(3, 1), root(4), reply(5, 4)}}
	target := &fakeTarget{nextID: 100}
	store := newMemStore()

	err := NewOrchestrator(store, 2).Run(ctx, []Unit{{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: target}})
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 2, 4}, source.fetchCalls)
	require.Len(t, target.posts, 5)

	// reply 3 arrives on the second page and still finds its thread
	assert.Equal(t, int64(101), target.posts[2].Thread.Int64)
	assert.Equal(t, int64(104), target.posts[4].Thread.Int64)

	final := store.saved["kb"]
	assert.True(t, final.Completed)
	assert.Equal(t, int64(5), final.LastProcessedID)
	assert.Equal(t, 2, final.Threads.Len())
}

func TestOrchestrator_CheckpointsAreMonotonic(t *testing.T) {
	source := &fakeSource{}
	for i := int64(1); i <= 9; i++ {
		if i%3 == 1 {
			source.rows = append(source.rows, root(i))
		} else {
			source.rows = append(source.rows, reply(i, i-(i-1)%3))
		}
	}
	store := newMemStore()

	require.NoError(t, NewOrchestrator(store, 2).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: &fakeTarget{}}))

	require.NotEmpty(t, store.saves)
	completedAt := -1
	for i := 1; i < len(store.saves); i++ {
		assert.GreaterOrEqual(t, store.saves[i].LastProcessedID, store.saves[i-1].LastProcessedID)
		if store.saves[i-1].Completed {
			assert.True(t, store.saves[i].Completed, "completed must never revert")
		}
		if store.saves[i].Completed && completedAt < 0 {
			completedAt = i
		}
	}
	assert.Equal(t, len(store.saves)-1, completedAt)
	assert.False(t, store.saves[0].Completed)
	assert.Equal(t, int64(0), store.saves[0].LastProcessedID)
}

func TestOrchestrator_ExactPageMultipleKeepsCursor(t *testing.T) {
	source := &fakeSource{rows: []*models.SourceRow{root(1), reply(2, 1), root(3), reply(4, 3)}}
	store := newMemStore()

	require.NoError(t, NewOrchestrator(store, 2).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: &fakeTarget{}}))

	assert.Equal(t, []int64{0, 2, 4}, source.fetchCalls)
	assert.Equal(t, int64(4), store.saved["kb"].LastProcessedID)
	assert.True(t, store.saved["kb"].Completed)
}

func TestOrchestrator_SkipsCompletedUnit(t *testing.T) {
	store := newMemStore()
	done := checkpoint.New()
	require.NoError(t, done.Advance(50))
	done.Complete()
	store.saved["kb"] = done

	source := &fakeSource{rows: []*models.SourceRow{root(51)}}
	target := &fakeTarget{}
	require.NoError(t, NewOrchestrator(store, 10).Run(context.Background(), []Unit{{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: target}}))

	assert.Empty(t, source.fetchCalls)
	assert.Equal(t, 0, source.pingCalls)
	assert.Empty(t, target.posts)
	assert.Empty(t, store.saves)
}

func TestOrchestrator_StateTransitions(t *testing.T) {
	t.Run("not started", func(t *testing.T) {
		store := newMemStore()
		source := &fakeSource{rows: []*models.SourceRow{root(1), reply(2, 1)}}
		require.NoError(t, NewOrchestrator(store, 10).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: &fakeTarget{}}))

		require.Len(t, store.saves, 3)
		assert.Equal(t, checkpoint.InProgress, checkpoint.StateOf(store.saves[0]))
		assert.Equal(t, int64(0), store.saves[0].LastProcessedID)
		assert.Equal(t, checkpoint.InProgress, checkpoint.StateOf(store.saves[1]))
		assert.Equal(t, checkpoint.Completed, checkpoint.StateOf(store.saves[2]))
	})

	t.Run("in progress before the first page", func(t *testing.T) {
		store := newMemStore()
		store.saved["kb"] = checkpoint.New()
		source := &fakeSource{rows: []*models.SourceRow{root(1)}}
		require.NoError(t, NewOrchestrator(store, 10).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: &fakeTarget{}}))

		// no fresh checkpoint is written over the existing one
		assert.Equal(t, []int64{0}, source.fetchCalls)
		require.Len(t, store.saves, 2)
		assert.Equal(t, int64(1), store.saves[0].LastProcessedID)
		assert.Equal(t, checkpoint.Completed, checkpoint.StateOf(store.saves[1]))
	})
}

func TestOrchestrator_ResumesFromCheckpoint(t *testing.T) {
	store := newMemStore()
	partial := checkpoint.New()
	require.NoError(t, partial.Threads.Record(1, 77))
	require.NoError(t, partial.Advance(3))
	store.saved["kb"] = partial

	source := &fakeSource{rows: []*models.SourceRow{root(1), reply(2, 1), reply(3, 1), reply(4, 1), root(5)}}
	target := &fakeTarget{nextID: 200}

	require.NoError(t, NewOrchestrator(store, 10).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: target}))

	assert.Equal(t, []int64{3}, source.fetchCalls)
	require.Len(t, target.posts, 2)
	assert.Equal(t, int64(77), target.posts[0].Thread.Int64)

	id, ok := store.saved["kb"].Threads.Resolve(5)
	require.True(t, ok)
	assert.Equal(t, int64(202), id)
}

func TestOrchestrator_ConnectivityFailureAbortsRun(t *testing.T) {
	store := newMemStore()
	bad := &fakeSource{pingErr: errors.NewConnectivity("koko database", stderrors.New("refused"))}
	next := &fakeSource{rows: []*models.SourceRow{root(1)}}

	err := NewOrchestrator(store, 10).Run(context.Background(), []Unit{
		{KokoBoard: "a", VichanBoard: "a", Source: bad, Target: &fakeTarget{}},
		{KokoBoard: "b", VichanBoard: "b", Source: next, Target: &fakeTarget{}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConnectivity))

	assert.Empty(t, bad.fetchCalls)
	assert.Equal(t, 0, next.pingCalls)
	_, seen := store.saved["b"]
	assert.False(t, seen)
}

func TestOrchestrator_TargetPingFailure(t *testing.T) {
	source := &fakeSource{rows: []*models.SourceRow{root(1)}}
	target := &fakeTarget{pingErr: errors.NewConnectivity("vichan database", stderrors.New("refused"))}

	err := NewOrchestrator(newMemStore(), 10).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: target})
	assert.True(t, errors.Is(err, errors.ErrConnectivity))
	assert.Empty(t, source.fetchCalls)
}

func TestOrchestrator_InsertFailureLeavesCheckpoint(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{rows: []*models.SourceRow{root(1), reply(2, 1), root(3), reply(4, 3)}}
	// the second page's second batch fails
	target := &fakeTarget{failAt: 4}

	err := NewOrchestrator(store, 2).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: target})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsertFailed))

	cp := store.saved["kb"]
	assert.False(t, cp.Completed)
	assert.Equal(t, int64(2), cp.LastProcessedID)
	_, ok := cp.Threads.Resolve(3)
	assert.False(t, ok, "mappings of an uncommitted page are not persisted")

	// restart re-fetches the failed page and re-inserts its root
	target.failAt = 0
	require.NoError(t, NewOrchestrator(store, 2).MigrateUnit(context.Background(), Unit{KokoBoard: "kb", VichanBoard: "vb", Source: source, Target: target}))
	assert.Equal(t, []int64{0, 2, 2, 4}, source.fetchCalls)
	assert.Len(t, target.posts, 5)
	assert.True(t, store.saved["kb"].Completed)
}

func TestOrchestrator_CopiesMediaBeforeProbing(t *testing.T) {
	row := root(1)
	row.MD5Chksum = "abc"
	row.Tim = 55
	row.Ext = ".png"
	mirror := &fakeMirror{thumbs: map[string]bool{"vb/thumb/55.gif": true}}
	target := &fakeTarget{}

	require.NoError(t, NewOrchestrator(newMemStore(), 10).MigrateUnit(context.Background(), Unit{
		KokoBoard: "kb", VichanBoard: "vb", Source: &fakeSource{rows: []*models.SourceRow{row, reply(2, 1)}}, Target: target, Media: mirror,
	}))

	assert.Equal(t, []int64{1}, mirror.copied)
	require.Len(t, target.posts, 2)
	assert.Contains(t, target.posts[0].Files.String, `"thumb":"55.gif"`)
}
