package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/maneesh/koko2vichan/internal/errors"
)

func TestThreadMap_RecordResolve(t *testing.T) {
	tm := NewThreadMap()

	_, ok := tm.Resolve(3)
	assert.False(t, ok)

	require.NoError(t, tm.Record(3, 40))
	id, ok := tm.Resolve(3)
	require.True(t, ok)
	assert.Equal(t, int64(40), id)

	// Same pair again is fine
	require.NoError(t, tm.Record(3, 40))
	assert.Equal(t, 1, tm.Len())
}

func TestThreadMap_RecordConflict(t *testing.T) {
	tm := NewThreadMap()
	require.NoError(t, tm.Record(3, 40))

	err := tm.Record(3, 41)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMappingConflict))

	id, _ := tm.Resolve(3)
	assert.Equal(t, int64(40), id, "existing mapping must survive a conflicting record")
}

func TestThreadMap_NilResolve(t *testing.T) {
	var tm *ThreadMap
	_, ok := tm.Resolve(1)
	assert.False(t, ok)
	assert.Equal(t, 0, tm.Len())
}

func TestThreadMap_JSON(t *testing.T) {
	tm := NewThreadMap()
	require.NoError(t, tm.Record(3, 40))
	require.NoError(t, tm.Record(12, 41))

	data, err := json.Marshal(tm)
	require.NoError(t, err)
	assert.JSONEq(t, `{"3":40,"12":41}`, string(data))

	decoded := NewThreadMap()
	require.NoError(t, json.Unmarshal(data, decoded))
	id, ok := decoded.Resolve(12)
	require.True(t, ok)
	assert.Equal(t, int64(41), id)

	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), NewThreadMap()))
}

func TestCheckpoint_Lifecycle(t *testing.T) {
	var missing *Checkpoint
	assert.Equal(t, NotStarted, StateOf(missing))

	cp := New()
	assert.Equal(t, InProgress, StateOf(cp))

	require.NoError(t, cp.Advance(10))
	require.NoError(t, cp.Advance(10))
	require.NoError(t, cp.Advance(25))
	assert.Equal(t, int64(25), cp.LastProcessedID)

	err := cp.Advance(24)
	require.Error(t, err)
	assert.Equal(t, int64(25), cp.LastProcessedID)

	cp.Complete()
	assert.Equal(t, Completed, StateOf(cp))
	assert.Error(t, cp.Advance(30))
	assert.Equal(t, "completed", StateOf(cp).String())
}

func TestCheckpoint_CloneIsDeep(t *testing.T) {
	cp := New()
	require.NoError(t, cp.Threads.Record(1, 2))

	c := cp.Clone()
	require.NoError(t, c.Threads.Record(5, 6))
	c.LastProcessedID = 99

	_, ok := cp.Threads.Resolve(5)
	assert.False(t, ok)
	assert.Equal(t, int64(0), cp.LastProcessedID)
}

func TestCheckpoint_UnmarshalWithoutMappings(t *testing.T) {
	var cp Checkpoint
	require.NoError(t, json.Unmarshal([]byte(`{"completed":false,"postNo":7}`), &cp))
	require.NotNil(t, cp.Threads)
	assert.Equal(t, int64(7), cp.LastProcessedID)

	require.NoError(t, json.Unmarshal([]byte(`{"completed":true,"postNo":7,"threadMappings":null}`), &cp))
	require.NotNil(t, cp.Threads)
	assert.True(t, cp.Completed)
}

func TestFileStore_CreatesFileWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")

	store, err := OpenFileStore(path)
	require.NoError(t, err)
	defer store.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	cp, err := store.Load(context.Background(), "b")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestFileStore_SaveAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.json")

	store, err := OpenFileStore(path)
	require.NoError(t, err)

	cp := New()
	require.NoError(t, cp.Threads.Record(1, 100))
	require.NoError(t, cp.Advance(42))
	require.NoError(t, store.Save(ctx, "b", cp))

	// Mutating after save must not leak into the stored snapshot
	require.NoError(t, cp.Advance(50))
	loaded, err := store.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(42), loaded.LastProcessedID)

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	loaded, err = reopened.Load(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, loaded.Completed)
	assert.Equal(t, int64(42), loaded.LastProcessedID)
	id, ok := loaded.Threads.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), id)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":{"completed":false,"postNo":42,"threadMappings":{"1":100}}}`, string(data))
}

func TestFileStore_ReadsExistingProgressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	legacy := `{"b":{"completed":true,"postNo":900,"threadMappings":{"5":1,"9":2}},"a":{"completed":false,"postNo":0,"threadMappings":{}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store, err := OpenFileStore(path)
	require.NoError(t, err)

	b, err := store.Load(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, Completed, StateOf(b))
	assert.Equal(t, 2, b.Threads.Len())

	a, err := store.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, InProgress, StateOf(a))
}

func TestFileStore_CorruptFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"b":{"completed":`), 0o644))

	_, err := OpenFileStore(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCheckpointCorrupt))
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "progress.db")

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)

	cp, err := store.Load(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp = New()
	require.NoError(t, store.Save(ctx, "b", cp))

	require.NoError(t, cp.Threads.Record(3, 40))
	require.NoError(t, cp.Advance(17))
	require.NoError(t, store.Save(ctx, "b", cp))

	cp.Complete()
	require.NoError(t, store.Save(ctx, "b", cp))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Completed)
	assert.Equal(t, int64(17), loaded.LastProcessedID)
	id, ok := loaded.Threads.Resolve(3)
	require.True(t, ok)
	assert.Equal(t, int64(40), id)

	var count int64
	require.NoError(t, reopened.db.Model(&CheckpointRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := tracer
	tracer = tp.Tracer("koko2vichan-checkpoint")
	t.Cleanup(func() { tracer = prev })

	ctx := context.Background()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, "b", New()))
	_, err = store.Load(ctx, "b")
	require.NoError(t, err)
	_, err = store.Load(ctx, "missing")
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "sqlite.save_checkpoint", spans[0].Name())
	assert.Equal(t, "sqlite.load_checkpoint", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), attribute.Bool("found", true))
	assert.Contains(t, spans[2].Attributes(), attribute.String("unit", "missing"))
	assert.Contains(t, spans[2].Attributes(), attribute.Bool("found", false))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("KOKO2VICHAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KOKO2VICHAN_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	store, err := NewRedisStore(addr, "", 0, "koko2vichan:test:"+t.Name()+":")
	require.NoError(t, err)
	defer store.Close()
	defer store.client.Del(ctx, store.Key("b"))

	cp, err := store.Load(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp = New()
	require.NoError(t, cp.Threads.Record(3, 40))
	require.NoError(t, cp.Advance(8))
	require.NoError(t, store.Save(ctx, "b", cp))

	loaded, err := store.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(8), loaded.LastProcessedID)
	id, _ := loaded.Threads.Resolve(3)
	assert.Equal(t, int64(40), id)
}

func TestRedisStore_UnreachableIsConnectivityError(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1", "", 0, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConnectivity))
}

func TestDecode(t *testing.T) {
	cp, err := decode([]byte(`{"completed":false,"postNo":3,"threadMappings":{"1":2}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.LastProcessedID)

	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}
