// Package checkpoint persists per-board migration progress so an interrupted
// run resumes after the last committed page.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/maneesh/koko2vichan/internal/errors"
)

// State is the lifecycle position of one board's migration.
type State int

const (
	NotStarted State = iota
	InProgress
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store loads and saves checkpoints keyed by koko board name.
type Store interface {
	// Load returns nil, nil when the board has never been checkpointed.
	Load(ctx context.Context, unit string) (*Checkpoint, error)
	Save(ctx context.Context, unit string, cp *Checkpoint) error
	Close() error
}

// Checkpoint is the persisted progress of one board. The JSON shape matches
// the progress.json files written by earlier migration runs.
type Checkpoint struct {
	Completed       bool       `json:"completed"`
	LastProcessedID int64      `json:"postNo"`
	Threads         *ThreadMap `json:"threadMappings"`
}

// New returns the zero checkpoint of a board seen for the first time.
func New() *Checkpoint {
	return &Checkpoint{Threads: NewThreadMap()}
}

// StateOf derives the lifecycle state; a nil checkpoint was never written.
func StateOf(cp *Checkpoint) State {
	switch {
	case cp == nil:
		return NotStarted
	case cp.Completed:
		return Completed
	default:
		return InProgress
	}
}

// Advance moves the cursor to the last row of a committed page.
func (cp *Checkpoint) Advance(lastID int64) error {
	if cp.Completed {
		return errors.NewInternal(fmt.Errorf("checkpoint already completed, cannot advance to %d", lastID))
	}
	if lastID < cp.LastProcessedID {
		return errors.NewInternal(fmt.Errorf("checkpoint cannot move backwards from %d to %d", cp.LastProcessedID, lastID))
	}
	cp.LastProcessedID = lastID
	return nil
}

// Complete marks the board as fully migrated. It cannot be undone.
func (cp *Checkpoint) Complete() {
	cp.Completed = true
}

// Clone returns a deep copy.
func (cp *Checkpoint) Clone() *Checkpoint {
	if cp == nil {
		return nil
	}
	c := *cp
	c.Threads = cp.Threads.Clone()
	return &c
}

// UnmarshalJSON tolerates a missing or null threadMappings field.
func (cp *Checkpoint) UnmarshalJSON(data []byte) error {
	type plain Checkpoint
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Threads == nil {
		p.Threads = NewThreadMap()
	}
	*cp = Checkpoint(p)
	return nil
}

// ThreadMap maps koko thread ids to the vichan thread ids created for them.
// It only grows, and a mapping once recorded never changes.
type ThreadMap struct {
	m map[int64]int64
}

// NewThreadMap returns an empty map.
func NewThreadMap() *ThreadMap {
	return &ThreadMap{m: make(map[int64]int64)}
}

// Resolve returns the vichan thread id for a koko thread, if recorded.
func (tm *ThreadMap) Resolve(sourceThreadID int64) (int64, bool) {
	if tm == nil {
		return 0, false
	}
	id, ok := tm.m[sourceThreadID]
	return id, ok
}

// Record stores the vichan id assigned to a newly inserted koko thread root.
// Recording the same pair twice is a no-op; a different target id is refused.
func (tm *ThreadMap) Record(sourceRootID, targetID int64) error {
	if existing, ok := tm.m[sourceRootID]; ok {
		if existing == targetID {
			return nil
		}
		return errors.NewMappingConflict(sourceRootID, existing, targetID)
	}
	tm.m[sourceRootID] = targetID
	return nil
}

// Len returns the number of mapped threads.
func (tm *ThreadMap) Len() int {
	if tm == nil {
		return 0
	}
	return len(tm.m)
}

// Clone returns a deep copy.
func (tm *ThreadMap) Clone() *ThreadMap {
	c := NewThreadMap()
	if tm == nil {
		return c
	}
	for k, v := range tm.m {
		c.m[k] = v
	}
	return c
}

// MarshalJSON encodes the map as an object keyed by decimal koko ids.
func (tm *ThreadMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]int64, tm.Len())
	if tm != nil {
		for k, v := range tm.m {
			out[strconv.FormatInt(k, 10)] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an object keyed by decimal koko ids.
func (tm *ThreadMap) UnmarshalJSON(data []byte) error {
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tm.m = make(map[int64]int64, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid thread id %q: %w", k, err)
		}
		tm.m[id] = v
	}
	return nil
}
