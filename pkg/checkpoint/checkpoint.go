package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates no checkpoint exists for a key.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the resume state of one paginated run.
type Checkpoint struct {
	// Cursor requests the first page not yet written.
	Cursor string `json:"cursor"`

	// Pages and Entities count what has been written so far.
	Pages    int `json:"pages"`
	Entities int `json:"entities"`

	// RunID identifies the run that wrote the checkpoint.
	RunID string `json:"run_id"`

	// Output is the file the run appends to.
	Output string `json:"output,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves checkpoints.
type Store interface {
	// Load returns ErrNotFound when no checkpoint exists for key.
	Load(ctx context.Context, key Key) (*Checkpoint, error)
	Save(ctx context.Context, key Key, cp *Checkpoint) error
	Delete(ctx context.Context, key Key) error
}

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Checkpoint)}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.items[key.String()]
	if !ok {
		checkpointOps.WithLabelValues("load", "miss").Inc()
		return nil, ErrNotFound
	}
	checkpointOps.WithLabelValues("load", "hit").Inc()
	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, cp *Checkpoint) error {
	if cp == nil {
		return errNilCheckpoint
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key.String()] = *cp
	checkpointOps.WithLabelValues("save", "ok").Inc()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key.String())
	checkpointOps.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Len returns the number of stored checkpoints.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

var errNilCheckpoint = errors.New("checkpoint cannot be nil")
