package practicestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-practice/internal/content"
)

// Metadata is stored next to each document.
type Metadata struct {
	Kind      content.Kind
	Title     string
	AudioPath string
	CreatedAt time.Time
}

// Record is one document in a collection, keyed by ID.
type Record struct {
	ID       string
	Document []byte
	Metadata Metadata
}

// Collection is a key-value document store with metadata. Add on an existing
// id replaces the record.
type Collection interface {
	Add(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	// List returns all records ordered by CreatedAt, newest first.
	List(ctx context.Context) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}

type memoryCollection struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory returns a process-local collection.
func NewMemory() Collection {
	return &memoryCollection{records: make(map[string]Record)}
}

func (m *memoryCollection) Add(_ context.Context, rec Record) error {
	rec.Document = append([]byte(nil), rec.Document...)
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *memoryCollection) Get(_ context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	return rec, ok, nil
}

func (m *memoryCollection) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *memoryCollection) Ping(context.Context) error { return nil }

func (m *memoryCollection) Close() error { return nil }

func sortNewestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].Metadata.CreatedAt, recs[j].Metadata.CreatedAt
		if a.Equal(b) {
			return recs[i].ID > recs[j].ID
		}
		return a.After(b)
	})
}
