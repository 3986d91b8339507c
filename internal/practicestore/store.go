package practicestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/content"
)

// TimestampLayout is the ISO-8601 form stored with every practice. It is fixed
// width so stored timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const idTimeLayout = "20060102_150405"

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("practice store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Practice is one generated and persisted exercise.
type Practice struct {
	ID        string            `json:"id"`
	Type      content.Kind      `json:"type"`
	Title     string            `json:"title"`
	Timestamp string            `json:"timestamp"`
	Content   content.Generated `json:"content"`
	AudioPath string            `json:"audioPath,omitempty"`
}

func (p *Practice) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      content.Kind    `json:"type"`
		Title     string          `json:"title"`
		Timestamp string          `json:"timestamp"`
		Content   json.RawMessage `json:"content"`
		AudioPath string          `json:"audioPath"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g, err := content.Decode(raw.Type, raw.Content)
	if err != nil {
		return err
	}
	*p = Practice{ID: raw.ID, Type: raw.Type, Title: raw.Title, Timestamp: raw.Timestamp, Content: g, AudioPath: raw.AudioPath}
	return nil
}

// Summary is the listing form of a practice.
type Summary struct {
	ID        string       `json:"id"`
	Type      content.Kind `json:"type"`
	Title     string       `json:"title"`
	Timestamp string       `json:"timestamp"`
	AudioPath string       `json:"audioPath,omitempty"`
}

// Allocation is the identity handed to a practice before it is saved.
type Allocation struct {
	ID        string
	Timestamp time.Time
}

// Store persists practices into a Collection.
type Store struct {
	coll      Collection
	uniqueIDs bool
	clock     func() time.Time
	suffix    func() string
	log       *slog.Logger
}

// New wraps coll. With uniqueIDs false, ids are only second-resolution
// timestamps and two practices of one type in the same second overwrite.
func New(coll Collection, uniqueIDs bool, log *slog.Logger) *Store {
	return &Store{
		coll:      coll,
		uniqueIDs: uniqueIDs,
		clock:     time.Now,
		suffix:    randomSuffix,
		log:       log.With(slog.String("component", "practice-store")),
	}
}

// Open builds the collection named by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	var (
		coll Collection
		err  error
	)
	switch cfg.Backend {
	case "sqlite", "":
		coll, err = OpenSQLite(ctx, cfg.Path, cfg.VacuumOnStart, log)
	case "redis":
		coll, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case "memory":
		coll = NewMemory()
	default:
		err = fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	return New(coll, cfg.UniqueIDs, log), nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// Allocate assigns an id and timestamp for a new practice of kind.
func (s *Store) Allocate(kind content.Kind) Allocation {
	now := s.clock().UTC()
	id := fmt.Sprintf("%s_%s", kind, now.Format(idTimeLayout))
	if s.uniqueIDs {
		id += "_" + s.suffix()
	}
	return Allocation{ID: id, Timestamp: now}
}

// Save writes p. Saving an existing id replaces it.
func (s *Store) Save(ctx context.Context, p Practice) error {
	if p.ID == "" {
		return &StoreError{Op: "save", Err: fmt.Errorf("practice id required")}
	}
	doc, err := content.Encode(p.Content)
	if err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	created, err := time.Parse(TimestampLayout, p.Timestamp)
	if err != nil {
		return &StoreError{Op: "save", Err: fmt.Errorf("parse timestamp: %w", err)}
	}
	rec := Record{
		ID:       p.ID,
		Document: doc,
		Metadata: Metadata{
			Kind:      p.Type,
			Title:     p.Title,
			AudioPath: p.AudioPath,
			CreatedAt: created.UTC(),
		},
	}
	if err := s.coll.Add(ctx, rec); err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	s.log.Debug("practice saved", slog.String("id", p.ID), slog.String("type", string(p.Type)))
	return nil
}

// List returns every stored practice, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	recs, err := s.coll.List(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Summary{
			ID:        rec.ID,
			Type:      rec.Metadata.Kind,
			Title:     rec.Metadata.Title,
			Timestamp: rec.Metadata.CreatedAt.UTC().Format(TimestampLayout),
			AudioPath: rec.Metadata.AudioPath,
		})
	}
	return out, nil
}

// Get returns the practice with id. A missing id is reported through the
// boolean, not as an error.
func (s *Store) Get(ctx context.Context, id string) (Practice, bool, error) {
	rec, ok, err := s.coll.Get(ctx, id)
	if err != nil {
		return Practice{}, false, &StoreError{Op: "get", Err: err}
	}
	if !ok {
		return Practice{}, false, nil
	}
	g, err := content.Decode(rec.Metadata.Kind, rec.Document)
	if err != nil {
		return Practice{}, false, &StoreError{Op: "get", Err: err}
	}
	return Practice{
		ID:        rec.ID,
		Type:      rec.Metadata.Kind,
		Title:     rec.Metadata.Title,
		Timestamp: rec.Metadata.CreatedAt.UTC().Format(TimestampLayout),
		Content:   g,
		AudioPath: rec.Metadata.AudioPath,
	}, true, nil
}

// Ping checks the backing collection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.coll.Ping(ctx); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.coll.Close()
}
