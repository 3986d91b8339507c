package practicestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loqalabs/loqa-practice/internal/content"
)

// redisCollection keeps one hash per practice and a sorted set of ids scored
// by creation time.
type redisCollection struct {
	rdb    *goredis.Client
	prefix string
}

// OpenRedis connects to addr and verifies it with a ping.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (Collection, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if prefix == "" {
		prefix = "practice"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisCollection{rdb: rdb, prefix: prefix}, nil
}

func (r *redisCollection) key(id string) string { return r.prefix + ":practice:" + id }

func (r *redisCollection) index() string { return r.prefix + ":practices" }

func (r *redisCollection) Add(ctx context.Context, rec Record) error {
	created := rec.Metadata.CreatedAt.UTC()
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, r.key(rec.ID), map[string]any{
			"document":   rec.Document,
			"kind":       string(rec.Metadata.Kind),
			"title":      rec.Metadata.Title,
			"audio_path": rec.Metadata.AudioPath,
			"created_at": created.Format(TimestampLayout),
		})
		pipe.ZAdd(ctx, r.index(), goredis.Z{Score: float64(created.UnixMicro()), Member: rec.ID})
		return nil
	})
	return err
}

func (r *redisCollection) Get(ctx context.Context, id string) (Record, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	rec, err := recordFromHash(id, fields)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *redisCollection) List(ctx context.Context) ([]Record, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.index(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(ids))
	for i, id := range ids {
		fields, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", id, err)
		}
		// an indexed id without a hash was deleted between the two reads
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(id, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func recordFromHash(id string, fields map[string]string) (Record, error) {
	ts, err := time.Parse(TimestampLayout, fields["created_at"])
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at for %s: %w", id, err)
	}
	return Record{
		ID:       id,
		Document: []byte(fields["document"]),
		Metadata: Metadata{
			Kind:      content.Kind(fields["kind"]),
			Title:     fields["title"],
			AudioPath: fields["audio_path"],
			CreatedAt: ts,
		},
	}, nil
}

func (r *redisCollection) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *redisCollection) Close() error { return r.rdb.Close() }
