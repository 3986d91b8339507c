package practicestore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// scriptedRedis answers the listing commands without a server: the index
// holds ids, ids ending in gone have no hash and failID errors.
type scriptedRedis struct {
	ids    []string
	failID string
}

func (h scriptedRedis) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (h scriptedRedis) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if c, ok := cmd.(*goredis.StringSliceCmd); ok && cmd.Name() == "zrevrange" {
			c.SetVal(h.ids)
			return nil
		}
		return next(ctx, cmd)
	}
}

func (h scriptedRedis) ProcessPipelineHook(goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(_ context.Context, cmds []goredis.Cmder) error {
		created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC).Format(TimestampLayout)
		for _, cmd := range cmds {
			c, ok := cmd.(*goredis.MapStringStringCmd)
			if !ok {
				continue
			}
			key, _ := c.Args()[1].(string)
			switch {
			case h.failID != "" && strings.HasSuffix(key, ":"+h.failID):
				c.SetErr(errors.New("LOADING redis is loading the dataset"))
			case strings.HasSuffix(key, "gone"):
				c.SetVal(map[string]string{})
			default:
				c.SetVal(map[string]string{"document": "{}", "kind": "reading", "title": "t", "created_at": created})
			}
		}
		return nil
	}
}

func scriptedCollection(h scriptedRedis) Collection {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(h)
	return &redisCollection{rdb: rdb, prefix: "test"}
}

func TestRedisListSkipsDeletedHashes(t *testing.T) {
	coll := scriptedCollection(scriptedRedis{ids: []string{"reading_b", "reading_gone", "reading_a"}})
	t.Cleanup(func() { _ = coll.Close() })

	recs, err := coll.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
}

func TestRedisListReportsReadFailure(t *testing.T) {
	coll := scriptedCollection(scriptedRedis{ids: []string{"reading_b", "reading_a"}, failID: "reading_a"})
	t.Cleanup(func() { _ = coll.Close() })

	_, err := New(coll, true, newLogger()).List(context.Background())
	var serr *StoreError
	if !errors.As(err, &serr) || serr.Op != "list" {
		t.Fatalf("expected list StoreError, got %v", err)
	}
	if !strings.Contains(err.Error(), "reading_a") {
		t.Fatalf("error should name the failed record: %v", err)
	}
}
