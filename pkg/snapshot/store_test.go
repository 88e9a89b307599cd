package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genSnapshot() gopter.Gen {
	return gen.MapOf(gen.Identifier(), gen.IntRange(0, 7000)).Map(func(m map[string]int) Snapshot {
		return Snapshot(m)
	})
}

func TestStoreProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	tmpDir := t.TempDir()

	properties.Property("FileStore persists and loads snapshots", prop.ForAll(
		func(s Snapshot) bool {
			path := filepath.Join(tmpDir, "snapshot.json")
			os.Remove(path)

			fs := NewFileStore(path)
			if err := fs.Save(context.Background(), s); err != nil {
				return false
			}
			loaded, err := fs.Load(context.Background())
			if err != nil {
				return false
			}
			return reflect.DeepEqual(loaded, s)
		},
		genSnapshot(),
	))

	properties.Property("RedisStore persists and loads snapshots", prop.ForAll(
		func(s Snapshot, key string) bool {
			if key == "" {
				return true
			}
			rs := NewRedisStore(redisClient, key)
			if err := rs.Save(context.Background(), s); err != nil {
				return false
			}
			loaded, err := rs.Load(context.Background())
			if err != nil {
				return false
			}
			return reflect.DeepEqual(loaded, s)
		},
		genSnapshot(),
		gen.Identifier(),
	))

	properties.Property("file and Redis backends are equivalent", prop.ForAll(
		func(s Snapshot) bool {
			fs := NewFileStore(filepath.Join(tmpDir, "equiv.json"))
			rs := NewRedisStore(redisClient, "equiv-test-key")

			if err := fs.Save(context.Background(), s); err != nil {
				return false
			}
			if err := rs.Save(context.Background(), s); err != nil {
				return false
			}
			fromFile, err := fs.Load(context.Background())
			if err != nil {
				return false
			}
			fromRedis, err := rs.Load(context.Background())
			if err != nil {
				return false
			}
			return reflect.DeepEqual(fromFile, fromRedis)
		},
		genSnapshot(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestMissingSnapshotIsEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	fromFile, err := NewFileStore(filepath.Join(t.TempDir(), "absent.json")).Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, fromFile)
	assert.Empty(t, fromFile)

	fromRedis, err := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "absent").Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, fromRedis)
	assert.Empty(t, fromRedis)
}

func TestCorruptSnapshotIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}
