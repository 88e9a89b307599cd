package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Snapshot maps player tags to the trophy count last seen by the feeder.
type Snapshot map[string]int

// Store defines the interface for persisting and loading the feeder snapshot
type Store interface {
	// Save persists the snapshot
	Save(ctx context.Context, s Snapshot) error

	// Load retrieves the last saved snapshot. Returns an empty snapshot if none exists.
	Load(ctx context.Context) (Snapshot, error)
}

func decode(data []byte) (Snapshot, error) {
	s := make(Snapshot)
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// FileStore implements Store using a local file
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes to a temporary file first so a crash never leaves a torn snapshot.
func (f *FileStore) Save(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(Snapshot), nil
		}
		return nil, err
	}
	return decode(data)
}

// RedisStore implements Store using Redis
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
	}
}

func (r *RedisStore) Save(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, 0).Err()
}

func (r *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return make(Snapshot), nil
		}
		return nil, err
	}
	return decode(data)
}
