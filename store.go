package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists upload sessions so an interrupted task can resume.
// Load returns nil, nil when nothing is stored under key.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, key string) (*Session, error)
	Remove(ctx context.Context, key string) error
}

const snapshotVersion = 1

type sessionSnapshot struct {
	Version     int        `json:"version"`
	ID          string     `json:"id"`
	TaskKey     string     `json:"task_key"`
	Policy      *Policy    `json:"policy"`
	File        FileMeta   `json:"file"`
	Destination string     `json:"destination"`
	ChunkSize   int64      `json:"chunk_size"`
	ChunkCount  int        `json:"chunk_count"`
	CreatedAt   time.Time  `json:"created_at"`
	Expires     time.Time  `json:"expires"`
	Credential  Credential `json:"credential"`
	Parts       []Part     `json:"parts"`
}

func encodeSession(s *Session) ([]byte, error) {
	snap := sessionSnapshot{
		Version:     snapshotVersion,
		ID:          s.ID,
		TaskKey:     s.TaskKey,
		Policy:      s.Policy,
		File:        s.File,
		Destination: s.Destination,
		ChunkSize:   s.ChunkSize,
		ChunkCount:  s.ChunkCount,
		CreatedAt:   s.CreatedAt,
		Expires:     s.Expires,
		Credential:  s.Credential,
		Parts:       s.Parts(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, Wrap(KindWriteCtxFailed, err)
	}
	return data, nil
}

func decodeSession(data []byte) (*Session, error) {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, Wrap(KindInvalidCtxData, err)
	}

	switch {
	case snap.Version != snapshotVersion:
		return nil, NewError(KindInvalidCtxData, fmt.Sprintf("unsupported snapshot version %d", snap.Version))
	case snap.ID == "", snap.TaskKey == "":
		return nil, NewError(KindInvalidCtxData, "snapshot without session id or task key")
	case snap.Policy == nil:
		return nil, NewError(KindInvalidCtxData, "snapshot without policy")
	case snap.ChunkSize <= 0, snap.ChunkCount <= 0:
		return nil, NewError(KindInvalidCtxData, "snapshot with invalid chunk layout")
	}

	s := &Session{
		ID:          snap.ID,
		TaskKey:     snap.TaskKey,
		Policy:      snap.Policy,
		File:        snap.File,
		Destination: snap.Destination,
		ChunkSize:   snap.ChunkSize,
		ChunkCount:  snap.ChunkCount,
		CreatedAt:   snap.CreatedAt,
		Expires:     snap.Expires,
		Credential:  snap.Credential,
		parts:       make(map[int]Part, len(snap.Parts)),
	}
	for _, p := range snap.Parts {
		if p.Index < 0 || p.Index >= s.ChunkCount {
			return nil, NewChunkError(KindInvalidCtxData, p.Index, errors.New("acknowledged chunk out of range"))
		}
		s.parts[p.Index] = p
	}
	return s, nil
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[s.TaskKey] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key string) (*Session, error) {
	m.mu.Lock()
	data, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeSession(data)
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DefaultRedisPrefix namespaces snapshot keys.
const DefaultRedisPrefix = "uploader:ctx:"

// RedisStore keeps snapshots in Redis, expiring them with their session.
type RedisStore struct {
	redis  redisCommander
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a store over client. ttl bounds snapshots of
// sessions without a deadline; zero keeps them until removed.
func NewRedisStore(client redisCommander, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{redis: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	ttl := r.ttl
	if !s.Expires.IsZero() {
		ttl = s.Expires.Sub(r.now())
		if ttl <= 0 {
			return r.Remove(ctx, s.TaskKey)
		}
	}

	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	if err := r.redis.Set(ctx, r.prefix+s.TaskKey, data, ttl).Err(); err != nil {
		return Wrap(KindWriteCtxFailed, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, key string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap(KindReadCtxFailed, err)
	}
	return decodeSession(data)
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.prefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return Wrap(KindRemoveCtxFailed, err)
	}
	return nil
}
