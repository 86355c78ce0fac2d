package uploader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func storedSession(t *testing.T, now time.Time, expires time.Duration) *Session {
	t.Helper()
	cred := Credential{SessionID: "sess-1", ChunkSize: 4, UploadURLs: []string{"http://up/1"}}
	if expires != 0 {
		cred.Expires = now.Add(expires).Unix()
	}
	s := newSession(testTask(10), cred, now)
	s.Ack(Part{Index: 0, ETag: "e0"})
	s.Ack(Part{Index: 2, ETag: "e2"})
	return s
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	store := NewMemoryStore()

	missing, err := store.Load(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	s := storedSession(t, now, time.Hour)
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Load(ctx, s.TaskKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.ChunkCount, got.ChunkCount)
	assert.Equal(t, s.Credential, got.Credential)
	assert.Equal(t, s.Parts(), got.Parts())
	assert.Equal(t, []int{1}, got.Pending())
	assert.True(t, got.Expires.Equal(s.Expires))

	require.NoError(t, store.Remove(ctx, s.TaskKey))
	got, err = store.Load(ctx, s.TaskKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeSessionRejectsInvalidSnapshots(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", `{{`},
		{"version", `{"version":2,"id":"s","task_key":"k","policy":{},"chunk_size":1,"chunk_count":1}`},
		{"no id", `{"version":1,"task_key":"k","policy":{},"chunk_size":1,"chunk_count":1}`},
		{"no policy", `{"version":1,"id":"s","task_key":"k","chunk_size":1,"chunk_count":1}`},
		{"layout", `{"version":1,"id":"s","task_key":"k","policy":{},"chunk_size":0,"chunk_count":1}`},
		{"part range", `{"version":1,"id":"s","task_key":"k","policy":{},"chunk_size":1,"chunk_count":1,"parts":[{"index":3}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeSession([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidCtxData)
		})
	}
}

// fakeRedis records values and TTLs the way Redis would.
type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	rdb := newFakeRedis()
	store := NewRedisStore(rdb, "", 0)
	store.now = func() time.Time { return now }

	s := storedSession(t, now, 30*time.Minute)
	require.NoError(t, store.Save(ctx, s))

	key := DefaultRedisPrefix + s.TaskKey
	assert.Contains(t, rdb.values, key)
	assert.Equal(t, 30*time.Minute, rdb.ttls[key])

	got, err := store.Load(ctx, s.TaskKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.Parts(), got.Parts())

	require.NoError(t, store.Remove(ctx, s.TaskKey))
	got, err = store.Load(ctx, s.TaskKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	rdb := newFakeRedis()
	store := NewRedisStore(rdb, "ctx:", time.Hour)
	store.now = func() time.Time { return now }

	open := storedSession(t, now, 0)
	require.NoError(t, store.Save(ctx, open))
	assert.Equal(t, time.Hour, rdb.ttls["ctx:"+open.TaskKey])

	stale := storedSession(t, now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, store.Save(ctx, stale))
	assert.NotContains(t, rdb.values, "ctx:"+stale.TaskKey)
}

func TestRedisStoreFailures(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	store := NewRedisStore(rdb, "", 0)

	s := storedSession(t, time.Now(), 0)
	assert.ErrorIs(t, store.Save(ctx, s), sentinel(KindWriteCtxFailed))

	_, err := store.Load(ctx, s.TaskKey)
	assert.ErrorIs(t, err, sentinel(KindReadCtxFailed))

	assert.ErrorIs(t, store.Remove(ctx, s.TaskKey), sentinel(KindRemoveCtxFailed))
}

// mockStore lets tests script store failures.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, s *Session) error {
	return m.Called(s.TaskKey).Error(0)
}

func (m *mockStore) Load(ctx context.Context, key string) (*Session, error) {
	args := m.Called(key)
	s, _ := args.Get(0).(*Session)
	return s, args.Error(1)
}

func (m *mockStore) Remove(ctx context.Context, key string) error {
	return m.Called(key).Error(0)
}
