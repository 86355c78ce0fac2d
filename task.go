package uploader

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
)

// Task is one logical upload: a file bound to a policy and a destination.
type Task struct {
	Policy      *Policy
	File        FileMeta
	Reader      io.ReaderAt
	Destination string
}

var taskNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("uploader/task"))

// TaskKey derives the identity of an upload from its policy, file and destination.
func TaskKey(p *Policy, f FileMeta, destination string) string {
	var b strings.Builder
	if p != nil {
		b.WriteString(strconv.Itoa(p.ID))
		b.WriteByte('|')
		b.WriteString(string(p.Type))
	}
	b.WriteByte('|')
	b.WriteString(f.Name)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(f.Size, 10))
	b.WriteByte('|')
	if !f.LastModified.IsZero() {
		b.WriteString(strconv.FormatInt(f.LastModified.UnixNano(), 10))
	}
	b.WriteByte('|')
	b.WriteString(destination)

	return uuid.NewSHA1(taskNamespace, []byte(b.String())).String()
}

// Registry tracks task keys with an upload in flight.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// Acquire claims key. A key already held fails with ProcessingTaskDuplicated.
// The returned release func is safe to call more than once.
func (r *Registry) Acquire(key string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[key]; ok {
		return nil, NewError(KindProcessingTaskDuplicated, "task "+key+" is already in progress")
	}
	r.active[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.active, key)
			r.mu.Unlock()
		})
	}, nil
}

// InProgress reports whether key is currently held.
func (r *Registry) InProgress(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}

// RetryDuplicate calls fn until it stops failing with ProcessingTaskDuplicated,
// waiting between calls as scheduled by b.
func RetryDuplicate(ctx context.Context, b backoff.BackOff, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil || errors.Is(err, ErrProcessingTaskDuplicated) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
