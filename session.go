package uploader

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultChunkSize is used when neither the service nor the policy names one.
const DefaultChunkSize int64 = 1024 * 1024

// SessionState is the lifecycle position of an upload session.
type SessionState int

const (
	StateAbsent SessionState = iota
	StateActive
	StateExpired
	StateDeleted
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateDeleted:
		return "deleted"
	}
	return "absent"
}

// Session is the backend tracked state of one resumable upload.
// Only the coordinator records acknowledgements on it.
type Session struct {
	ID          string
	TaskKey     string
	Policy      *Policy
	File        FileMeta
	Destination string
	ChunkSize   int64
	ChunkCount  int
	CreatedAt   time.Time
	Expires     time.Time
	Credential  Credential

	// saveMu orders snapshot writes and progress reports.
	saveMu sync.Mutex

	mu      sync.Mutex
	parts   map[int]Part
	expired bool
	deleted bool
}

func newSession(task *Task, cred Credential, now time.Time) *Session {
	s := &Session{
		ID:          cred.SessionID,
		TaskKey:     TaskKey(task.Policy, task.File, task.Destination),
		Policy:      task.Policy,
		File:        task.File,
		Destination: task.Destination,
		CreatedAt:   now,
		Credential:  cred,
		parts:       make(map[int]Part),
	}
	if cred.Expires > 0 {
		s.Expires = time.Unix(cred.Expires, 0)
	}

	size := cred.ChunkSize
	if size <= 0 && task.Policy != nil {
		size = task.Policy.ChunkSize
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	s.layout(size)
	return s
}

// layout splits the file into chunks of size bytes. An empty file is one empty chunk.
func (s *Session) layout(size int64) {
	s.ChunkSize = size
	s.ChunkCount = 1
	if s.File.Size > 0 {
		s.ChunkCount = int((s.File.Size + size - 1) / size)
	}
}

// chunk returns the byte range of chunk i over src.
func (s *Session) chunk(i int, src io.ReaderAt) Chunk {
	off := int64(i) * s.ChunkSize
	n := s.ChunkSize
	if off+n > s.File.Size {
		n = s.File.Size - off
	}
	if n < 0 {
		n = 0
	}
	return Chunk{Index: i, Offset: off, Size: n, Total: s.File.Size, src: src}
}

// State reports the lifecycle state at now.
func (s *Session) State(now time.Time) SessionState {
	if s == nil {
		return StateAbsent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.deleted:
		return StateDeleted
	case s.expired, !s.Expires.IsZero() && !now.Before(s.Expires):
		return StateExpired
	}
	return StateActive
}

// Active reports whether chunk writes are still accepted at now.
func (s *Session) Active(now time.Time) bool {
	return s.State(now) == StateActive
}

// MarkExpired records that the backend has discarded the session.
func (s *Session) MarkExpired() {
	s.mu.Lock()
	s.expired = true
	s.mu.Unlock()
}

func (s *Session) markDeleted() {
	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()
}

// Ack records p and reports whether it was new. A chunk is counted once.
func (s *Session) Ack(p Part) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parts[p.Index]; ok {
		return false
	}
	s.parts[p.Index] = p
	return true
}

// Acked reports whether chunk i has been acknowledged.
func (s *Session) Acked(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.parts[i]
	return ok
}

// AckedCount returns the number of acknowledged chunks.
func (s *Session) AckedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parts)
}

// Parts returns acknowledged parts in index order.
func (s *Session) Parts() []Part {
	s.mu.Lock()
	parts := make([]Part, 0, len(s.parts))
	for _, p := range s.parts {
		parts = append(parts, p)
	}
	s.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].Index < parts[j].Index })
	return parts
}

// Pending returns the indexes still to upload, ascending.
func (s *Session) Pending() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for i := 0; i < s.ChunkCount; i++ {
		if _, ok := s.parts[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// UploadedBytes sums the sizes of acknowledged chunks.
func (s *Session) UploadedBytes() int64 {
	var n int64
	for _, p := range s.Parts() {
		n += s.chunk(p.Index, nil).Size
	}
	return n
}

// checkWritable fails without network traffic when s cannot take chunk writes.
func checkWritable(s *Session, now time.Time) error {
	switch s.State(now) {
	case StateAbsent:
		return NewError(KindInvalidCtxData, "no upload session")
	case StateExpired:
		return NewError(KindCtxExpired, "upload session "+s.ID+" has expired")
	case StateDeleted:
		return NewError(KindInvalidCtxData, "upload session "+s.ID+" was deleted")
	}
	return nil
}

// SessionManager creates and tears down upload sessions through the service API.
type SessionManager struct {
	t      *transport
	logger *zerolog.Logger
	now    func() time.Time
}

// Create opens a session for task.
func (m *SessionManager) Create(ctx context.Context, task *Task) (*Session, error) {
	req := createSessionRequest{
		PolicyID:   task.Policy.ID,
		PolicyType: string(task.Policy.Type),
		Name:       task.File.Name,
		Size:       task.File.Size,
		MimeType:   task.File.MimeType,
		Path:       task.Destination,
	}
	if !task.File.LastModified.IsZero() {
		req.LastModified = task.File.LastModified.UnixMilli()
	}

	var cred Credential
	resp, err := m.t.api(ctx, http.MethodPost, "/session", req, &cred)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		m.logger.Warn().Int("code", resp.Code).Str("msg", resp.Msg).Str("file", task.File.Name).Msg("failed to create upload session")
		return nil, NewAPIError(KindFailedCreateUploadSession, resp)
	}

	s := newSession(task, cred, m.now())
	m.logger.Info().
		Str("session", s.ID).
		Str("policy", string(task.Policy.Type)).
		Int("chunks", s.ChunkCount).
		Int64("chunk_size", s.ChunkSize).
		Msg("upload session created")
	return s, nil
}

// Delete tears s down. The session is gone for the caller even when the
// service rejects the call; the returned error is for reporting only.
func (m *SessionManager) Delete(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	s.markDeleted()

	resp, err := m.t.api(ctx, http.MethodDelete, "/session/"+url.PathEscape(s.ID), nil, nil)
	if err != nil {
		m.logger.Warn().Err(err).Str("session", s.ID).Msg("failed to delete upload session")
		return Wrap(KindFailedDeleteUploadSession, err)
	}
	if resp.Code != 0 {
		m.logger.Warn().Int("code", resp.Code).Str("session", s.ID).Msg("failed to delete upload session")
		return NewAPIError(KindFailedDeleteUploadSession, resp)
	}

	m.logger.Info().Str("session", s.ID).Msg("upload session deleted")
	return nil
}
