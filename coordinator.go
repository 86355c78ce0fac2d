package uploader

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
)

var emptyReader io.ReaderAt = strings.NewReader("")

// Upload transfers task through the adapter of its policy. Failures are
// returned as *UploadError.
func (c *Client) Upload(ctx context.Context, task *Task, opts *UploadOptions) (*UploadResult, error) {
	res, err := c.upload(ctx, task, opts)
	if err != nil {
		return nil, c.uploadError(ctx, err)
	}
	return res, nil
}

func (c *Client) upload(ctx context.Context, task *Task, opts *UploadOptions) (*UploadResult, error) {
	if task == nil {
		return nil, NewError(KindInvalidFile, "no task")
	}
	if err := ValidateFile(task.Policy, task.File); err != nil {
		return nil, err
	}
	adapter, ok := c.adapters[task.Policy.Type]
	if !ok {
		return nil, NewUnknownPolicyError(task.Policy)
	}
	if err := adapter.Prepare(task.File); err != nil {
		return nil, err
	}

	src := task.Reader
	if src == nil {
		if task.File.Size > 0 {
			return nil, NewError(KindInvalidFile, "task has no content reader")
		}
		src = emptyReader
	}

	key := TaskKey(task.Policy, task.File, task.Destination)
	release, err := c.registry.Acquire(key)
	if err != nil {
		c.logger.Warn().Str("task", key).Str("file", task.File.Name).Msg("task already in progress")
		return nil, err
	}
	defer release()

	s, resumed := c.resume(ctx, key, task)
	if s == nil {
		s, err = c.createSession(ctx, task)
		if err != nil {
			return nil, err
		}
		s.layout(adapter.ChunkSize(s))
	}
	c.persist(ctx, s)

	log := c.logger.With().Str("session", s.ID).Str("policy", string(adapter.Type())).Logger()
	if resumed {
		log.Info().Int("acked", s.AckedCount()).Int("chunks", s.ChunkCount).Msg("resuming upload session")
	}

	if err := c.dispatch(ctx, adapter, s, src, opts); err != nil {
		log.Warn().Err(err).Int("acked", s.AckedCount()).Int("chunks", s.ChunkCount).Msg("chunk upload failed")
		c.abandon(ctx, s)
		return nil, err
	}

	err = c.attempt(ctx, s, c.cfg.Transfer.RequestTimeout, func(actx context.Context) error {
		return adapter.Finish(actx, s)
	})
	if err == nil {
		if cb, ok := adapter.(Callbacker); ok {
			err = c.attempt(ctx, s, c.cfg.Transfer.RequestTimeout, func(actx context.Context) error {
				return cb.Callback(actx, s)
			})
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to finish upload")
		c.abandon(ctx, s)
		return nil, err
	}

	c.forget(ctx, key)
	log.Info().Int64("size", s.File.Size).Int("chunks", s.ChunkCount).Msg("upload finished")

	return &UploadResult{
		SessionID: s.ID,
		TaskKey:   key,
		Parts:     s.Parts(),
		Size:      s.File.Size,
		Resumed:   resumed,
	}, nil
}

// resume returns the stored session for key when it can still take writes.
// Unusable snapshots are dropped.
func (c *Client) resume(ctx context.Context, key string, task *Task) (*Session, bool) {
	s, err := c.store.Load(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("task", key).Msg("discarding stored upload context")
		c.forget(ctx, key)
		return nil, false
	}
	if s == nil {
		return nil, false
	}
	if !s.Active(c.now()) || s.File.Size != task.File.Size {
		c.logger.Info().Str("task", key).Str("session", s.ID).Msg("stored upload session is no longer usable")
		c.forget(ctx, key)
		return nil, false
	}
	s.Policy = task.Policy
	return s, true
}

func (c *Client) createSession(ctx context.Context, task *Task) (*Session, error) {
	var s *Session
	err := c.attempt(ctx, nil, c.cfg.Transfer.RequestTimeout, func(actx context.Context) error {
		created, err := c.sessions.Create(actx, task)
		if err != nil {
			return err
		}
		s = created
		return nil
	})
	return s, err
}

// dispatch uploads the pending chunks of s. Ordered adapters get one chunk
// in flight at a time, in index order.
func (c *Client) dispatch(ctx context.Context, a Adapter, s *Session, src io.ReaderAt, opts *UploadOptions) error {
	limit := c.cfg.Transfer.Concurrency
	if a.Ordered() {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, i := range s.Pending() {
		if gctx.Err() != nil {
			break
		}
		chunk := s.chunk(i, src)
		g.Go(func() error {
			return c.uploadChunk(gctx, a, s, chunk, opts)
		})
	}
	return g.Wait()
}

func (c *Client) uploadChunk(ctx context.Context, a Adapter, s *Session, chunk Chunk, opts *UploadOptions) error {
	var part Part
	err := c.attempt(ctx, s, c.cfg.Transfer.ChunkTimeout, func(actx context.Context) error {
		p, err := a.UploadChunk(actx, s, chunk)
		if err != nil {
			return err
		}
		part = p
		return nil
	})
	if err != nil {
		return err
	}

	part.Index = chunk.Index
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if !s.Ack(part) {
		return nil
	}
	c.save(ctx, s)
	if opts != nil && opts.OnProgress != nil {
		opts.OnProgress(s.UploadedBytes(), s.File.Size)
	}
	return nil
}

// attempt runs fn under the retry policy. s, when set, is checked before and
// after every call. A done ctx ends the loop without another attempt; a
// per-attempt timeout does not.
func (c *Client) attempt(ctx context.Context, s *Session, timeout time.Duration, fn func(context.Context) error) error {
	retries := c.cfg.Transfer.retries()
	attempts := 0
	failures := make(map[Kind]int)

	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(NewCanceledError(ctx.Err()))
		}
		if s != nil {
			if err := checkWritable(s, c.now()); err != nil {
				return backoff.Permanent(err)
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(NewCanceledError(err))
			}
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}

		e := AsError(err)
		if ctx.Err() != nil {
			return backoff.Permanent(NewCanceledError(ctx.Err()))
		}
		if s != nil {
			if c.expired(e) {
				s.MarkExpired()
			}
			if werr := checkWritable(s, c.now()); werr != nil {
				return backoff.Permanent(werr)
			}
		}
		if !c.retry.Retryable(e) {
			return backoff.Permanent(e)
		}
		attempts++
		failures[e.Kind]++
		if failures[e.Kind] > c.retry.MaxRetries(e.Kind, retries) {
			return backoff.Permanent(e)
		}
		return e
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.cfg.Backoff(), uint64(retries)), ctx)
	return backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		ev := c.logger.Warn().Err(err).Str("kind", string(KindOf(err))).Int("attempt", attempts).Dur("delay", d)
		if s != nil {
			ev = ev.Str("session", s.ID)
		}
		if ce := AsError(err); ce != nil {
			if cd, ok := ce.Detail.(ChunkDetail); ok {
				ev = ev.Int("chunk", cd.Index)
			} else if ad, ok := ce.Detail.(APIDetail); ok && ad.ChunkIndex >= 0 {
				ev = ev.Int("chunk", ad.ChunkIndex)
			}
		}
		ev.Msg("retrying")
	})
}

// expired reports whether e carries an envelope code that means the
// backend discarded the session.
func (c *Client) expired(e *Error) bool {
	resp, ok := e.Response()
	if !ok {
		return false
	}
	for _, code := range c.cfg.ExpiredCodes {
		if resp.Code == code {
			return true
		}
	}
	return false
}

// abandon releases s after a failed upload. A resumable client keeps an active
// session and its snapshot; otherwise the session is deleted best-effort.
func (c *Client) abandon(ctx context.Context, s *Session) {
	cleanup := context.WithoutCancel(ctx)
	now := c.now()

	if c.cfg.Transfer.Resumable && s.Active(now) {
		c.persist(cleanup, s)
		c.logger.Info().Str("session", s.ID).Int("acked", s.AckedCount()).Msg("upload session kept for resume")
		return
	}

	c.forget(cleanup, s.TaskKey)
	if s.State(now) != StateActive {
		return
	}
	if c.cfg.Transfer.RequestTimeout > 0 {
		var cancel context.CancelFunc
		cleanup, cancel = context.WithTimeout(cleanup, c.cfg.Transfer.RequestTimeout)
		defer cancel()
	}
	_ = c.sessions.Delete(cleanup, s)
}

// persist saves a snapshot of s. Store failures never fail the upload.
func (c *Client) persist(ctx context.Context, s *Session) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	c.save(ctx, s)
}

// save requires s.saveMu so snapshots reach the store in ack order.
func (c *Client) save(ctx context.Context, s *Session) {
	if err := c.store.Save(ctx, s); err != nil {
		c.logger.Warn().Err(err).Str("session", s.ID).Msg("failed to persist upload context")
	}
}

func (c *Client) forget(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("task", key).Msg("failed to remove upload context")
	}
}
