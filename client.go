package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client uploads files through the adapter matching each task's policy.
type Client struct {
	cfg      Config
	t        *transport
	sessions *SessionManager
	adapters map[PolicyType]Adapter
	registry *Registry
	store    Store
	retry    *RetryPolicy
	limiter  *rate.Limiter
	logger   *zerolog.Logger
	now      func() time.Time
}

type IClient interface {
	Upload(ctx context.Context, task *Task, opts *UploadOptions) (*UploadResult, error)
	DeleteSession(ctx context.Context, s *Session) error
}

var _ IClient = (*Client)(nil)

// NewClient creates a new upload client
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	t := newTransport(cfg.Endpoint, cfg.AccessKey, cfg.HTTPClient, cfg.Logger)
	c := &Client{
		cfg:      cfg,
		t:        t,
		sessions: &SessionManager{t: t, logger: cfg.Logger, now: cfg.Now},
		adapters: defaultAdapters(t),
		registry: NewRegistry(),
		store:    cfg.Store,
		retry:    cfg.Retry,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if cfg.Transfer.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Transfer.RequestsPerSecond), cfg.Transfer.Burst)
	}
	return c, nil
}

// NewClientWithDefaults creates a new upload client with default options
func NewClientWithDefaults(endpoint, accessKey string) (*Client, error) {
	return NewClient(Config{Endpoint: endpoint, AccessKey: accessKey})
}

// RegisterAdapter replaces the adapter used for a.Type().
func (c *Client) RegisterAdapter(a Adapter) {
	c.adapters[a.Type()] = a
}

// Adapter returns the adapter bound to typ.
func (c *Client) Adapter(typ PolicyType) (Adapter, bool) {
	a, ok := c.adapters[typ]
	return a, ok
}

// Sessions exposes the session manager.
func (c *Client) Sessions() *SessionManager {
	return c.sessions
}

// Registry exposes the in-flight task registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// DeleteSession tears down s and drops its stored context.
func (c *Client) DeleteSession(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	c.forget(ctx, s.TaskKey)
	return c.sessions.Delete(ctx, s)
}

// UploadError is returned by Upload. CanceledByCaller is set when the
// caller's context ended the upload, as opposed to a request aborted under it.
type UploadError struct {
	Err              *Error
	CanceledByCaller bool
}

func (e *UploadError) Error() string {
	return e.Err.Error()
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsCanceledByCaller reports whether err ended an upload because the caller canceled it.
func IsCanceledByCaller(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue) && ue.CanceledByCaller
}

func (c *Client) uploadError(ctx context.Context, err error) error {
	e := AsError(err)
	if ctx.Err() != nil && e.Kind != KindRequestCanceled && e.Kind != KindProcessingTaskDuplicated {
		e = NewCanceledError(ctx.Err())
	}
	return &UploadError{
		Err:              e,
		CanceledByCaller: ctx.Err() != nil && e.Kind == KindRequestCanceled,
	}
}
