package uploader

import (
	"time"

	"github.com/cenkalti/backoff"
)

// TransientCode is the envelope code the service uses for failures worth repeating.
const TransientCode = -1

// DefaultRetryableKinds returns the kinds retried when no other policy is configured.
func DefaultRetryableKinds() []Kind {
	return []Kind{
		KindFailedCreateUploadSession,
		KindHTTPRequestFailed,
		KindLocalChunkUploadFailed,
		KindSlaveChunkUploadFailed,
		KindRequestCanceled,
		KindProcessingTaskDuplicated,
		KindFailedTransformResponse,
	}
}

// DefaultTransientCodes returns the envelope codes treated as transient by default.
func DefaultTransientCodes() []int {
	return []int{TransientCode}
}

var defaultRetryPolicy = DefaultRetryPolicy()

// RetryPolicy decides which failures may be repeated without caller intervention.
// A policy is immutable; the With* methods return modified copies.
type RetryPolicy struct {
	kinds map[Kind]struct{}
	codes map[int]struct{}
	caps  map[Kind]int
}

// NewRetryPolicy builds a policy retrying kinds, where API-backed failures
// additionally need one of codes in their envelope.
func NewRetryPolicy(kinds []Kind, codes []int) *RetryPolicy {
	p := &RetryPolicy{
		kinds: make(map[Kind]struct{}, len(kinds)),
		codes: make(map[int]struct{}, len(codes)),
		caps:  make(map[Kind]int),
	}
	for _, k := range kinds {
		p.kinds[k] = struct{}{}
	}
	for _, c := range codes {
		p.codes[c] = struct{}{}
	}
	return p
}

// DefaultRetryPolicy returns the stock policy. Unparsable responses are
// repeated at most once.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(DefaultRetryableKinds(), DefaultTransientCodes()).
		WithKindRetries(KindFailedTransformResponse, 1)
}

func (p *RetryPolicy) clone() *RetryPolicy {
	c := &RetryPolicy{
		kinds: make(map[Kind]struct{}, len(p.kinds)),
		codes: make(map[int]struct{}, len(p.codes)),
		caps:  make(map[Kind]int, len(p.caps)),
	}
	for k := range p.kinds {
		c.kinds[k] = struct{}{}
	}
	for k := range p.codes {
		c.codes[k] = struct{}{}
	}
	for k, v := range p.caps {
		c.caps[k] = v
	}
	return c
}

// WithKindRetries caps the number of retries for kind at n.
func (p *RetryPolicy) WithKindRetries(kind Kind, n int) *RetryPolicy {
	c := p.clone()
	c.caps[kind] = n
	return c
}

// KindRetryable reports whether kind is in the retryable set.
func (p *RetryPolicy) KindRetryable(kind Kind) bool {
	_, ok := p.kinds[kind]
	return ok
}

// TransientCode reports whether an envelope code is in the transient set.
func (p *RetryPolicy) TransientCode(code int) bool {
	_, ok := p.codes[code]
	return ok
}

// Retryable reports whether err may be repeated. API-backed errors need a
// retryable kind and a transient envelope code.
func (p *RetryPolicy) Retryable(err error) bool {
	e := AsError(err)
	if e == nil || !p.KindRetryable(e.Kind) {
		return false
	}
	if d, ok := e.Detail.(APIDetail); ok {
		return d.Response != nil && p.TransientCode(d.Response.Code)
	}
	return true
}

// MaxRetries returns the retry budget for kind, bounded by fallback.
func (p *RetryPolicy) MaxRetries(kind Kind, fallback int) int {
	if n, ok := p.caps[kind]; ok && n < fallback {
		return n
	}
	return fallback
}

// BackoffFactory produces a fresh schedule for one retried operation.
type BackoffFactory func() backoff.BackOff

// ExponentialBackoff returns a factory of exponential schedules between
// initial and max, without an elapsed time limit.
func ExponentialBackoff(initial, max time.Duration) BackoffFactory {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		return b
	}
}
