package uploader

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"github.com/rs/zerolog"
)

// DefaultExpiredCodes are the envelope codes with which the service reports
// a discarded upload session.
var DefaultExpiredCodes = []int{40011}

// TransferConfig holds the numeric tuning of a client.
type TransferConfig struct {
	// ChunkRetries bounds automatic retries of a single operation.
	// Zero takes the default; -1 disables retries.
	ChunkRetries int `default:"5" validate:"gte=-1,lte=100"`
	// Concurrency bounds in-flight chunks for adapters without ordering constraints.
	Concurrency int `default:"3" validate:"gte=1,lte=64"`

	ChunkTimeout   time.Duration `default:"10m" validate:"gte=0"`
	RequestTimeout time.Duration `default:"30s" validate:"gte=0"`

	BackoffInitial time.Duration `default:"500ms" validate:"gte=0"`
	BackoffMax     time.Duration `default:"30s" validate:"gte=0"`

	// RequestsPerSecond paces chunk requests; zero disables pacing.
	RequestsPerSecond float64 `validate:"gte=0"`
	Burst             int     `default:"1" validate:"gte=1"`

	// Resumable keeps an active session and its stored context when an upload fails.
	Resumable bool
}

// NoRetries disables automatic retries when set as ChunkRetries.
const NoRetries = -1

func (t TransferConfig) retries() int {
	if t.ChunkRetries < 0 {
		return 0
	}
	return t.ChunkRetries
}

// Config configures a Client. Zero values receive defaults.
type Config struct {
	Endpoint  string `validate:"required,url"`
	AccessKey string

	Transfer TransferConfig

	// ExpiredCodes are envelope codes that mark the session as expired.
	ExpiredCodes []int `validate:"-"`

	HTTPClient *http.Client     `validate:"-"`
	Logger     *zerolog.Logger  `validate:"-"`
	Retry      *RetryPolicy     `validate:"-"`
	Backoff    BackoffFactory   `validate:"-"`
	Store      Store            `validate:"-"`
	Now        func() time.Time `validate:"-"`
}

var configValidator = validator.New()

func defaultLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).With().Timestamp().Str("component", "uploader").Logger()
	return &l
}

// normalize fills defaults and validates the result.
func (c *Config) normalize() error {
	defaults.SetDefaults(&c.Transfer)

	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("uploader: invalid config: %w", err)
	}

	if c.ExpiredCodes == nil {
		c.ExpiredCodes = DefaultExpiredCodes
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
	if c.Retry == nil {
		c.Retry = DefaultRetryPolicy()
	}
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff(c.Transfer.BackoffInitial, c.Transfer.BackoffMax)
	}
	if c.Store == nil {
		c.Store = NewMemoryStore()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}
