package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	headerAPIKey    = "X-API-KEY"
	headerRequestID = "X-Request-Id"
)

// transport performs HTTP exchanges and maps transport failures into the taxonomy.
type transport struct {
	endpoint   string
	accessKey  string
	httpClient *http.Client
	logger     *zerolog.Logger
}

type rawResponse struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *rawResponse) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func newTransport(endpoint, accessKey string, httpClient *http.Client, logger *zerolog.Logger) *transport {
	return &transport{
		endpoint:   strings.TrimRight(endpoint, "/"),
		accessKey:  accessKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// send issues a request against an arbitrary URL and reads the whole body.
func (t *transport) send(ctx context.Context, method, url string, body io.Reader, header http.Header) (*rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		t.logger.Error().Err(err).Str("url", url).Msg("failed to create request")
		return nil, NewHTTPError(url, 0, err)
	}
	if sized, ok := body.(interface{ Size() int64 }); ok {
		req.ContentLength = sized.Size()
		if req.ContentLength == 0 {
			req.Body = http.NoBody
			req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		}
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if req.Header.Get(headerRequestID) == "" {
		req.Header.Set(headerRequestID, uuid.NewString())
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if isCanceled(ctx, err) {
			t.logger.Debug().Str("method", method).Str("url", url).Msg("request canceled")
			return nil, NewCanceledError(err)
		}
		t.logger.Warn().Err(err).Str("method", method).Str("url", url).Msg("failed to send request")
		return nil, NewHTTPError(url, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isCanceled(ctx, err) {
			return nil, NewCanceledError(err)
		}
		t.logger.Warn().Err(err).Str("url", url).Msg("failed to read response body")
		return nil, NewTransformError(string(data), err)
	}

	t.logger.Debug().
		Str("method", method).
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("request_id", req.Header.Get(headerRequestID)).
		Msg("request done")

	return &rawResponse{
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// api calls the service API and returns its envelope. Transport and parse
// failures are returned as errors; a non-zero envelope code is left for the
// caller to wrap in its own kind. On success the envelope data is decoded into out.
func (t *transport) api(ctx context.Context, method, path string, in, out any) (*Response, error) {
	return t.apiAt(ctx, t.endpoint, method, path, "", in, out)
}

// apiAt is api against base, optionally sending an Authorization credential.
func (t *transport) apiAt(ctx context.Context, base, method, path, credential string, in, out any) (*Response, error) {
	url := strings.TrimRight(base, "/") + path

	var body io.Reader
	header := http.Header{}
	switch v := in.(type) {
	case nil:
	case io.Reader:
		body = v
		header.Set("Content-Type", "application/octet-stream")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.logger.Error().Err(err).Str("url", url).Msg("failed to marshal request body")
			return nil, NewHTTPError(url, 0, err)
		}
		body = bytes.NewReader(data)
		header.Set("Content-Type", "application/json")
	}
	if t.accessKey != "" {
		header.Set(headerAPIKey, t.accessKey)
	}
	if credential != "" {
		header.Set("Authorization", credential)
	}

	raw, err := t.send(ctx, method, url, body, header)
	if err != nil {
		return nil, err
	}

	resp, err := decodeEnvelope(raw.Body)
	if err != nil {
		if !raw.ok() {
			return nil, NewHTTPError(url, raw.StatusCode, nil)
		}
		return nil, err
	}

	if resp.Code == 0 && out != nil {
		if err := decodeJSON(resp.Data, out); err != nil {
			return nil, err
		}
	}
	return resp, nil
}
