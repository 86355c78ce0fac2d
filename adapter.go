package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
)

var errMissingUploadURL = errors.New("session carries no upload URL for this chunk")

// Adapter uploads chunks to one kind of storage backend. Every error it
// returns is an *Error.
type Adapter interface {
	Type() PolicyType
	// Ordered reports whether chunks must complete in index order.
	Ordered() bool
	// Prepare rejects files the backend cannot take, before any request.
	Prepare(f FileMeta) error
	// ChunkSize returns the chunk size used for s.
	ChunkSize(s *Session) int64
	UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error)
	Finish(ctx context.Context, s *Session) error
}

// Callbacker is implemented by adapters that notify the service after Finish.
type Callbacker interface {
	Callback(ctx context.Context, s *Session) error
}

// defaultAdapters builds the stock adapter for every policy type.
func defaultAdapters(t *transport) map[PolicyType]Adapter {
	adapters := []Adapter{
		&localAdapter{t: t},
		&remoteAdapter{t: t},
		&oneDriveAdapter{t: t},
		&s3Adapter{t: t, typ: PolicyS3},
		&s3Adapter{t: t, typ: PolicyOSS},
		&cosAdapter{t: t},
		&upyunAdapter{t: t},
		&qiniuAdapter{t: t},
	}

	m := make(map[PolicyType]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Type()] = a
	}
	return m
}

// chunkedBase supplies the defaults of chunked backends.
type chunkedBase struct{}

func (chunkedBase) Prepare(FileMeta) error { return nil }

func (chunkedBase) ChunkSize(s *Session) int64 { return s.ChunkSize }

func (chunkedBase) Finish(context.Context, *Session) error { return nil }

// postBase supplies the defaults of backends taking the whole file in one form post.
type postBase struct{}

func (postBase) Ordered() bool { return false }

func (postBase) Prepare(FileMeta) error { return nil }

func (postBase) ChunkSize(s *Session) int64 {
	if s.File.Size > 0 {
		return s.File.Size
	}
	return 1
}

func (postBase) Finish(context.Context, *Session) error { return nil }

func uploadURL(s *Session, i int) (string, error) {
	if i < 0 || i >= len(s.Credential.UploadURLs) {
		return "", NewChunkError(KindInvalidCtxData, i, errMissingUploadURL)
	}
	return s.Credential.UploadURLs[i], nil
}

func sessionPath(s *Session, suffix string) string {
	return "/session/" + url.PathEscape(s.ID) + suffix
}

func chunkPath(s *Session, c Chunk) string {
	return sessionPath(s, "/chunk/"+strconv.Itoa(c.Index))
}

func callbackPath(typ PolicyType, s *Session) string {
	return "/callback/" + string(typ) + "/" + url.PathEscape(s.ID)
}

// contentType returns the declared type of f, or sniffs it from the chunk bytes.
func contentType(f FileMeta, c Chunk) string {
	if f.MimeType != "" {
		return f.MimeType
	}
	if c.src == nil || c.Size == 0 {
		return "application/octet-stream"
	}
	m, err := mimetype.DetectReader(io.NewSectionReader(c.src, c.Offset, c.Size))
	if err != nil {
		return "application/octet-stream"
	}
	return m.String()
}

type formField struct {
	name, value string
}

// buildForm encodes fields followed by the chunk as a multipart form.
func buildForm(fields []formField, f FileMeta, c Chunk) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for _, field := range fields {
		if field.value == "" {
			continue
		}
		if err := w.WriteField(field.name, field.value); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("Content-Type", contentType(f, c)); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, c.Reader()); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func octetHeader(f FileMeta, c Chunk) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentType(f, c))
	return h
}
