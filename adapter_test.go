package uploader

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adapterContent = "0123456789"

func newTestTransport(t *testing.T, h http.Handler) (*transport, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	nop := zerolog.Nop()
	return newTransport(srv.URL, "test-key", srv.Client(), &nop), srv
}

func adapterSession(chunkSize int64, cred Credential) (*Session, io.ReaderAt) {
	s := &Session{
		ID:         "sess-1",
		File:       FileMeta{Name: "digits.txt", Size: int64(len(adapterContent)), MimeType: "text/plain"},
		Credential: cred,
		parts:      make(map[int]Part),
	}
	s.layout(chunkSize)
	return s, strings.NewReader(adapterContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLocalAdapter(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Put("/session/{id}/chunk/{index}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-1", chi.URLParam(r, "id"))
		assert.Equal(t, "test-key", r.Header.Get(headerAPIKey))
		assert.NotEmpty(t, r.Header.Get(headerRequestID))
		if chi.URLParam(r, "index") == "2" {
			writeJSON(w, http.StatusOK, Response{Code: 40001, Msg: "chunk rejected"})
			return
		}
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		writeJSON(w, http.StatusOK, Response{})
	})
	tr, _ := newTestTransport(t, r)
	a := &localAdapter{t: tr}
	s, src := adapterSession(4, Credential{})

	assert.True(t, a.Ordered())
	assert.Equal(t, int64(4), a.ChunkSize(s))

	part, err := a.UploadChunk(context.Background(), s, s.chunk(1, src))
	require.NoError(t, err)
	assert.Equal(t, 1, part.Index)
	assert.Equal(t, "4567", got)

	_, err = a.UploadChunk(context.Background(), s, s.chunk(2, src))
	require.Error(t, err)
	e := AsError(err)
	assert.Equal(t, KindLocalChunkUploadFailed, e.Kind)
	assert.Equal(t, "Chunk [2] upload failed: chunk rejected", e.Error())
	assert.False(t, e.Retryable())
}

func TestRemoteAdapter(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/slave/session/{id}/chunk/{index}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "signed" {
			writeJSON(w, http.StatusOK, Response{Code: -1, Msg: "bad signature"})
			return
		}
		writeJSON(w, http.StatusOK, Response{})
	})
	tr, srv := newTestTransport(t, r)
	a := &remoteAdapter{t: tr}

	s, src := adapterSession(4, Credential{UploadURLs: []string{srv.URL + "/slave"}, Credential: "signed"})
	_, err := a.UploadChunk(context.Background(), s, s.chunk(0, src))
	require.NoError(t, err)

	s.Credential.Credential = "forged"
	_, err = a.UploadChunk(context.Background(), s, s.chunk(0, src))
	assert.Equal(t, KindSlaveChunkUploadFailed, KindOf(err))
	assert.True(t, AsError(err).Retryable())

	s.Credential.UploadURLs = nil
	_, err = a.UploadChunk(context.Background(), s, s.chunk(0, src))
	assert.ErrorIs(t, err, ErrInvalidCtxData)
}

func TestOneDriveAdapter(t *testing.T) {
	r := chi.NewRouter()
	r.Put("/od", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Range") == "bytes 4-7/10" {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusRequestedRangeNotSatisfiable, map[string]any{
			"error": map[string]any{"code": "invalidRange", "message": "range mismatch"},
		})
	})
	r.Post("/callback/onedrive/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{})
	})
	tr, srv := newTestTransport(t, r)
	a := &oneDriveAdapter{t: tr}

	assert.ErrorIs(t, a.Prepare(FileMeta{Name: "empty"}), ErrOneDriveEmptyFile)
	assert.NoError(t, a.Prepare(FileMeta{Name: "full", Size: 1}))

	s, src := adapterSession(4, Credential{UploadURLs: []string{srv.URL + "/od"}})
	_, err := a.UploadChunk(context.Background(), s, s.chunk(1, src))
	require.NoError(t, err)

	_, err = a.UploadChunk(context.Background(), s, s.chunk(2, src))
	require.Error(t, err)
	e := AsError(err)
	assert.Equal(t, KindOneDriveChunkUploadFailed, e.Kind)
	assert.Equal(t, "Chunk upload failed: range mismatch", e.Error())
	d, ok := e.Detail.(OneDriveDetail)
	require.True(t, ok)
	assert.Equal(t, "invalidRange", d.Response.Error.Code)

	assert.NoError(t, a.Finish(context.Background(), s))
}

func TestS3Adapter(t *testing.T) {
	var completed completeMultipartUpload
	r := chi.NewRouter()
	r.Put("/part/{n}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "n") == "3" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `<Error><Code>SignatureDoesNotMatch</Code><Message>bad signature</Message></Error>`)
			return
		}
		w.Header().Set("ETag", `"etag-`+chi.URLParam(r, "n")+`"`)
	})
	r.Post("/complete", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, xml.NewDecoder(r.Body).Decode(&completed))
		_, _ = io.WriteString(w, `<Error><Code>InvalidPart</Code><Message>part missing</Message></Error>`)
	})
	r.Post("/complete-garbled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `<Error><Code>InternalError</Code></Error>`)
	})
	r.Get("/callback/s3/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{Code: 40020, Msg: "object missing"})
	})
	tr, srv := newTestTransport(t, r)
	a := &s3Adapter{t: tr, typ: PolicyS3}

	s, src := adapterSession(4, Credential{
		UploadURLs:  []string{srv.URL + "/part/1", srv.URL + "/part/2", srv.URL + "/part/3"},
		CompleteURL: srv.URL + "/complete",
	})
	assert.False(t, a.Ordered())

	part, err := a.UploadChunk(context.Background(), s, s.chunk(1, src))
	require.NoError(t, err)
	assert.Equal(t, `"etag-2"`, part.ETag)

	_, err = a.UploadChunk(context.Background(), s, s.chunk(2, src))
	assert.Equal(t, KindS3LikeChunkUploadFailed, KindOf(err))
	assert.Equal(t, "Chunk upload failed: bad signature", err.Error())

	s.Ack(Part{Index: 1, ETag: `"etag-2"`})
	s.Ack(Part{Index: 0, ETag: `"etag-1"`})
	err = a.Finish(context.Background(), s)
	assert.Equal(t, KindS3LikeChunkUploadFailed, KindOf(err))
	assert.Equal(t, "Failed to finish upload: part missing (InvalidPart)", err.Error())
	require.Len(t, completed.Parts, 2)
	assert.Equal(t, 1, completed.Parts[0].PartNumber)
	assert.Equal(t, `"etag-2"`, completed.Parts[1].ETag)

	oss := &s3Adapter{t: tr, typ: PolicyOSS}
	assert.Equal(t, KindFailedFinishOSSUpload, KindOf(oss.Finish(context.Background(), s)))
	assert.NoError(t, oss.Callback(context.Background(), s))

	s.Credential.CompleteURL = srv.URL + "/complete-garbled"
	assert.ErrorIs(t, a.Finish(context.Background(), s), ErrFailedTransformResponse)

	assert.Equal(t, KindS3LikeUploadCallbackFailed, KindOf(a.Callback(context.Background(), s)))
}

func TestCOSAdapter(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/cos", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		if r.FormValue("q-signature") != "sig" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		assert.Equal(t, "uploads/digits.txt", r.FormValue("key"))
		assert.Equal(t, "ak-1", r.FormValue("q-ak"))
		assert.Equal(t, "sha1", r.FormValue("q-sign-algorithm"))
		assert.Equal(t, "200", r.FormValue("success_action_status"))
		if f, _, err := r.FormFile("file"); assert.NoError(t, err) {
			body, _ := io.ReadAll(f)
			assert.Equal(t, adapterContent, string(body))
		}
		w.Header().Set("ETag", `"cos"`)
	})
	r.Get("/callback/cos/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{})
	})
	tr, srv := newTestTransport(t, r)
	a := &cosAdapter{t: tr}

	s, src := adapterSession(int64(len(adapterContent)), Credential{
		UploadURLs: []string{srv.URL + "/cos"},
		Path:       "uploads/digits.txt",
		AccessKey:  "ak-1",
		KeyTime:    "1;2",
		Policy:     "cG9saWN5",
		Credential: "sig",
	})
	assert.Equal(t, int64(10), a.ChunkSize(s))
	assert.Equal(t, 1, s.ChunkCount)

	part, err := a.UploadChunk(context.Background(), s, s.chunk(0, src))
	require.NoError(t, err)
	assert.Equal(t, `"cos"`, part.ETag)
	assert.NoError(t, a.Callback(context.Background(), s))

	s.Credential.Credential = "forged"
	_, err = a.UploadChunk(context.Background(), s, s.chunk(0, src))
	assert.Equal(t, KindCOSPostUploadFailed, KindOf(err))
	assert.Equal(t, "Upload failed: denied (AccessDenied)", err.Error())
}

func TestUpyunAdapter(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/upyun", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		if r.FormValue("authorization") != "UPYUN op:sig" {
			writeJSON(w, http.StatusUnauthorized, UpyunError{Code: 40100016, Message: "invalid signature"})
			return
		}
		assert.Equal(t, "policy-b64", r.FormValue("policy"))
		writeJSON(w, http.StatusOK, map[string]any{"code": 200})
	})
	tr, srv := newTestTransport(t, r)
	a := &upyunAdapter{t: tr}

	s, src := adapterSession(a.ChunkSize(&Session{File: FileMeta{Size: 10}}), Credential{
		UploadURLs: []string{srv.URL + "/upyun"},
		Policy:     "policy-b64",
		Credential: "UPYUN op:sig",
	})
	_, err := a.UploadChunk(context.Background(), s, s.chunk(0, src))
	require.NoError(t, err)

	s.Credential.Credential = "UPYUN op:bad"
	_, err = a.UploadChunk(context.Background(), s, s.chunk(0, src))
	assert.Equal(t, KindUpyunPostUploadFailed, KindOf(err))
	assert.Equal(t, "Upload failed: invalid signature", err.Error())
}

func TestQiniuAdapter(t *testing.T) {
	var finished qiniuCompleteRequest
	r := chi.NewRouter()
	r.Put("/qiniu/{n}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "UpToken tok" {
			writeJSON(w, http.StatusUnauthorized, QiniuError{Error: "bad token"})
			return
		}
		writeJSON(w, http.StatusOK, qiniuPartResponse{ETag: "q" + chi.URLParam(r, "n")})
	})
	r.Post("/qiniu", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&finished))
		if len(finished.Parts) != 3 {
			writeJSON(w, 612, QiniuError{Error: "no such upload"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": "digits.txt"})
	})
	tr, srv := newTestTransport(t, r)
	a := &qiniuAdapter{t: tr}

	s, src := adapterSession(4, Credential{UploadURLs: []string{srv.URL + "/qiniu"}, Credential: "tok"})
	for i := 0; i < s.ChunkCount; i++ {
		part, err := a.UploadChunk(context.Background(), s, s.chunk(i, src))
		require.NoError(t, err)
		s.Ack(part)
	}
	assert.Equal(t, "q3", s.Parts()[2].ETag)

	require.NoError(t, a.Finish(context.Background(), s))
	assert.Equal(t, "digits.txt", finished.FileName)
	assert.Equal(t, 1, finished.Parts[0].PartNumber)

	s.parts = map[int]Part{0: {Index: 0, ETag: "q1"}}
	err := a.Finish(context.Background(), s)
	assert.Equal(t, KindFailedFinishQiniuUpload, KindOf(err))
	assert.Equal(t, "Failed to finish upload: no such upload", err.Error())

	s.Credential.Credential = "stale"
	_, err = a.UploadChunk(context.Background(), s, s.chunk(0, src))
	assert.Equal(t, KindQiniuChunkUploadFailed, KindOf(err))
}

func TestTransportMapsFailures(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/gateway", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})
	r.Get("/garbled", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	})
	tr, _ := newTestTransport(t, r)

	_, err := tr.api(context.Background(), http.MethodGet, "/gateway", nil, nil)
	require.Error(t, err)
	d, ok := AsError(err).Detail.(HTTPDetail)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, d.StatusCode)

	_, err = tr.api(context.Background(), http.MethodGet, "/garbled", nil, nil)
	assert.ErrorIs(t, err, ErrFailedTransformResponse)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.api(ctx, http.MethodGet, "/garbled", nil, nil)
	assert.ErrorIs(t, err, ErrRequestCanceled)
}

func TestContentTypeSniffing(t *testing.T) {
	png := "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 16)
	c := Chunk{Size: int64(len(png)), src: strings.NewReader(png)}

	assert.Equal(t, "image/png", contentType(FileMeta{}, c))
	assert.Equal(t, "text/csv", contentType(FileMeta{MimeType: "text/csv"}, c))
	assert.Equal(t, "application/octet-stream", contentType(FileMeta{}, Chunk{}))
}
