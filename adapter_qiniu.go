package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// qiniuAdapter drives Qiniu's multipart upload v2 API.
type qiniuAdapter struct {
	chunkedBase
	t *transport
}

func (a *qiniuAdapter) Type() PolicyType { return PolicyQiniu }

func (a *qiniuAdapter) Ordered() bool { return false }

func (a *qiniuAdapter) header(s *Session, contentType string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "UpToken "+s.Credential.Credential)
	h.Set("Content-Type", contentType)
	return h
}

func (a *qiniuAdapter) UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error) {
	base, err := uploadURL(s, 0)
	if err != nil {
		return Part{}, err
	}
	target := strings.TrimRight(base, "/") + "/" + strconv.Itoa(c.Index+1)

	raw, err := a.t.send(ctx, http.MethodPut, target, c.Reader(), a.header(s, "application/octet-stream"))
	if err != nil {
		return Part{}, err
	}
	if !raw.ok() {
		var qe QiniuError
		if err := decodeJSON(raw.Body, &qe); err != nil {
			return Part{}, err
		}
		return Part{}, NewQiniuError(KindQiniuChunkUploadFailed, &qe)
	}

	var pr qiniuPartResponse
	if err := decodeJSON(raw.Body, &pr); err != nil {
		return Part{}, err
	}
	return Part{Index: c.Index, ETag: pr.ETag}, nil
}

func (a *qiniuAdapter) Finish(ctx context.Context, s *Session) error {
	base, err := uploadURL(s, 0)
	if err != nil {
		return err
	}

	req := qiniuCompleteRequest{FileName: s.File.Name, MimeType: s.File.MimeType}
	for _, p := range s.Parts() {
		req.Parts = append(req.Parts, completePart{PartNumber: p.Index + 1, ETag: p.ETag})
	}
	data, err := json.Marshal(req)
	if err != nil {
		return NewHTTPError(base, 0, err)
	}

	raw, err := a.t.send(ctx, http.MethodPost, base, bytes.NewReader(data), a.header(s, "application/json"))
	if err != nil {
		return err
	}
	if raw.ok() {
		return nil
	}

	var qe QiniuError
	if err := decodeJSON(raw.Body, &qe); err != nil {
		return err
	}
	return NewQiniuError(KindFailedFinishQiniuUpload, &qe)
}
