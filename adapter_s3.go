package uploader

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
)

var xmlErrorRoot = []byte("<Error>")

// s3Adapter uploads parts to presigned S3-compatible URLs. The OSS variant
// shares the part protocol but reports its own finish failures and has no callback.
type s3Adapter struct {
	chunkedBase
	t   *transport
	typ PolicyType
}

func (a *s3Adapter) Type() PolicyType { return a.typ }

func (a *s3Adapter) Ordered() bool { return false }

func (a *s3Adapter) UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error) {
	target, err := uploadURL(s, c.Index)
	if err != nil {
		return Part{}, err
	}

	raw, err := a.t.send(ctx, http.MethodPut, target, c.Reader(), octetHeader(s.File, c))
	if err != nil {
		return Part{}, err
	}
	if raw.ok() {
		return Part{Index: c.Index, ETag: raw.Header.Get("ETag")}, nil
	}

	doc, err := parseXMLError(raw.Body, false)
	if err != nil {
		return Part{}, err
	}
	return Part{}, NewXMLError(KindS3LikeChunkUploadFailed, doc, false)
}

func (a *s3Adapter) finishKind() Kind {
	if a.typ == PolicyOSS {
		return KindFailedFinishOSSUpload
	}
	return KindS3LikeChunkUploadFailed
}

func (a *s3Adapter) Finish(ctx context.Context, s *Session) error {
	body := completeMultipartUpload{}
	for _, p := range s.Parts() {
		body.Parts = append(body.Parts, completePart{PartNumber: p.Index + 1, ETag: p.ETag})
	}
	data, err := xml.Marshal(body)
	if err != nil {
		return NewHTTPError(s.Credential.CompleteURL, 0, err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/xml")
	raw, err := a.t.send(ctx, http.MethodPost, s.Credential.CompleteURL, bytes.NewReader(data), header)
	if err != nil {
		return err
	}
	// S3 may answer a failed completion with 200 and an Error document.
	if raw.ok() && !bytes.Contains(raw.Body, xmlErrorRoot) {
		return nil
	}

	doc, err := parseXMLError(raw.Body, true)
	if err != nil {
		return err
	}
	return NewXMLError(a.finishKind(), doc, true)
}

func (a *s3Adapter) Callback(ctx context.Context, s *Session) error {
	if a.typ != PolicyS3 {
		return nil
	}
	resp, err := a.t.api(ctx, http.MethodGet, callbackPath(PolicyS3, s), nil, nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return NewAPIError(KindS3LikeUploadCallbackFailed, resp)
	}
	return nil
}
