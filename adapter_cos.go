package uploader

import (
	"context"
	"net/http"
)

// cosAdapter posts the whole file to a Tencent COS bucket with a signed form.
type cosAdapter struct {
	postBase
	t *transport
}

func (a *cosAdapter) Type() PolicyType { return PolicyCOS }

func (a *cosAdapter) UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error) {
	target, err := uploadURL(s, 0)
	if err != nil {
		return Part{}, err
	}

	cred := s.Credential
	body, contentTypeHeader, err := buildForm([]formField{
		{"key", cred.Path},
		{"policy", cred.Policy},
		{"q-sign-algorithm", "sha1"},
		{"q-ak", cred.AccessKey},
		{"q-key-time", cred.KeyTime},
		{"q-signature", cred.Credential},
		{"success_action_status", "200"},
	}, s.File, c)
	if err != nil {
		return Part{}, NewHTTPError(target, 0, err)
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeHeader)
	raw, err := a.t.send(ctx, http.MethodPost, target, body, header)
	if err != nil {
		return Part{}, err
	}
	if raw.ok() {
		return Part{Index: c.Index, ETag: raw.Header.Get("ETag")}, nil
	}

	doc, err := parseXMLError(raw.Body, true)
	if err != nil {
		return Part{}, err
	}
	return Part{}, NewXMLError(KindCOSPostUploadFailed, doc, true)
}

func (a *cosAdapter) Callback(ctx context.Context, s *Session) error {
	resp, err := a.t.api(ctx, http.MethodGet, callbackPath(PolicyCOS, s), nil, nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return NewAPIError(KindCOSUploadCallbackFailed, resp)
	}
	return nil
}
