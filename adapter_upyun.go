package uploader

import (
	"context"
	"net/http"
)

// upyunAdapter posts the whole file to Upyun's form API.
type upyunAdapter struct {
	postBase
	t *transport
}

func (a *upyunAdapter) Type() PolicyType { return PolicyUpyun }

func (a *upyunAdapter) UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error) {
	target, err := uploadURL(s, 0)
	if err != nil {
		return Part{}, err
	}

	body, contentTypeHeader, err := buildForm([]formField{
		{"policy", s.Credential.Policy},
		{"authorization", s.Credential.Credential},
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
		return Part{Index: c.Index}, nil
	}

	var ue UpyunError
	if err := decodeJSON(raw.Body, &ue); err != nil {
		return Part{}, err
	}
	return Part{}, NewUpyunError(&ue)
}
