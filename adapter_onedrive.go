package uploader

import (
	"context"
	"fmt"
	"net/http"
)

// oneDriveAdapter uploads ranges to a Graph upload session URL.
type oneDriveAdapter struct {
	chunkedBase
	t *transport
}

func (a *oneDriveAdapter) Type() PolicyType { return PolicyOneDrive }

// Ordered is true: Graph upload sessions accept ranges in sequence only.
func (a *oneDriveAdapter) Ordered() bool { return true }

func (a *oneDriveAdapter) Prepare(f FileMeta) error {
	if f.Size == 0 {
		return NewError(KindOneDriveEmptyFile, "empty file not supported")
	}
	return nil
}

func (a *oneDriveAdapter) UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error) {
	target, err := uploadURL(s, 0)
	if err != nil {
		return Part{}, err
	}

	header := octetHeader(s.File, c)
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", c.Offset, c.Offset+c.Size-1, c.Total))

	raw, err := a.t.send(ctx, http.MethodPut, target, c.Reader(), header)
	if err != nil {
		return Part{}, err
	}
	if raw.ok() {
		return Part{Index: c.Index}, nil
	}

	var od OneDriveError
	if err := decodeJSON(raw.Body, &od); err != nil {
		return Part{}, err
	}
	return Part{}, NewOneDriveChunkError(&od)
}

func (a *oneDriveAdapter) Finish(ctx context.Context, s *Session) error {
	resp, err := a.t.api(ctx, http.MethodPost, callbackPath(PolicyOneDrive, s), nil, nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return NewAPIError(KindFailedFinishOneDriveUpload, resp)
	}
	return nil
}
