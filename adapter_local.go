package uploader

import (
	"context"
	"net/http"
)

// localAdapter writes chunks to the service's own storage.
type localAdapter struct {
	chunkedBase
	t *transport
}

func (a *localAdapter) Type() PolicyType { return PolicyLocal }

func (a *localAdapter) Ordered() bool { return true }

func (a *localAdapter) UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error) {
	resp, err := a.t.apiAt(ctx, a.t.endpoint, http.MethodPut, chunkPath(s, c), "", c.Reader(), nil)
	if err != nil {
		return Part{}, err
	}
	if resp.Code != 0 {
		return Part{}, NewChunkAPIError(KindLocalChunkUploadFailed, resp, c.Index)
	}
	return Part{Index: c.Index}, nil
}

// remoteAdapter writes chunks to a slave node using the session credential.
type remoteAdapter struct {
	chunkedBase
	t *transport
}

func (a *remoteAdapter) Type() PolicyType { return PolicyRemote }

func (a *remoteAdapter) Ordered() bool { return true }

func (a *remoteAdapter) UploadChunk(ctx context.Context, s *Session, c Chunk) (Part, error) {
	base, err := uploadURL(s, 0)
	if err != nil {
		return Part{}, err
	}

	resp, err := a.t.apiAt(ctx, base, http.MethodPut, chunkPath(s, c), s.Credential.Credential, c.Reader(), nil)
	if err != nil {
		return Part{}, err
	}
	if resp.Code != 0 {
		return Part{}, NewChunkAPIError(KindSlaveChunkUploadFailed, resp, c.Index)
	}
	return Part{Index: c.Index}, nil
}
