package uploader

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// PolicyType discriminates storage backends.
type PolicyType string

const (
	PolicyLocal    PolicyType = "local"
	PolicyRemote   PolicyType = "remote"
	PolicyOneDrive PolicyType = "onedrive"
	PolicyS3       PolicyType = "s3"
	PolicyOSS      PolicyType = "oss"
	PolicyCOS      PolicyType = "cos"
	PolicyUpyun    PolicyType = "upyun"
	PolicyQiniu    PolicyType = "qiniu"
)

// Known reports whether t names a supported backend.
func (t PolicyType) Known() bool {
	switch t {
	case PolicyLocal, PolicyRemote, PolicyOneDrive, PolicyS3, PolicyOSS, PolicyCOS, PolicyUpyun, PolicyQiniu:
		return true
	}
	return false
}

// Policy is the storage configuration an upload is bound to.
// It is not modified once handed to the client.
type Policy struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	Type          PolicyType `json:"type"`
	MaxSize       uint64     `json:"max_size"`
	AllowedSuffix []string   `json:"allowed_suffix,omitempty"`
	ChunkSize     int64      `json:"chunk_size"`
}

// FileMeta describes the file being uploaded.
type FileMeta struct {
	Name         string    `json:"name" validate:"required"`
	Size         int64     `json:"size" validate:"gte=0"`
	MimeType     string    `json:"mime_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

var fileValidator = validator.New()

// ValidateFile checks f against p without touching the network.
func ValidateFile(p *Policy, f FileMeta) error {
	if p == nil {
		return NewError(KindNoPolicySelected, "no policy selected")
	}
	if !p.Type.Known() {
		return NewUnknownPolicyError(p)
	}
	if err := fileValidator.Struct(f); err != nil {
		return NewError(KindInvalidFile, err.Error())
	}

	if p.MaxSize > 0 && uint64(f.Size) > p.MaxSize {
		return NewValidationError(
			fmt.Sprintf("file %s exceeds size limit %d", f.Name, p.MaxSize),
			FieldSize,
			p,
		)
	}

	if len(p.AllowedSuffix) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
		for _, s := range p.AllowedSuffix {
			if strings.ToLower(strings.TrimPrefix(s, ".")) == ext {
				return nil
			}
		}
		return NewValidationError(
			fmt.Sprintf("file %s has a disallowed suffix", f.Name),
			FieldSuffix,
			p,
		)
	}

	return nil
}
