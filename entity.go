package uploader

import (
	"encoding/json"
	"encoding/xml"
	"io"
)

// Response is the envelope returned by the service API.
type Response struct {
	Code  int             `json:"code"`
	Msg   string          `json:"msg"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type createSessionRequest struct {
	PolicyID     int    `json:"policy_id"`
	PolicyType   string `json:"policy_type"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type,omitempty"`
	LastModified int64  `json:"last_modified,omitempty"`
	Path         string `json:"path"`
}

// Credential is the backend specific part of a session, as issued by the service.
type Credential struct {
	SessionID   string   `json:"sessionID"`
	ChunkSize   int64    `json:"chunkSize"`
	Expires     int64    `json:"expires"`
	UploadURLs  []string `json:"uploadURLs,omitempty"`
	Credential  string   `json:"credential,omitempty"`
	UploadID    string   `json:"uploadID,omitempty"`
	Callback    string   `json:"callback,omitempty"`
	Policy      string   `json:"policy,omitempty"`
	AccessKey   string   `json:"ak,omitempty"`
	KeyTime     string   `json:"keyTime,omitempty"`
	Path        string   `json:"path,omitempty"`
	CompleteURL string   `json:"completeURL,omitempty"`
}

// OneDriveError is the error object of the Graph upload API.
type OneDriveError struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			Code string `json:"code"`
		} `json:"innererror"`
		RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
	} `json:"error"`
}

// QiniuError is the error object of the Qiniu upload API.
type QiniuError struct {
	Code  int    `json:"code,omitempty"`
	Error string `json:"error"`
}

// UpyunError is the error object of the Upyun form API.
type UpyunError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// XMLDocument is the error document of S3-like backends (S3, OSS, COS).
type XMLDocument struct {
	XMLName   xml.Name
	Code      string
	Message   string
	RequestID string
	HostID    string
	Resource  string

	HasCode    bool
	HasMessage bool
	Raw        string
}

// Chunk is one byte range of the file being uploaded.
type Chunk struct {
	Index  int
	Offset int64
	Size   int64
	Total  int64
	src    io.ReaderAt
}

// Reader returns a fresh reader over the chunk bytes.
func (c Chunk) Reader() io.Reader {
	return io.NewSectionReader(c.src, c.Offset, c.Size)
}

// Part is a chunk acknowledged by the backend.
type Part struct {
	Index int    `json:"index"`
	ETag  string `json:"etag,omitempty"`
}

type completePart struct {
	PartNumber int    `xml:"PartNumber" json:"partNumber"`
	ETag       string `xml:"ETag" json:"etag"`
}

type completeMultipartUpload struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []completePart `xml:"Part"`
}

type qiniuCompleteRequest struct {
	Parts    []completePart `json:"parts"`
	MimeType string         `json:"mimeType,omitempty"`
	FileName string         `json:"fname,omitempty"`
}

type qiniuPartResponse struct {
	ETag string `json:"etag"`
	MD5  string `json:"md5"`
}

// UploadOptions tunes a single Upload call.
type UploadOptions struct {
	// OnProgress is called after each acknowledged chunk. Calls never
	// overlap and uploaded never decreases, even with parallel chunks.
	OnProgress func(uploaded, total int64)
}

// UploadResult describes a completed upload.
type UploadResult struct {
	SessionID string
	TaskKey   string
	Parts     []Part
	Size      int64
	Resumed   bool
}
