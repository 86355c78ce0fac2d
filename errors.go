package uploader

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// Kind names a failure in the upload pipeline. The set is closed; see Kinds.
type Kind string

const (
	KindInvalidFile                Kind = "InvalidFile"
	KindNoPolicySelected           Kind = "NoPolicySelected"
	KindUnknownPolicyType          Kind = "UnknownPolicyType"
	KindFailedCreateUploadSession  Kind = "FailedCreateUploadSession"
	KindFailedDeleteUploadSession  Kind = "FailedDeleteUploadSession"
	KindHTTPRequestFailed          Kind = "HTTPRequestFailed"
	KindLocalChunkUploadFailed     Kind = "LocalChunkUploadFailed"
	KindSlaveChunkUploadFailed     Kind = "SlaveChunkUploadFailed"
	KindWriteCtxFailed             Kind = "WriteCtxFailed"
	KindRemoveCtxFailed            Kind = "RemoveCtxFailed"
	KindReadCtxFailed              Kind = "ReadCtxFailed"
	KindInvalidCtxData             Kind = "InvalidCtxData"
	KindCtxExpired                 Kind = "CtxExpired"
	KindRequestCanceled            Kind = "RequestCanceled"
	KindProcessingTaskDuplicated   Kind = "ProcessingTaskDuplicated"
	KindOneDriveChunkUploadFailed  Kind = "OneDriveChunkUploadFailed"
	KindOneDriveEmptyFile          Kind = "OneDriveEmptyFile"
	KindFailedFinishOneDriveUpload Kind = "FailedFinishOneDriveUpload"
	KindS3LikeChunkUploadFailed    Kind = "S3LikeChunkUploadFailed"
	KindS3LikeUploadCallbackFailed Kind = "S3LikeUploadCallbackFailed"
	KindCOSUploadCallbackFailed    Kind = "COSUploadCallbackFailed"
	KindCOSPostUploadFailed        Kind = "COSPostUploadFailed"
	KindUpyunPostUploadFailed      Kind = "UpyunPostUploadFailed"
	KindQiniuChunkUploadFailed     Kind = "QiniuChunkUploadFailed"
	KindFailedFinishOSSUpload      Kind = "FailedFinishOSSUpload"
	KindFailedFinishQiniuUpload    Kind = "FailedFinishQiniuUpload"
	KindFailedTransformResponse    Kind = "FailedTransformResponse"
)

var allKinds = []Kind{
	KindInvalidFile,
	KindNoPolicySelected,
	KindUnknownPolicyType,
	KindFailedCreateUploadSession,
	KindFailedDeleteUploadSession,
	KindHTTPRequestFailed,
	KindLocalChunkUploadFailed,
	KindSlaveChunkUploadFailed,
	KindWriteCtxFailed,
	KindRemoveCtxFailed,
	KindReadCtxFailed,
	KindInvalidCtxData,
	KindCtxExpired,
	KindRequestCanceled,
	KindProcessingTaskDuplicated,
	KindOneDriveChunkUploadFailed,
	KindOneDriveEmptyFile,
	KindFailedFinishOneDriveUpload,
	KindS3LikeChunkUploadFailed,
	KindS3LikeUploadCallbackFailed,
	KindCOSUploadCallbackFailed,
	KindCOSPostUploadFailed,
	KindUpyunPostUploadFailed,
	KindQiniuChunkUploadFailed,
	KindFailedFinishOSSUpload,
	KindFailedFinishQiniuUpload,
	KindFailedTransformResponse,
}

// Kinds returns every member of the taxonomy.
func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// Valid reports whether k belongs to the taxonomy.
func (k Kind) Valid() bool {
	for _, m := range allKinds {
		if m == k {
			return true
		}
	}
	return false
}

// Sentinels for errors.Is. Matching compares kinds only.
var (
	ErrInvalidFile               = sentinel(KindInvalidFile)
	ErrNoPolicySelected          = sentinel(KindNoPolicySelected)
	ErrUnknownPolicyType         = sentinel(KindUnknownPolicyType)
	ErrFailedCreateUploadSession = sentinel(KindFailedCreateUploadSession)
	ErrFailedDeleteUploadSession = sentinel(KindFailedDeleteUploadSession)
	ErrHTTPRequestFailed         = sentinel(KindHTTPRequestFailed)
	ErrCtxExpired                = sentinel(KindCtxExpired)
	ErrInvalidCtxData            = sentinel(KindInvalidCtxData)
	ErrRequestCanceled           = sentinel(KindRequestCanceled)
	ErrProcessingTaskDuplicated  = sentinel(KindProcessingTaskDuplicated)
	ErrOneDriveEmptyFile         = sentinel(KindOneDriveEmptyFile)
	ErrFailedTransformResponse   = sentinel(KindFailedTransformResponse)
)

// Detail is the kind-specific payload of an Error.
type Detail interface {
	isDetail()
}

// ValidationField is the file property a validation error refers to.
type ValidationField string

const (
	FieldSize   ValidationField = "size"
	FieldSuffix ValidationField = "suffix"
)

// ValidationDetail carries the policy and the violated field of an InvalidFile error.
type ValidationDetail struct {
	Field  ValidationField
	Policy *Policy
}

// PolicyDetail carries the rejected policy of an UnknownPolicyType error.
type PolicyDetail struct {
	Policy *Policy
}

// APIDetail carries the service envelope of an API-backed error.
// ChunkIndex is -1 when the call did not address a chunk.
type APIDetail struct {
	Response   *Response
	ChunkIndex int
}

// HTTPDetail describes a transport level failure.
type HTTPDetail struct {
	URL        string
	StatusCode int
}

// XMLDetail carries the parsed error document of an XML speaking backend.
// Final is set for finish and post-upload surfaces, whose messages include the Code element.
type XMLDetail struct {
	Document *XMLDocument
	Final    bool
}

// OneDriveDetail carries the OneDrive error object.
type OneDriveDetail struct {
	Response *OneDriveError
}

// QiniuDetail carries the Qiniu error object.
type QiniuDetail struct {
	Response *QiniuError
}

// UpyunDetail carries the Upyun error object.
type UpyunDetail struct {
	Response *UpyunError
}

// TransformDetail carries the raw payload that could not be parsed.
type TransformDetail struct {
	Raw string
}

// ChunkDetail names the chunk an error refers to.
type ChunkDetail struct {
	Index int
}

func (ValidationDetail) isDetail() {}
func (PolicyDetail) isDetail()     {}
func (APIDetail) isDetail()        {}
func (HTTPDetail) isDetail()       {}
func (XMLDetail) isDetail()        {}
func (OneDriveDetail) isDetail()   {}
func (QiniuDetail) isDetail()      {}
func (UpyunDetail) isDetail()      {}
func (TransformDetail) isDetail()  {}
func (ChunkDetail) isDetail()      {}

// Error is the single failure type of the upload pipeline.
type Error struct {
	Kind   Kind
	Detail Detail

	message string
	cause   error
	trace   error

	once sync.Once
	text string
}

func newError(kind Kind, message string, detail Detail, cause error) *Error {
	return &Error{
		Kind:    kind,
		Detail:  detail,
		message: message,
		cause:   cause,
		trace:   pkgerrors.New(string(kind)),
	}
}

func sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// NewError creates an error of the given kind without a payload.
func NewError(kind Kind, message string) *Error {
	return newError(kind, message, nil, nil)
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return newError(kind, msg, nil, cause)
}

// NewChunkError creates an error of kind that refers to chunk index.
func NewChunkError(kind Kind, index int, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return newError(kind, msg, ChunkDetail{Index: index}, cause)
}

// NewValidationError reports a file rejected by policy on field.
func NewValidationError(message string, field ValidationField, policy *Policy) *Error {
	return newError(KindInvalidFile, message, ValidationDetail{Field: field, Policy: policy}, nil)
}

// NewUnknownPolicyError reports a policy whose type has no adapter.
func NewUnknownPolicyError(policy *Policy) *Error {
	msg := ""
	if policy != nil {
		msg = string(policy.Type)
	}
	return newError(KindUnknownPolicyType, msg, PolicyDetail{Policy: policy}, nil)
}

// NewAPIError wraps a failed service envelope.
func NewAPIError(kind Kind, resp *Response) *Error {
	return NewChunkAPIError(kind, resp, -1)
}

// NewChunkAPIError wraps a failed service envelope for chunk index.
func NewChunkAPIError(kind Kind, resp *Response, index int) *Error {
	if resp == nil {
		resp = &Response{}
	}
	return newError(kind, resp.Msg, APIDetail{Response: resp, ChunkIndex: index}, nil)
}

// NewHTTPError reports a failed HTTP exchange with url.
func NewHTTPError(url string, status int, cause error) *Error {
	msg := statusText(status)
	if cause != nil {
		msg = cause.Error()
	}
	return newError(KindHTTPRequestFailed, msg, HTTPDetail{URL: url, StatusCode: status}, cause)
}

func statusText(status int) string {
	if status == 0 {
		return "request failed"
	}
	return "unexpected status " + strconv.Itoa(status)
}

// NewCanceledError reports an aborted request.
func NewCanceledError(cause error) *Error {
	return newError(KindRequestCanceled, "Request canceled", nil, cause)
}

// NewXMLError wraps an XML error document. final marks finish and post-upload surfaces.
func NewXMLError(kind Kind, doc *XMLDocument, final bool) *Error {
	return newError(kind, doc.Message, XMLDetail{Document: doc, Final: final}, nil)
}

// NewOneDriveChunkError wraps a OneDrive chunk rejection.
func NewOneDriveChunkError(resp *OneDriveError) *Error {
	return newError(KindOneDriveChunkUploadFailed, resp.Error.Message, OneDriveDetail{Response: resp}, nil)
}

// NewQiniuError wraps a Qiniu rejection of kind.
func NewQiniuError(kind Kind, resp *QiniuError) *Error {
	return newError(kind, resp.Error, QiniuDetail{Response: resp}, nil)
}

// NewUpyunError wraps an Upyun post-upload rejection.
func NewUpyunError(resp *UpyunError) *Error {
	return newError(KindUpyunPostUploadFailed, resp.Message, UpyunDetail{Response: resp}, nil)
}

// NewTransformError reports a backend response that could not be parsed.
func NewTransformError(raw string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return newError(KindFailedTransformResponse, msg, TransformDetail{Raw: raw}, cause)
}

// Error renders the message in the default catalog's fallback language.
// The string is composed on first read.
func (e *Error) Error() string {
	e.once.Do(func() {
		e.text = e.MessageIn(DefaultCatalog(), LocaleEnglish)
	})
	return e.text
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Text returns the backend or thrower supplied message.
func (e *Error) Text() string {
	return e.message
}

// Retryable evaluates the default retry policy for e.
func (e *Error) Retryable() bool {
	return defaultRetryPolicy.Retryable(e)
}

// Response returns the service envelope of an API-backed error.
func (e *Error) Response() (*Response, bool) {
	d, ok := e.Detail.(APIDetail)
	if !ok || d.Response == nil {
		return nil, false
	}
	return d.Response, true
}

// Message renders e for locale through the default catalog.
func (e *Error) Message(locale string) string {
	return e.MessageIn(DefaultCatalog(), locale)
}

// MessageIn renders e for locale through c.
func (e *Error) MessageIn(c *Catalog, locale string) string {
	switch d := e.Detail.(type) {
	case ValidationDetail:
		if d.Field == FieldSize {
			var max uint64
			if d.Policy != nil {
				max = d.Policy.MaxSize
			}
			return c.T(locale, keySizeLimit, SizeToString(max))
		}
		suffix := "*"
		if d.Policy != nil && len(d.Policy.AllowedSuffix) > 0 {
			suffix = strings.Join(d.Policy.AllowedSuffix, ",")
		}
		return c.T(locale, keySuffixLimit, suffix)

	case APIDetail:
		msg := c.T(locale, string(e.Kind), strconv.Itoa(d.ChunkIndex))
		if d.Response != nil {
			msg += ": " + d.Response.Msg
			if d.Response.Error != "" {
				msg += " (" + d.Response.Error + ")"
			}
		}
		return msg

	case HTTPDetail:
		return c.T(locale, string(e.Kind), e.message, d.URL)

	case XMLDetail:
		code := ""
		if d.Document != nil {
			code = d.Document.Code
		}
		if d.Final {
			return c.T(locale, string(e.Kind)+keyFinalSuffix, e.message, code)
		}
		return c.T(locale, string(e.Kind), e.message, code)

	case TransformDetail:
		return c.T(locale, string(e.Kind), e.message, truncate(d.Raw, maxRawInMessage))

	case PolicyDetail:
		return c.T(locale, string(e.Kind), e.message)

	case ChunkDetail:
		return c.T(locale, string(e.Kind), e.message, strconv.Itoa(d.Index))
	}

	return c.T(locale, string(e.Kind), e.message)
}

const maxRawInMessage = 256

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// StackTrace returns the call stack captured when e was created.
func (e *Error) StackTrace() pkgerrors.StackTrace {
	if st, ok := e.trace.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// Format implements fmt.Formatter; %+v appends the stack trace.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, string(e.Kind)+": "+e.Error())
			if st := e.StackTrace(); st != nil {
				st.Format(s, verb)
			}
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// AsError lifts err into the taxonomy. Context cancellation becomes
// RequestCanceled and any other foreign error becomes HTTPRequestFailed.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return NewCanceledError(err)
	}
	return NewHTTPError("", 0, err)
}

// KindOf returns the kind of err, or "" when err carries no taxonomy member.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}
