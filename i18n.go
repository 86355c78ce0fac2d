package uploader

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/locales"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
)

const (
	LocaleEnglish = "en"
	LocaleChinese = "zh"
)

const (
	keySizeLimit   = "InvalidFile.size"
	keySuffixLimit = "InvalidFile.suffix"
	keyFinalSuffix = ".final"
)

var englishFragments = map[string]string{
	string(KindInvalidFile):                              "Invalid file: {0}",
	keySizeLimit:                                         "File size exceeds the limit of the storage policy ({0})",
	keySuffixLimit:                                       "File type is not allowed by the storage policy (allowed: {0})",
	string(KindNoPolicySelected):                         "No storage policy selected",
	string(KindUnknownPolicyType):                        "Unknown storage policy type: {0}",
	string(KindFailedCreateUploadSession):                "Failed to create upload session",
	string(KindFailedDeleteUploadSession):                "Failed to delete upload session",
	string(KindHTTPRequestFailed):                        "Request failed: {0} ({1})",
	string(KindLocalChunkUploadFailed):                   "Chunk [{0}] upload failed",
	string(KindSlaveChunkUploadFailed):                   "Chunk [{0}] upload failed",
	string(KindWriteCtxFailed):                           "Failed to save upload context: {0}",
	string(KindRemoveCtxFailed):                          "Failed to remove upload context: {0}",
	string(KindReadCtxFailed):                            "Failed to read upload context: {0}",
	string(KindInvalidCtxData):                           "Invalid upload context: {0}",
	string(KindCtxExpired):                               "Upload session has expired",
	string(KindRequestCanceled):                          "Request canceled",
	string(KindProcessingTaskDuplicated):                 "An identical upload task is already in progress",
	string(KindOneDriveChunkUploadFailed):                "Chunk upload failed: {0}",
	string(KindOneDriveEmptyFile):                        "Empty files cannot be uploaded to OneDrive, add some content and try again",
	string(KindFailedFinishOneDriveUpload):               "Failed to finish upload",
	string(KindS3LikeChunkUploadFailed):                  "Chunk upload failed: {0}",
	string(KindS3LikeChunkUploadFailed) + keyFinalSuffix: "Failed to finish upload: {0} ({1})",
	string(KindS3LikeUploadCallbackFailed):               "Failed to finish upload",
	string(KindCOSUploadCallbackFailed):                  "Failed to finish upload",
	string(KindCOSPostUploadFailed) + keyFinalSuffix:     "Upload failed: {0} ({1})",
	string(KindUpyunPostUploadFailed):                    "Upload failed: {0}",
	string(KindQiniuChunkUploadFailed):                   "Chunk upload failed: {0}",
	string(KindFailedFinishOSSUpload) + keyFinalSuffix:   "Failed to finish upload: {0} ({1})",
	string(KindFailedFinishQiniuUpload):                  "Failed to finish upload: {0}",
	string(KindFailedTransformResponse):                  "Failed to parse response: {0} ({1})",
}

var chineseFragments = map[string]string{
	string(KindInvalidFile):                "无效的文件：{0}",
	keySizeLimit:                           "文件大小超出存储策略限制（{0}）",
	keySuffixLimit:                         "存储策略不允许上传此类型的文件（允许的类型：{0}）",
	string(KindNoPolicySelected):           "未选择存储策略",
	string(KindUnknownPolicyType):          "未知的存储策略类型：{0}",
	string(KindFailedCreateUploadSession):  "创建上传会话失败",
	string(KindFailedDeleteUploadSession):  "删除上传会话失败",
	string(KindHTTPRequestFailed):          "请求失败：{0}（{1}）",
	string(KindLocalChunkUploadFailed):     "分片 [{0}] 上传失败",
	string(KindSlaveChunkUploadFailed):     "分片 [{0}] 上传失败",
	string(KindCtxExpired):                 "上传会话已过期",
	string(KindRequestCanceled):            "请求已取消",
	string(KindProcessingTaskDuplicated):   "相同的上传任务正在处理中",
	string(KindOneDriveEmptyFile):          "暂不支持上传空文件至 OneDrive，请添加内容后重试",
	string(KindFailedFinishOneDriveUpload): "无法完成文件上传",
	string(KindFailedTransformResponse):    "无法解析响应：{0}（{1}）",
}

// Catalog holds already-localized message fragments keyed by error kind.
// Fragments use {0}, {1}... placeholders filled by the error at render time.
type Catalog struct {
	mu    sync.RWMutex
	uni   *ut.UniversalTranslator
	arity map[string]map[string]int
}

// NewCatalog creates a catalog with English as fallback and the given extra locales.
func NewCatalog(extra ...locales.Translator) *Catalog {
	fallback := en.New()
	return &Catalog{
		uni:   ut.New(fallback, append([]locales.Translator{fallback}, extra...)...),
		arity: make(map[string]map[string]int),
	}
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the shared catalog, seeded with English and Chinese fragments.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c := NewCatalog(zh.New())
		for k, v := range englishFragments {
			_ = c.Add(LocaleEnglish, k, v)
		}
		for k, v := range chineseFragments {
			_ = c.Add(LocaleChinese, k, v)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// AddLocale registers a locale so fragments can be added for it.
func (c *Catalog) AddLocale(l locales.Translator) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uni.AddTranslator(l, false)
}

// Add stores text under key for locale, replacing any previous fragment.
func (c *Catalog) Add(locale, key, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	trans, found := c.uni.GetTranslator(locale)
	if !found {
		return fmt.Errorf("uploader: locale %q is not registered", locale)
	}
	if err := trans.Add(key, text, true); err != nil {
		return err
	}
	if c.arity[locale] == nil {
		c.arity[locale] = make(map[string]int)
	}
	c.arity[locale][key] = strings.Count(text, "{")
	return nil
}

// T renders key for locale with params. Unknown locales fall back to
// English, then to the English fragment, then to the key itself.
func (c *Catalog) T(locale, key string, params ...string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, loc := range []string{locale, LocaleEnglish} {
		n, ok := c.arity[loc][key]
		if !ok {
			continue
		}
		trans, found := c.uni.GetTranslator(loc)
		if !found {
			continue
		}
		args := make([]string, n)
		copy(args, params)
		if s, err := trans.T(key, args...); err == nil {
			return s
		}
	}

	if len(params) > 0 && params[0] != "" {
		return key + ": " + params[0]
	}
	return key
}
