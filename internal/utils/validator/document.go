package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/vectordocs/pkg/logger"
)

// DocumentValidator 文档验证器
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64               // 最大文件大小（字节）
	AllowedTypes map[string][]string // 允许的文件类型 {扩展名: []MIME类型}
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (r *ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: 50 * 1024 * 1024, // 50MB
		AllowedTypes: map[string][]string{
			".pdf":  {"application/pdf"},
			".txt":  {"text/plain"},
			".text": {"text/plain"},
			".md":   {"text/plain"},
		},
	}
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = DefaultValidatorConfig()
	}
	return &DocumentValidator{
		logger: log,
		config: config,
	}
}

// ValidateFile 验证上传文件
func (v *DocumentValidator) ValidateFile(file *multipart.FileHeader) (*ValidationResult, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return v.Validate(file.Filename, file.Size, f)
}

// Validate checks a named file of the given size read from r.
func (v *DocumentValidator) Validate(filename string, size int64, r io.Reader) (*ValidationResult, error) {
	result := &ValidationResult{
		IsValid: true,
		Errors:  make([]ValidationError, 0),
		FileInfo: FileInfo{
			Filename:  filename,
			Size:      size,
			Extension: strings.ToLower(filepath.Ext(filename)),
		},
	}

	// 头部用于类型检测，同时计算哈希
	head := &bytes.Buffer{}
	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(hash, &limitedWriter{w: head, n: 512}), r); err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	result.FileInfo.Hash = hex.EncodeToString(hash.Sum(nil))
	result.FileInfo.MimeType = detectMimeType(head.Bytes())

	if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	} else if errs := v.validateMimeType(result.FileInfo, head.Bytes()); len(errs) > 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, errs...)
	}

	if !result.IsValid {
		v.logger.Warn("File rejected",
			logger.String("filename", filename),
			logger.String("mimeType", result.FileInfo.MimeType),
			logger.String("reason", result.Error()),
		)
	}
	return result, nil
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(fileInfo FileInfo) []ValidationError {
	var errors []ValidationError

	if fileInfo.Size == 0 {
		errors = append(errors, ValidationError{
			Code:    "EMPTY_FILE",
			Message: "File is empty",
			Field:   "size",
		})
	}
	if fileInfo.Size > v.config.MaxFileSize {
		errors = append(errors, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if _, ok := v.config.AllowedTypes[fileInfo.Extension]; !ok {
		errors = append(errors, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %s is not allowed", fileInfo.Extension),
			Field:   "extension",
		})
	}

	return errors
}

// MIME类型验证
func (v *DocumentValidator) validateMimeType(fileInfo FileInfo, head []byte) []ValidationError {
	for _, allowed := range v.config.AllowedTypes[fileInfo.Extension] {
		if allowed == fileInfo.MimeType {
			return nil
		}
	}

	// Sniffing only looks at a prefix; valid UTF-8 counts as text.
	if fileInfo.MimeType != "application/pdf" && looksLikeText(head) {
		for _, allowed := range v.config.AllowedTypes[fileInfo.Extension] {
			if allowed == "text/plain" {
				return nil
			}
		}
	}

	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("Invalid MIME type %s for extension %s", fileInfo.MimeType, fileInfo.Extension),
		Field:   "mimeType",
	}}
}

// 检测MIME类型, 去掉参数部分
func detectMimeType(head []byte) string {
	detected := http.DetectContentType(head)
	if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
		return mediaType
	}
	return detected
}

func looksLikeText(head []byte) bool {
	// 截断可能落在多字节字符中间
	for i := 0; i < utf8.UTFMax && len(head) > 0; i++ {
		if utf8.Valid(head) {
			return true
		}
		head = head[:len(head)-1]
	}
	return len(head) == 0
}

type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n > 0 {
		chunk := p
		if len(chunk) > l.n {
			chunk = chunk[:l.n]
		}
		written, err := l.w.Write(chunk)
		l.n -= written
		if err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
