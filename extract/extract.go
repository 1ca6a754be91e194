// Package extract turns uploaded files into parts a model request can embed:
// inline binary payloads for media the model reads natively, plain text for
// documents, and a placeholder when neither is possible.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultMaxBytes caps a single file's payload.
const DefaultMaxBytes = 20 << 20

// File is one uploaded file as received from the caller.
type File struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Kind tags which variant a Part holds.
type Kind int

const (
	KindBinary Kind = iota
	KindText
	KindPlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	default:
		return "placeholder"
	}
}

// Part is the immutable extraction result for one file.
type Part struct {
	Kind     Kind
	Data     []byte
	MIMEType string
	Text     string
}

// Binary builds an inline binary part.
func Binary(data []byte, mimeType string) Part {
	return Part{Kind: KindBinary, Data: data, MIMEType: mimeType}
}

// Text builds an extracted-text part labelled with the file name.
func Text(name, body string) Part {
	return Part{Kind: KindText, Text: fmt.Sprintf("--- 文件：%s ---\n%s", name, body)}
}

// Placeholder builds the diagnostic part used when a file cannot be embedded.
func Placeholder(name, reason string) Part {
	return Part{Kind: KindPlaceholder, Text: fmt.Sprintf("[文件 %s 无法读取：%s]", name, reason)}
}

var inlineTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/gif":       true,
	"image/heic":      true,
	"image/heif":      true,
}

var textTypes = map[string]bool{
	"application/json":      true,
	"application/xml":       true,
	"application/x-yaml":    true,
	"application/yaml":      true,
	"application/csv":       true,
	"application/x-ndjson":  true,
	"application/markdown":  true,
	"application/xhtml+xml": true,
}

const (
	docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	xlsxType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Default is the built-in extractor.
type Default struct {
	MaxBytes int
}

// Extract never fails; problems are reported as a placeholder part.
func (d Default) Extract(_ context.Context, f File) (Part, error) {
	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if len(f.Data) == 0 {
		return Placeholder(f.Name, "文件为空"), nil
	}
	if len(f.Data) > limit {
		return Placeholder(f.Name, fmt.Sprintf("文件超过 %d 字节上限", limit)), nil
	}

	mt := MediaType(f.Name, f.MIMEType)
	switch {
	case inlineTypes[mt]:
		return Binary(f.Data, mt), nil
	case mt == docxType:
		body, err := docxText(f.Data)
		if err != nil {
			return Placeholder(f.Name, "Word 文档解析失败"), nil
		}
		return Text(f.Name, body), nil
	case mt == xlsxType:
		body, err := xlsxText(f.Data)
		if err != nil {
			return Placeholder(f.Name, "Excel 表格解析失败"), nil
		}
		return Text(f.Name, body), nil
	case strings.HasPrefix(mt, "text/") || textTypes[mt]:
		return Text(f.Name, decodeText(f.Data)), nil
	default:
		return Placeholder(f.Name, fmt.Sprintf("不支持的文件类型 %s", mt)), nil
	}
}

// MediaType resolves the effective media type: the declared type wins unless
// it is missing or generic, then the extension decides.
func MediaType(name, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".docx":
		return docxType
	case ".xlsx":
		return xlsxType
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if i := strings.Index(byExt, ";"); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
