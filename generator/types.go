package generator

import (
	"fmt"
	"strings"
	"time"

	"disclosure_report_drafter/extract"
)

// Tone 报告语气。未知取值回退到 ToneFormal。
type Tone string

const (
	ToneFormal     Tone = "formal"
	ToneNeutral    Tone = "neutral"
	ToneConcise    Tone = "concise"
	TonePersuasive Tone = "persuasive"
)

// Normalize 返回受支持的语气。
func (t Tone) Normalize() Tone {
	switch Tone(strings.ToLower(strings.TrimSpace(string(t)))) {
	case ToneNeutral:
		return ToneNeutral
	case ToneConcise:
		return ToneConcise
	case TonePersuasive:
		return TonePersuasive
	default:
		return ToneFormal
	}
}

// ReportParams describes the report to draft; immutable per generation.
type ReportParams struct {
	Company       string   `json:"company"`
	Period        string   `json:"period"`
	Standards     []string `json:"standards"`
	Length        int      `json:"length"`
	Tone          Tone     `json:"tone"`
	IncludeTables bool     `json:"include_tables"`
	IncludeCharts bool     `json:"include_charts"`
	UseWebSearch  bool     `json:"use_web_search"`
}

// Validate 校验生成请求的必填项。
func (p ReportParams) Validate() error {
	hasStandard := false
	for _, s := range p.Standards {
		if strings.TrimSpace(s) != "" {
			hasStandard = true
			break
		}
	}
	if !hasStandard {
		return fmt.Errorf("%w: at least one standard is required", ErrInvalidParams)
	}
	if p.Length <= 0 {
		return fmt.Errorf("%w: target length must be positive, got %d", ErrInvalidParams, p.Length)
	}
	return nil
}

// SourceMaterial 用户提供的原始资料。
type SourceMaterial struct {
	RawText string         `json:"raw_text"`
	Files   []extract.File `json:"files"`
	URLs    []string       `json:"urls"`
}

// Capability is a provider-side feature attached to a request.
type Capability string

const CapabilityWebGrounding Capability = "web-grounding"

// Segment is one atomic unit of a request payload: text, or inline binary
// content with a media type.
type Segment struct {
	Text     string
	Data     []byte
	MIMEType string
}

// IsBinary reports whether the segment carries inline data.
func (s Segment) IsBinary() bool {
	return len(s.Data) > 0
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Text: text}
}

func segmentFromPart(p extract.Part) Segment {
	if p.Kind == extract.KindBinary {
		return Segment{Data: p.Data, MIMEType: p.MIMEType}
	}
	return Segment{Text: p.Text}
}

// Citation is one grounding source backing generated text.
type Citation struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Draft 当前报告草稿（Markdown 形式）。
type Draft struct {
	Title    string `json:"title"`
	Digest   string `json:"digest"`
	Markdown string `json:"markdown"`
}

// Role of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 对话记录中的一轮。
type Turn struct {
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	Attachments int       `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
