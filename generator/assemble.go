package generator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"disclosure_report_drafter/extract"
)

// Extractor turns one file into a processed part.
type Extractor interface {
	Extract(ctx context.Context, f extract.File) (extract.Part, error)
}

// ExtractAll extracts files concurrently and returns parts in input order.
// A failing or panicking extraction degrades to a placeholder for that file.
func ExtractAll(ctx context.Context, ex Extractor, files []extract.File, logger *zap.Logger) []extract.Part {
	parts := make([]extract.Part, len(files))
	if len(files) == 0 {
		return parts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var g errgroup.Group
	for i, f := range files {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("extract.panic", zap.String("file", f.Name), zap.Any("panic", r))
					parts[i] = extract.Placeholder(f.Name, "解析过程异常")
				}
			}()
			part, xerr := ex.Extract(ctx, f)
			if xerr != nil {
				logger.Warn("extract.failed", zap.String("file", f.Name), zap.String("mime_type", f.MIMEType), zap.Error(xerr))
				parts[i] = extract.Placeholder(f.Name, xerr.Error())
				return nil
			}
			if part.Kind == extract.KindPlaceholder {
				logger.Info("extract.placeholder", zap.String("file", f.Name), zap.String("mime_type", f.MIMEType))
			}
			parts[i] = part
			return nil
		})
	}
	_ = g.Wait()
	return parts
}

// Assembly is a ready-to-send generation request body.
type Assembly struct {
	System       string
	Segments     []Segment
	Capabilities []Capability
}

// Assembler builds generation requests from report parameters and sources.
type Assembler struct {
	extractor Extractor
	standards func([]string) string
	logger    *zap.Logger
}

// NewAssembler wires an assembler; nil arguments take defaults.
func NewAssembler(ex Extractor, lookup func([]string) string, logger *zap.Logger) *Assembler {
	if ex == nil {
		ex = extract.Default{}
	}
	if lookup == nil {
		lookup = func([]string) string { return "" }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{extractor: ex, standards: lookup, logger: logger}
}

// Assemble produces one leading instruction segment followed by one segment
// per file in input order. Web grounding is enabled by the toggle or by any
// non-empty reference URL.
func (a *Assembler) Assemble(ctx context.Context, params ReportParams, rawText string, files []extract.File, urls []string) Assembly {
	prompt := BuildReportPrompt(params, rawText, urls, a.standards(params.Standards))

	parts := ExtractAll(ctx, a.extractor, files, a.logger)
	segments := make([]Segment, 0, len(parts)+1)
	segments = append(segments, TextSegment(prompt.User))
	for _, p := range parts {
		segments = append(segments, segmentFromPart(p))
	}

	var caps []Capability
	if params.UseWebSearch || hasURL(urls) {
		caps = append(caps, CapabilityWebGrounding)
	}
	a.logger.Debug("assemble.done",
		zap.Int("segments", len(segments)),
		zap.Int("files", len(files)),
		zap.Int("urls", len(urls)),
		zap.Bool("web_grounding", len(caps) > 0),
	)
	return Assembly{System: prompt.System, Segments: segments, Capabilities: caps}
}

func hasURL(urls []string) bool {
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			return true
		}
	}
	return false
}

func describeSegments(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteString(", ")
		}
		if s.IsBinary() {
			fmt.Fprintf(&b, "binary(%s,%d)", s.MIMEType, len(s.Data))
		} else {
			fmt.Fprintf(&b, "text(%d)", len(s.Text))
		}
	}
	return b.String()
}
