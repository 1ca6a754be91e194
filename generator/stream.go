package generator

import (
	"fmt"
	"iter"
	"strings"
)

// Accumulation is the folded state of a streamed response.
type Accumulation struct {
	Text            string
	Citations       []Citation
	ToolInvocations []ToolInvocation
}

// Accumulate folds one chunk into acc. It never shortens acc.Text.
func Accumulate(acc Accumulation, c Chunk) Accumulation {
	acc.Text += c.Text
	if len(c.Citations) > 0 {
		acc.Citations = append(acc.Citations, c.Citations...)
	}
	if len(c.ToolInvocations) > 0 {
		acc.ToolInvocations = append(acc.ToolInvocations, c.ToolInvocations...)
	}
	return acc
}

// drain consumes seq in order, reporting the complete-so-far text after every
// chunk that adds text. delivered is true once onPartial has been called.
func drain(seq iter.Seq2[Chunk, error], onPartial func(string)) (acc Accumulation, delivered bool, err error) {
	for c, cerr := range seq {
		if cerr != nil {
			return acc, delivered, cerr
		}
		acc = Accumulate(acc, c)
		if c.Text != "" && onPartial != nil {
			onPartial(acc.Text)
			delivered = true
		}
	}
	return acc, delivered, nil
}

const sourcesHeading = "## 参考来源"

// AppendSources appends one sources section listing each unique locator once,
// in first-seen order. Text is returned unchanged when there are no locators.
func AppendSources(text string, citations []Citation) string {
	seen := make(map[string]bool, len(citations))
	var lines []string
	for _, c := range citations {
		uri := strings.TrimSpace(c.URI)
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		title := strings.TrimSpace(c.Title)
		if title == "" {
			lines = append(lines, fmt.Sprintf("- <%s>", uri))
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s](%s)", escapeLinkText(title), uri))
	}
	if len(lines) == 0 {
		return text
	}
	sep := "\n\n"
	if strings.HasSuffix(text, "\n") {
		sep = "\n"
	}
	return text + sep + "---\n\n" + sourcesHeading + "\n\n" + strings.Join(lines, "\n") + "\n"
}

func escapeLinkText(s string) string {
	r := strings.NewReplacer("[", "\\[", "]", "\\]")
	return r.Replace(s)
}
