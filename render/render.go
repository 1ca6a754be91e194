// Package render converts a Markdown draft into HTML for export.
package render

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Raw HTML in model output is omitted and dangerous link schemes dropped.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// HTML renders Markdown with GitHub-flavored tables and strikethrough.
func HTML(source string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const pageStyle = `body{max-width:860px;margin:2em auto;padding:0 1em;font-family:"PingFang SC","Microsoft YaHei",sans-serif;line-height:1.7;color:#222}
table{border-collapse:collapse;margin:1em 0}th,td{border:1px solid #bbb;padding:4px 10px}th{background:#f3f3f3}
blockquote{color:#555;border-left:4px solid #ddd;margin:0;padding-left:1em}`

// Page wraps rendered Markdown in a standalone HTML document.
func Page(title, source string) (string, error) {
	body, err := HTML(source)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(title) == "" {
		title = "报告草稿"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"zh-CN\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n<style>%s</style>\n</head>\n<body>\n", html.EscapeString(title), pageStyle)
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

var (
	tableRe = regexp.MustCompile(`<table>`)
	cellRe  = regexp.MustCompile(`<(th|td)([^>]*)>`)
	hRe     = regexp.MustCompile(`(?s)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
)

var headingSizes = map[string]string{
	"1": "24px",
	"2": "22px",
	"3": "20px",
	"4": "18px",
	"5": "16px",
	"6": "15px",
}

// Fragment renders Markdown as an HTML fragment with inline styles, for
// pasting into editors that drop stylesheets.
func Fragment(source string) (string, error) {
	out, err := HTML(source)
	if err != nil {
		return "", err
	}
	out = tableRe.ReplaceAllString(out, `<table style="border-collapse:collapse;margin:1em 0;">`)
	out = cellRe.ReplaceAllString(out, `<$1$2 style="border:1px solid #bbb;padding:4px 10px;">`)
	out = hRe.ReplaceAllStringFunc(out, func(block string) string {
		parts := hRe.FindStringSubmatch(block)
		size := headingSizes[parts[1]]
		return fmt.Sprintf(`<p style="font-size:%s;font-weight:700;margin:1em 0 0.6em;">%s</p>`, size, strings.TrimSpace(parts[2]))
	})
	return out, nil
}
