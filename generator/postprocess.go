package generator

import (
	"regexp"
	"strings"
)

var titleRe = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// PostProcess 从 Markdown 正文中提取标题与摘要。
func PostProcess(raw string) (Draft, error) {
	md := strings.TrimSpace(raw)
	if md == "" {
		return Draft{}, ErrEmptyResponse
	}

	digest := extractDigest(md)
	if digest == "" {
		digest = defaultDigest(md, 120)
	}
	return Draft{
		Title:    extractTitle(md),
		Digest:   digest,
		Markdown: raw,
	}, nil
}

func extractTitle(md string) string {
	m := titleRe.FindStringSubmatch(md)
	if len(m) >= 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// 摘要取首个正文段落（跳过标题、表格与分隔线）。
func extractDigest(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "|") || strings.HasPrefix(line, "---") {
			continue
		}
		return truncateRunes(line, 200)
	}
	return ""
}

func defaultDigest(md string, limit int) string {
	return truncateRunes(strings.Join(strings.Fields(md), " "), limit)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
