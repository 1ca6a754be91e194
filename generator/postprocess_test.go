package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostProcess(t *testing.T) {
	d, err := PostProcess("\n# 年度报告\n\n| 指标 | 数值 |\n\n本年度排放下降。\n")
	require.NoError(t, err)
	assert.Equal(t, "年度报告", d.Title)
	assert.Equal(t, "本年度排放下降。", d.Digest)
	assert.True(t, strings.HasPrefix(d.Markdown, "\n# 年度报告"))

	_, err = PostProcess("  ")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDefaultDigestIsRuneSafe(t *testing.T) {
	got := defaultDigest(strings.Repeat("排放", 100), 5)
	assert.Equal(t, "排放排放排", got)
}
