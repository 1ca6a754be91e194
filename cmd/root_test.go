package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"llm":{"provider":"mock"},"retry":{"max_attempts":1}}`), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "version flag", args: []string{"--version"}},
		{name: "help flag", args: []string{"--help"}},
		{name: "unknown command", args: []string{"publish"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", tt.args...)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestStandardsCommand(t *testing.T) {
	out, err := execute(t, "", "standards")
	require.NoError(t, err)
	assert.Contains(t, out, "GRI 305-1")

	out, err = execute(t, "", "standards", "esrs e1", "UNKNOWN-9")
	require.NoError(t, err)
	assert.Contains(t, out, "### ESRS E1")
	assert.Contains(t, out, "### UNKNOWN-9")
}

func TestGenerateWithMockProviderAndChat(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.csv")
	require.NoError(t, os.WriteFile(notes, []byte("范围,排放\n范围一,1200\n"), 0o600))
	draftPath := filepath.Join(dir, "draft.md")
	savedPath := filepath.Join(dir, "saved.md")

	stdin := strings.Join([]string{
		"/attach " + notes,
		"这份数据可信吗？",
		"rewrite:## 补充章节",
		"/diff",
		"/save " + savedPath,
		"/quit",
	}, "\n")
	out, err := execute(t, stdin,
		"--config", mockConfig(t),
		"generate",
		"--standard", "GRI 305-1",
		"--company", "示例股份",
		"--file", notes,
		"--out", draftPath,
		"--chat",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "# 可持续发展信息披露报告（示例）")
	assert.Contains(t, out, "共收到 1 份附件")
	assert.Contains(t, out, "（离线模式）已收到您的消息：这份数据可信吗？，以及 1 份附件。")
	assert.Contains(t, out, "+## 补充章节")

	written, err := os.ReadFile(draftPath)
	require.NoError(t, err)
	assert.NotContains(t, string(written), "补充章节")

	saved, err := os.ReadFile(savedPath)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "## 补充章节")
}

func TestGenerateRequiresStandard(t *testing.T) {
	_, err := execute(t, "", "--config", mockConfig(t), "generate", "--standard", "")
	assert.Error(t, err)
}
