package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestAgent(t *testing.T, llm LLMClient) *Agent {
	t.Helper()
	logger := zaptest.NewLogger(t)
	a, err := NewAgent(llm,
		WithLogger(logger),
		WithRetrier(fastRetrier(logger)),
		WithExtractor(scriptedExtractor{}),
		WithStandards(func(ids []string) string { return "### " + strings.Join(ids, ",") }),
	)
	require.NoError(t, err)
	return a
}

func TestNewAgentRequiresClient(t *testing.T) {
	_, err := NewAgent(nil)
	assert.Error(t, err)
}

func TestGenerateStreamIsMonotonicWithOneSourcesSection(t *testing.T) {
	cite := Citation{Title: "企业年报", URI: "https://example.com/annual"}
	llm := &fakeLLM{generate: []step{{chunks: []Chunk{
		{Text: "# 示例公司 2024 可持续发展报告\n\n"},
		{Text: "温室气体排放", Citations: []Citation{cite}},
		{Citations: []Citation{cite, {URI: "https://example.com/esg"}}},
		{Text: "持续下降。"},
	}}}}
	a := newTestAgent(t, llm)

	var partials []string
	p := testParams()
	out, err := a.Generate(context.Background(), p, SourceMaterial{URLs: []string{"https://example.com/annual"}}, func(s string) {
		partials = append(partials, s)
	})
	require.NoError(t, err)

	require.NotEmpty(t, partials)
	for i := 1; i < len(partials); i++ {
		assert.True(t, strings.HasPrefix(partials[i], partials[i-1]), "partial %d rewinds", i)
	}
	assert.Equal(t, out, partials[len(partials)-1])
	assert.Equal(t, 1, strings.Count(out, sourcesHeading))
	assert.Equal(t, 1, strings.Count(out, "https://example.com/annual)"))
	assert.Contains(t, out, "https://example.com/esg")

	require.Len(t, llm.requests, 1)
	assert.True(t, hasCapability(llm.requests[0].Capabilities, CapabilityWebGrounding))
}

func TestGenerateValidatesParams(t *testing.T) {
	llm := &fakeLLM{}
	a := newTestAgent(t, llm)

	p := testParams()
	p.Standards = []string{" "}
	_, err := a.Generate(context.Background(), p, SourceMaterial{}, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)

	p = testParams()
	p.Length = 0
	_, err = a.Generate(context.Background(), p, SourceMaterial{}, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Zero(t, llm.generated)
}

func TestGenerateRetriesBeforeAnyOutput(t *testing.T) {
	llm := &fakeLLM{generate: []step{
		{err: rateLimited()},
		{chunks: []Chunk{{Text: "# 标题\n"}, {Text: "正文"}}},
	}}
	a := newTestAgent(t, llm)

	var partials []string
	out, err := a.Generate(context.Background(), testParams(), SourceMaterial{}, func(s string) { partials = append(partials, s) })
	require.NoError(t, err)
	assert.Equal(t, "# 标题\n正文", out)
	assert.Equal(t, 2, llm.generated)
	assert.Equal(t, []string{"# 标题\n", "# 标题\n正文"}, partials)
}

func TestGenerateDoesNotReplayAfterOutput(t *testing.T) {
	llm := &fakeLLM{generate: []step{{chunks: []Chunk{{Text: "# 标题\n"}}, err: rateLimited()}}}
	a := newTestAgent(t, llm)

	_, err := a.Generate(context.Background(), testParams(), SourceMaterial{}, func(string) {})
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 1, llm.generated)
}

func TestGenerateCredentialFailure(t *testing.T) {
	llm := &fakeLLM{generate: []step{{err: unauthorized()}}}
	a := newTestAgent(t, llm)

	_, err := a.Generate(context.Background(), testParams(), SourceMaterial{}, nil)
	assert.ErrorIs(t, err, ErrCredentialInvalid)
	assert.Equal(t, 1, llm.generated)
	assert.True(t, a.Retrier().CredentialRevoked())
}

func TestGenerateNonStreaming(t *testing.T) {
	llm := &fakeLLM{generate: []step{{reply: Reply{Text: "# 报告\n\n内容", Citations: []Citation{{Title: "来源", URI: "https://s"}}}}}}
	a := newTestAgent(t, llm)

	out, err := a.Generate(context.Background(), testParams(), SourceMaterial{RawText: "资料"}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# 报告\n\n内容\n\n---"))
	assert.Contains(t, out, "- [来源](https://s)")
	assert.Contains(t, llm.requests[0].Segments[0].Text, "### GRI 305-1")
}

func TestGenerateEmptyResponse(t *testing.T) {
	llm := &fakeLLM{generate: []step{{reply: Reply{Text: "  \n"}}}}
	a := newTestAgent(t, llm)

	_, err := a.Generate(context.Background(), testParams(), SourceMaterial{}, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
