package react_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/codeagent/runtime/agent/model"
	"github.com/basinlabs/codeagent/runtime/coding/allowlist"
	"github.com/basinlabs/codeagent/runtime/coding/config"
	"github.com/basinlabs/codeagent/runtime/coding/executor"
	"github.com/basinlabs/codeagent/runtime/coding/react"
	"github.com/basinlabs/codeagent/runtime/coding/sandbox"
)

// scriptedClient returns one canned response text per call, repeating its
// last entry once exhausted so "keeps emitting the same bad code" scenarios
// don't need to pad out a long slice.
type scriptedClient struct {
	texts []string
	calls int
}

func (c *scriptedClient) GenerateAsync(_ context.Context, _ *model.Request) (model.Stream, error) {
	idx := c.calls
	if idx >= len(c.texts) {
		idx = len(c.texts) - 1
	}
	c.calls++
	return &singleStream{resp: model.Response{
		Content: model.Message{Role: model.ConversationRoleModel, Parts: []model.Part{{Text: c.texts[idx]}}},
	}}, nil
}

type singleStream struct {
	resp model.Response
	sent bool
}

func (s *singleStream) Recv() (model.Response, error) {
	if s.sent {
		return model.Response{}, io.EOF
	}
	s.sent = true
	return s.resp, nil
}

func (s *singleStream) Close() error { return nil }

func newExecutor(t *testing.T, results ...sandbox.Result) (*executor.Executor, *sandbox.Fake) {
	t.Helper()
	fake := &sandbox.Fake{Results: results}
	return executor.New(fake, nil, allowlist.DefaultSet(), nil, "http://host"), fake
}

func newStatefulExecutor(t *testing.T, results ...sandbox.Result) (*executor.Executor, *sandbox.Fake) {
	t.Helper()
	fake := &sandbox.Fake{Results: results}
	return executor.New(fake, nil, allowlist.DefaultSet(), nil, "http://host", executor.WithStateful(true)), fake
}

func TestRunHappyPathSingleTurn(t *testing.T) {
	client := &scriptedClient{texts: []string{"```tool_code\nfinal_answer(\"x\")\n```"}}
	exec, _ := newExecutor(t, sandbox.Result{Stdout: "__FINAL_ANSWER__:\"x\"\n"})
	cfg, err := config.New()
	require.NoError(t, err)

	c := react.New(client, exec, "test-model", nil, "")
	outcome, err := c.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "x", outcome.FinalAnswer)
	assert.NotEmpty(t, outcome.InvocationID)
	assert.Equal(t, 1, outcome.State.IterationCount)
	assert.Equal(t, 0, outcome.State.ErrorCount)
	assert.Len(t, outcome.State.History, 1)
	assert.True(t, outcome.Completed)
}

func TestRunToolCallThenAnswer(t *testing.T) {
	client := &scriptedClient{texts: []string{
		"```tool_code\nr = search(query=\"q\")\nfinal_answer(r[\"hit\"])\n```",
	}}
	stdout := "__TOOL_TRACE__:[{\"tool_name\":\"search\",\"args\":{\"query\":\"q\"},\"success\":true}]\n__FINAL_ANSWER__:\"h\"\n"
	exec, _ := newExecutor(t, sandbox.Result{Stdout: stdout})
	cfg, err := config.New()
	require.NoError(t, err)

	c := react.New(client, exec, "test-model", nil, "")
	outcome, err := c.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "h", outcome.FinalAnswer)
	require.Len(t, outcome.Traces, 1)
	assert.Equal(t, "search", outcome.Traces[0].Tool)
	assert.Equal(t, "q", outcome.Traces[0].Args["query"])
	assert.True(t, outcome.Traces[0].Success)

	require.Len(t, outcome.State.History, 1)
	require.Len(t, outcome.State.History[0].ToolTraces, 1)
	assert.Equal(t, "search", outcome.State.History[0].ToolTraces[0].Tool)
}

func TestRunErrorRecovery(t *testing.T) {
	client := &scriptedClient{texts: []string{
		"```tool_code\nimport os\n```",
		"```tool_code\nfinal_answer(1)\n```",
	}}
	exec, _ := newExecutor(t, sandbox.Result{Stdout: "__FINAL_ANSWER__:1\n"})
	cfg, err := config.New()
	require.NoError(t, err)

	c := react.New(client, exec, "test-model", nil, "")
	outcome, err := c.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.State.IterationCount)
	assert.Equal(t, 0, outcome.State.ErrorCount)
	assert.Equal(t, "1", outcome.FinalAnswer)
	assert.Len(t, outcome.State.History, 2)
}

func TestRunRetryExhaustion(t *testing.T) {
	client := &scriptedClient{texts: []string{"```tool_code\nimport os\n```"}}
	exec, _ := newExecutor(t)
	cfg, err := config.New(config.WithErrorRetryAttempts(2))
	require.NoError(t, err)

	c := react.New(client, exec, "test-model", nil, "")
	outcome, err := c.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.State.IterationCount)
	assert.Contains(t, outcome.FinalAnswer, "os")
	assert.True(t, outcome.Completed)
}

func TestRunIterationCap(t *testing.T) {
	client := &scriptedClient{texts: []string{"```tool_code\nx = 1\n```"}}
	exec, _ := newExecutor(t, sandbox.Result{Stdout: "ok\n"}, sandbox.Result{Stdout: "ok\n"}, sandbox.Result{Stdout: "ok\n"})
	cfg, err := config.New(config.WithMaxIterations(3))
	require.NoError(t, err)

	c := react.New(client, exec, "test-model", nil, "")
	outcome, err := c.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.State.IterationCount)
	assert.False(t, outcome.Completed)
	assert.Contains(t, outcome.FinalAnswer, "unable to complete")
}

func TestRunStatefulReplay(t *testing.T) {
	client := &scriptedClient{texts: []string{
		"```tool_code\nx = 40\n```",
		"```tool_code\nfinal_answer(x+2)\n```",
	}}
	exec, fake := newStatefulExecutor(t,
		sandbox.Result{Stdout: ""},
		sandbox.Result{Stdout: ""},
		sandbox.Result{Stdout: "__FINAL_ANSWER__:42\n"},
	)
	cfg, err := config.New(config.WithStateful(true))
	require.NoError(t, err)

	c := react.New(client, exec, "test-model", nil, "")
	outcome, err := c.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "42", outcome.FinalAnswer)
	assert.Len(t, fake.Calls, 3)
}
