package ipc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/codeagent/runtime/agent"
	"github.com/basinlabs/codeagent/runtime/agent/tools"
	"github.com/basinlabs/codeagent/runtime/coding/ipc"
)

func echoTool() tools.ToolSpec {
	return tools.ToolSpec{
		Name:        "echo",
		Description: "Echoes its input back.",
		Parameters:  []tools.Parameter{{Name: "value", Type: "string", Required: true}},
		Invoke: tools.InvokerFunc(func(_ context.Context, args map[string]any) (any, error) {
			return args["value"], nil
		}),
	}
}

func failingTool() tools.ToolSpec {
	return tools.ToolSpec{
		Name: "boom",
		Invoke: tools.InvokerFunc(func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("kaboom")
		}),
	}
}

type boundedList []string

func (b boundedList) Bounds() agent.Bounds {
	total := 100
	return agent.Bounds{Returned: len(b), Total: &total, Truncated: true, RefinementHint: "narrow the query"}
}

func boundedTool() tools.ToolSpec {
	return tools.ToolSpec{
		Name: "list",
		Invoke: tools.InvokerFunc(func(_ context.Context, _ map[string]any) (any, error) {
			return boundedList{"a", "b"}, nil
		}),
	}
}

func newTestServer(t *testing.T, toolSpecs ...tools.ToolSpec) (*ipc.Server, func()) {
	t.Helper()
	s := ipc.New("127.0.0.1", freePort(t), toolSpecs)
	require.NoError(t, s.Start())
	return s, func() { _ = s.Stop() }
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return resp
}

func TestToolCallDispatchesToRegisteredTool(t *testing.T) {
	s, stop := newTestServer(t, echoTool())
	defer stop()

	resp := post(t, s.URL("localhost")+"/tool_call", map[string]any{
		"tool_name": "echo",
		"args":      map[string]any{"value": "hi"},
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "hi", out["result"])
	assert.Equal(t, true, out["success"])
}

func TestToolCallUnknownToolReturns404(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()

	resp := post(t, s.URL("localhost")+"/tool_call", map[string]any{
		"tool_name": "nope",
		"args":      map[string]any{},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	traces := s.Traces()
	require.Len(t, traces, 1)
	assert.Equal(t, string(tools.ToolUnavailable), traces[0].Tool)
}

func TestToolCallStripsArtifactsModeBeforeInvoke(t *testing.T) {
	var seenArgs map[string]any
	spec := tools.ToolSpec{
		Name: "inspect",
		Invoke: tools.InvokerFunc(func(_ context.Context, args map[string]any) (any, error) {
			seenArgs = args
			return "ok", nil
		}),
	}
	s, stop := newTestServer(t, spec)
	defer stop()

	resp := post(t, s.URL("localhost")+"/tool_call", map[string]any{
		"tool_name": "inspect",
		"args":      map[string]any{"artifacts": "off", "value": "x"},
	})
	resp.Body.Close()

	_, hasArtifacts := seenArgs["artifacts"]
	assert.False(t, hasArtifacts)
	assert.Equal(t, "x", seenArgs["value"])

	traces := s.Traces()
	require.Len(t, traces, 1)
	assert.Equal(t, tools.ArtifactsModeOff, traces[0].Artifacts)
}

func TestToolCallRecordsBoundsFromBoundedResult(t *testing.T) {
	s, stop := newTestServer(t, boundedTool())
	defer stop()

	resp := post(t, s.URL("localhost")+"/tool_call", map[string]any{
		"tool_name": "list",
		"args":      map[string]any{},
	})
	resp.Body.Close()

	traces := s.Traces()
	require.Len(t, traces, 1)
	require.NotNil(t, traces[0].Bounds)
	assert.True(t, traces[0].Bounds.Truncated)
	assert.Equal(t, 2, traces[0].Bounds.Returned)
}

func TestToolCallFailureReturns500AndRecordsTrace(t *testing.T) {
	s, stop := newTestServer(t, failingTool())
	defer stop()

	resp := post(t, s.URL("localhost")+"/tool_call", map[string]any{
		"tool_name": "boom",
		"args":      map[string]any{},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	traces := s.Traces()
	require.Len(t, traces, 1)
	assert.False(t, traces[0].Success)
	assert.Contains(t, traces[0].Error, "kaboom")
}

func TestHealthAndToolsEndpoints(t *testing.T) {
	s, stop := newTestServer(t, echoTool())
	defer stop()

	resp, err := http.Get(s.URL("localhost") + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.URL("localhost") + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	assert.Equal(t, []string{"echo"}, names)
}

func TestClearTraces(t *testing.T) {
	s, stop := newTestServer(t, echoTool())
	defer stop()

	post(t, s.URL("localhost")+"/tool_call", map[string]any{
		"tool_name": "echo",
		"args":      map[string]any{"value": "x"},
	}).Body.Close()
	require.Len(t, s.Traces(), 1)

	req, err := http.NewRequest(http.MethodDelete, s.URL("localhost")+"/tool_trace", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, s.Traces())
}

func TestStartIsIdempotent(t *testing.T) {
	s, stop := newTestServer(t)
	defer stop()
	assert.NoError(t, s.Start())
}

func TestDetectDockerHostAddressReturnsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, ipc.DetectDockerHostAddress())
}
