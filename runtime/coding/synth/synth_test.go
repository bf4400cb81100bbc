package synth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/codeagent/runtime/agent/tools"
	"github.com/basinlabs/codeagent/runtime/coding/synth"
)

func sampleTool() tools.ToolSpec {
	return tools.ToolSpec{
		Name:        "search",
		Description: "Searches the web for a query.",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "The search query.", Required: true},
			{Name: "limit", Type: "integer", Description: "Max results.", Required: false},
		},
	}
}

func TestSynthesizeIncludesHeaderStubsUserCodeAndEpilogue(t *testing.T) {
	program, err := synth.Synthesize("x = search(query=\"go\")\nfinal_answer(x)\n", []tools.ToolSpec{sampleTool()}, "http://172.17.0.1:8765")
	require.NoError(t, err)

	assert.Contains(t, program, "_IPC_URL = \"http://172.17.0.1:8765\"")
	assert.Contains(t, program, "def _call_ipc(tool_name, **kwargs):")
	assert.Contains(t, program, "def final_answer(x):")
	assert.Contains(t, program, "def search(query, limit=_OMITTED):")
	assert.Contains(t, program, "x = search(query=\"go\")")
	assert.Contains(t, program, "__TOOL_TRACE__")
}

func TestSynthesizeStubOmitsSentinelArguments(t *testing.T) {
	program, err := synth.Synthesize("", []tools.ToolSpec{sampleTool()}, "http://host")
	require.NoError(t, err)

	assert.Contains(t, program, "if limit is not _OMITTED:")
	assert.Contains(t, program, "_kwargs[\"limit\"] = limit")
	assert.Contains(t, program, "response = _call_ipc(\"search\", **_kwargs)")
	assert.Contains(t, program, "Parameter schema:")
	assert.Contains(t, program, `"required":["query"]`)
}

func TestSynthesizeWithNoTools(t *testing.T) {
	program, err := synth.Synthesize("final_answer(1)\n", nil, "http://host")
	require.NoError(t, err)
	assert.Contains(t, program, "final_answer(1)")
	assert.Contains(t, program, "__TOOL_TRACE__")
}

func TestSystemPromptIncludesTaskFramingAndToolTable(t *testing.T) {
	prompt := synth.SystemPrompt([]tools.ToolSpec{sampleTool()}, "")
	assert.Contains(t, prompt, "final_answer")
	assert.Contains(t, prompt, "### search")
	assert.Contains(t, prompt, "| query | text | required |")
	assert.Contains(t, prompt, "| limit | whole-number | optional |")
	assert.Contains(t, prompt, "Example 1")
}

func TestSystemPromptAppendsCustomInstruction(t *testing.T) {
	prompt := synth.SystemPrompt(nil, "Always respond in French.")
	assert.Contains(t, prompt, "Always respond in French.")
}

func TestSystemPromptWithNoToolsOmitsToolSection(t *testing.T) {
	prompt := synth.SystemPrompt(nil, "")
	assert.NotContains(t, prompt, "Available tools:")
}
