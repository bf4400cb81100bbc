package synth

import (
	"fmt"
	"strings"

	"github.com/basinlabs/codeagent/runtime/agent/tools"
)

const taskFraming = `You solve tasks by writing Python code. Write your code inside a ` + "```tool_code```" + ` fenced block (a ` + "```python```" + ` block also works). The code runs in a sandboxed interpreter with the tool functions below already defined — call them directly, do not import them.

When you have the answer, call final_answer(x) with the result. Do not print the answer yourself; final_answer is how your result reaches the caller.

Only the imports explicitly listed as available to you may be used. Unauthorized imports cause the code to be rejected before it runs.`

const fewShotExamples = `Example 1 — calling a single tool and finishing:
` + "```tool_code" + `
result = search(query="capital of France")
final_answer(result)
` + "```" + `

Example 2 — combining two tool calls before answering:
` + "```tool_code" + `
weather = get_weather(city="Tokyo")
forecast = get_forecast(city="Tokyo", days=3)
final_answer(f"Today: {weather}. Next 3 days: {forecast}")
` + "```" + `

Example 3 — reasoning over a tool result in pure Python before answering:
` + "```tool_code" + `
numbers = fetch_numbers()
total = sum(n for n in numbers if n % 2 == 0)
final_answer(total)
` + "```"

// SystemPrompt renders the developer-facing prompt describing toolSpecs: task
// framing, a per-tool parameter table, worked few-shot examples, and any
// caller-supplied custom instruction appended last. The result is stable
// across iterations within one invocation.
func SystemPrompt(toolSpecs []tools.ToolSpec, customInstruction string) string {
	var b strings.Builder

	b.WriteString(taskFraming)
	b.WriteString("\n\n")

	if len(toolSpecs) > 0 {
		b.WriteString("Available tools:\n\n")
		for _, t := range toolSpecs {
			b.WriteString(toolSection(t))
			b.WriteString("\n")
		}
	}

	b.WriteString(fewShotExamples)

	if customInstruction != "" {
		b.WriteString("\n\n")
		b.WriteString(customInstruction)
	}

	return b.String()
}

func toolSection(t tools.ToolSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n%s\n\n", t.Name, t.Description)

	if len(t.Parameters) == 0 {
		b.WriteString("Takes no parameters.\n")
		return b.String()
	}

	b.WriteString("| Parameter | Type | Required | Description |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, p := range t.Parameters {
		required := "optional"
		if p.Required {
			required = "required"
		}
		typeHint := pythonType(p)
		if typeHint == "" {
			typeHint = p.Type
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", p.Name, typeHint, required, p.Description)
	}
	return b.String()
}
