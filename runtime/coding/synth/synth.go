// Package synth turns user-authored Python and a tool registry into a
// single self-contained program the sandbox can execute: an IPC runtime
// header, one stub per tool, the user's code verbatim, and a trace
// epilogue. It also renders the developer-facing system prompt describing
// the same tool registry to the model.
package synth

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/basinlabs/codeagent/runtime/agent/tools"
)

// sentinel is the Python expression stubs use as the default value for an
// optional parameter, signaling "caller did not supply this argument" so
// the stub can omit it from the forwarded call rather than sending an
// explicit null.
const sentinel = "_OMITTED"

var headerTemplate = template.Must(template.New("header").Parse(`
import json as _json
import urllib.request as _urllib_request
import urllib.error as _urllib_error

_IPC_URL = {{printf "%q" .IPCURL}}
_TOOL_TRACE = []


class {{.SentinelClassName}}:
    """Marks an optional stub argument the caller did not supply."""

    def __repr__(self):
        return "<omitted>"


{{.Sentinel}} = {{.SentinelClassName}}()


def _call_ipc(tool_name, **kwargs):
    body = _json.dumps({"tool_name": tool_name, "args": kwargs}).encode("utf-8")
    req = _urllib_request.Request(
        _IPC_URL + "/tool_call",
        data=body,
        headers={"Content-Type": "application/json"},
        method="POST",
    )
    try:
        with _urllib_request.urlopen(req) as resp:
            payload = _json.loads(resp.read().decode("utf-8"))
    except _urllib_error.HTTPError as e:
        detail = e.read().decode("utf-8", errors="replace")
        _TOOL_TRACE.append(
            {"tool_name": tool_name, "args": kwargs, "success": False, "error": detail}
        )
        raise RuntimeError(f"tool call to {tool_name!r} failed: {detail}") from e
    except _urllib_error.URLError as e:
        _TOOL_TRACE.append(
            {"tool_name": tool_name, "args": kwargs, "success": False, "error": str(e)}
        )
        raise RuntimeError(f"tool call to {tool_name!r} failed: {e}") from e

    if payload.get("success"):
        _TOOL_TRACE.append(
            {"tool_name": tool_name, "args": kwargs, "success": True, "result": payload.get("result")}
        )
    else:
        _TOOL_TRACE.append(
            {"tool_name": tool_name, "args": kwargs, "success": False, "error": payload.get("error")}
        )
        raise RuntimeError(f"tool call to {tool_name!r} failed: {payload.get('error')}")

    return payload.get("result")


def final_answer(x):
    try:
        encoded = _json.dumps(x)
    except TypeError:
        encoded = str(x)
    print("__FINAL_ANSWER__:" + encoded)
`))

var stubTemplate = template.Must(template.New("stub").Parse(`

def {{.Name}}({{.Signature}}):
    """{{.Description}}
{{range .ParamDocs}}
    {{.}}
{{- end}}

    Parameter schema: {{.SchemaJSON}}
    """
    _kwargs = {}
{{range .Params}}    if {{.Name}} is not {{$.Sentinel}}:
        _kwargs[{{printf "%q" .Name}}] = {{.Name}}
{{end}}    response = _call_ipc({{printf "%q" .Name}}, **_kwargs)
    if isinstance(response, dict) and "result" in response:
        return response["result"]
    return response
`))

var epilogueTemplate = template.Must(template.New("epilogue").Parse(`

print("__TOOL_TRACE__:" + _json.dumps(_TOOL_TRACE))
`))

type headerData struct {
	IPCURL            string
	Sentinel          string
	SentinelClassName string
}

// Synthesize renders the complete program: header, one stub per tool,
// userCode verbatim, and the trace epilogue, in that order.
func Synthesize(userCode string, toolSpecs []tools.ToolSpec, ipcURL string) (string, error) {
	var b strings.Builder

	if err := headerTemplate.Execute(&b, headerData{
		IPCURL:            ipcURL,
		Sentinel:          sentinel,
		SentinelClassName: "_Omitted",
	}); err != nil {
		return "", fmt.Errorf("synth: render header: %w", err)
	}

	for _, t := range toolSpecs {
		stub, err := renderStub(t)
		if err != nil {
			return "", fmt.Errorf("synth: render stub %q: %w", t.Name, err)
		}
		b.WriteString(stub)
	}

	b.WriteString("\n\n")
	b.WriteString(userCode)

	if err := epilogueTemplate.Execute(&b, nil); err != nil {
		return "", fmt.Errorf("synth: render epilogue: %w", err)
	}

	return b.String(), nil
}

type stubData struct {
	Name        tools.Ident
	Description string
	Signature   string
	Params      []tools.Parameter
	Sentinel    string
	ParamDocs   []string
	SchemaJSON  string
}

func renderStub(t tools.ToolSpec) (string, error) {
	var params []string
	var docs []string
	var all []tools.Parameter

	for _, p := range t.RequiredParameters() {
		params = append(params, p.Name)
		docs = append(docs, paramDoc(p))
		all = append(all, p)
	}
	for _, p := range t.OptionalParameters() {
		params = append(params, fmt.Sprintf("%s=%s", p.Name, sentinel))
		docs = append(docs, paramDoc(p))
		all = append(all, p)
	}

	schemaJSON, err := parameterSchemaJSON(t.Parameters)
	if err != nil {
		return "", err
	}

	data := stubData{
		Name:        t.Name,
		Description: t.Description,
		Signature:   strings.Join(params, ", "),
		Params:      all,
		Sentinel:    sentinel,
		ParamDocs:   docs,
		SchemaJSON:  schemaJSON,
	}

	var b strings.Builder
	if err := stubTemplate.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// pythonType maps a JSON-Schema primitive type name to the language-native
// hint used in stub docstrings. Hints are for LLM-facing readability only;
// the runtime never enforces them. Unknown types are left unannotated.
func pythonType(p tools.Parameter) string {
	switch p.Type {
	case "string":
		return "text"
	case "integer":
		return "whole-number"
	case "number":
		return "real"
	case "boolean":
		return "truth"
	case "array":
		if p.ItemsType != "" {
			return fmt.Sprintf("sequence of %s", p.ItemsType)
		}
		return "sequence"
	case "object":
		return "mapping"
	default:
		return ""
	}
}

func paramDoc(p tools.Parameter) string {
	kind := "required"
	if !p.Required {
		kind = "optional"
	}
	typeHint := pythonType(p)
	if typeHint == "" {
		return fmt.Sprintf("%s (%s): %s", p.Name, kind, p.Description)
	}
	return fmt.Sprintf("%s (%s, %s): %s", p.Name, typeHint, kind, p.Description)
}
