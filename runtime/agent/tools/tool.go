package tools

import "context"

// Parameter describes one named input accepted by a tool's invoke call.
//
// Type follows JSON Schema primitive naming (string, integer, number, boolean,
// array, object) so that stub synthesis can render language-native type hints
// without a runtime dependency on a schema library.
type Parameter struct {
	// Name is the keyword-argument name used when a stub forwards a call.
	Name string
	// Type is the JSON-Schema type name for this parameter.
	Type string
	// Description documents the parameter for both the LLM-facing prompt and
	// any synthesized stub docstring.
	Description string
	// Required marks the parameter as positional-by-default in synthesized
	// stubs. Optional parameters default to a sentinel meaning "omit".
	Required bool
	// ItemsType optionally annotates the element type of an array parameter.
	// Left empty when Type is not "array" or the item type is unspecified.
	ItemsType string
}

// Invoker executes a tool call under a host-installed invocation context.
//
// Implementations are host-provided; the runtime never constructs a tool, it
// only receives one fully formed. Invoke is expected to be safe for
// concurrent use: the IPC server may dispatch several calls from a single
// sandbox execution in parallel.
type Invoker interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, args map[string]any) (any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// ToolSpec is the tool descriptor the runtime depends on: a name, a
// description, a parameter schema, and an asynchronous invoke. The core never
// constructs a ToolSpec; it only receives one from the embedding application.
// Lifetime matches the host process.
type ToolSpec struct {
	// Name is the identifier the LLM uses to call this tool. It must be a
	// valid identifier in the sandbox's target language.
	Name Ident
	// Description is surfaced verbatim in the synthesized system prompt.
	Description string
	// Parameters describes the tool's declared schema, in declaration order.
	Parameters []Parameter
	// Invoke performs the tool call. The supplied context carries whatever
	// invocation-scoped values the host installed before starting the
	// sandbox execution that triggered this call.
	Invoke Invoker
	// Tags carries design-time metadata, including idempotency declarations
	// (see IdempotencyScopeFromTags). The runtime does not interpret tags
	// beyond the recognized prefixes.
	Tags []string
}

// RequiredParameters returns the subset of p.Parameters with Required set,
// preserving declaration order.
func (t ToolSpec) RequiredParameters() []Parameter {
	var out []Parameter
	for _, p := range t.Parameters {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// OptionalParameters returns the subset of p.Parameters without Required set,
// preserving declaration order.
func (t ToolSpec) OptionalParameters() []Parameter {
	var out []Parameter
	for _, p := range t.Parameters {
		if !p.Required {
			out = append(out, p)
		}
	}
	return out
}
