// Package allowlist validates that generated code imports nothing outside an
// explicit set of permitted dotted module names. It is the one security
// property the runtime enforces on code reaching the sandbox: a tool is
// trusted host code, but the code the model wrote is not.
package allowlist

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Set is an immutable collection of allowed dotted-name patterns. Two
// pattern kinds are recognized: exact ("json") and wildcard ("collections.*").
// A wildcard pattern "P.*" matches any name starting with "P." (including
// deeper nesting) but never "P" alone.
type Set map[string]struct{}

// NewSet builds a Set from the given patterns.
func NewSet(patterns ...string) Set {
	s := make(Set, len(patterns))
	for _, p := range patterns {
		s[p] = struct{}{}
	}
	return s
}

// With returns a new Set containing s's patterns plus extra.
func (s Set) With(extra ...string) Set {
	out := make(Set, len(s)+len(extra))
	for p := range s {
		out[p] = struct{}{}
	}
	for _, p := range extra {
		out[p] = struct{}{}
	}
	return out
}

// IsAllowed reports whether name is permitted by the allowlist, applying the
// three name-matching rules in order: exact pattern equality, any wildcard
// pattern "P.*" where name equals some "P.X…", and any parent-prefix chain
// ("A.*" matching for each ancestor A of the dotted name).
func (s Set) IsAllowed(name string) bool {
	if name == "" {
		_, ok := s[""]
		return ok
	}
	if _, ok := s[name]; ok {
		return true
	}
	for pattern := range s {
		if !strings.HasSuffix(pattern, ".*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, ".*")
		if prefix != "" && strings.HasPrefix(name, prefix+".") {
			return true
		}
	}
	parts := strings.Split(name, ".")
	for i := 1; i < len(parts); i++ {
		ancestor := strings.Join(parts[:i], ".")
		if _, ok := s[ancestor+".*"]; ok {
			return true
		}
	}
	return false
}

// Import is one import statement extracted from a syntax tree: the dotted
// module name, the imported names (empty for a plain "import M"), the
// 1-indexed source line, and whether this is a "from M import N" form.
type Import struct {
	Module     string
	Names      []string
	Line       int
	IsFrom     bool
	IsWildcard bool
}

// ImportName reports the name used to check allowance for a "from M import N"
// form with a single imported name N: this is M.N, the assembled
// fully-qualified name.
func (imp Import) ImportName(name string) string {
	if imp.Module == "" {
		return name
	}
	return imp.Module + "." + name
}

// ExtractImports parses code as Python source and returns every import
// statement found at any nesting depth. A syntax-error tree still yields
// whatever imports tree-sitter could recover, and the second return value
// reports whether the tree had errors; callers that need the "single
// synthetic violation" behavior should check that flag first, as Validate
// does.
func ExtractImports(ctx context.Context, code string) ([]Import, bool, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return nil, false, fmt.Errorf("allowlist: parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, true, nil
	}
	hasError := root.HasError()

	var out []Import
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			switch child.Type() {
			case "import_statement":
				out = append(out, processImportStatement(child, []byte(code))...)
			case "import_from_statement":
				if imp, ok := processImportFromStatement(child, []byte(code)); ok {
					out = append(out, imp)
				}
			default:
				walk(child)
			}
		}
	}
	walk(root)
	return out, hasError, nil
}

func processImportStatement(node *sitter.Node, content []byte) []Import {
	line := int(node.StartPoint().Row) + 1
	var out []Import
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			out = append(out, Import{
				Module: string(content[child.StartByte():child.EndByte()]),
				Line:   line,
			})
		case "aliased_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				grand := child.Child(j)
				if grand.Type() == "dotted_name" {
					out = append(out, Import{
						Module: string(content[grand.StartByte():grand.EndByte()]),
						Line:   line,
					})
					break
				}
			}
		}
	}
	return out
}

func processImportFromStatement(node *sitter.Node, content []byte) (Import, bool) {
	line := int(node.StartPoint().Row) + 1
	var (
		modulePath string
		names      []string
		isWildcard bool
		isRelative bool
		sawImport  bool
	)
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			isRelative = true
			var prefix, name string
			for j := 0; j < int(child.ChildCount()); j++ {
				grand := child.Child(j)
				switch grand.Type() {
				case "import_prefix":
					prefix = string(content[grand.StartByte():grand.EndByte()])
				case "dotted_name":
					name = string(content[grand.StartByte():grand.EndByte()])
				}
			}
			if name != "" {
				modulePath = prefix + name
			}
		case "dotted_name":
			name := string(content[child.StartByte():child.EndByte()])
			if !sawImport {
				modulePath = name
			} else {
				names = append(names, name)
			}
		case "wildcard_import":
			isWildcard = true
			names = append(names, "*")
		case "aliased_import":
			var importName string
			for j := 0; j < int(child.ChildCount()); j++ {
				grand := child.Child(j)
				if grand.Type() == "identifier" || grand.Type() == "dotted_name" {
					if importName == "" {
						importName = string(content[grand.StartByte():grand.EndByte()])
					}
				}
			}
			if importName != "" {
				names = append(names, importName)
			}
		case "identifier":
			if sawImport {
				names = append(names, string(content[child.StartByte():child.EndByte()]))
			}
		}
	}
	if modulePath == "" && !isRelative {
		return Import{}, false
	}
	// A relative import with no explicit target ("from . import X") has an
	// empty module string; it matches only an explicit empty-string
	// allowlist entry, never default-allowed.
	if isRelative && modulePath == "" {
		modulePath = ""
	}
	return Import{Module: modulePath, Names: names, Line: line, IsFrom: true, IsWildcard: isWildcard}, true
}

// Validate returns a (possibly empty) list of human-readable violation
// strings for code against allowed. A syntax error in code yields exactly
// one synthetic violation rather than a Go error, so malformed model output
// is handled the same way as any other validation failure by the caller.
func Validate(ctx context.Context, code string, allowed Set) ([]string, error) {
	imports, hasError, err := ExtractImports(ctx, code)
	if err != nil {
		return nil, err
	}
	if hasError {
		return []string{"Syntax error in code: source contains syntax errors"}, nil
	}

	var violations []string
	for _, imp := range imports {
		if !imp.IsFrom {
			if !allowed.IsAllowed(imp.Module) {
				violations = append(violations, fmt.Sprintf("Line %d: Unauthorized import %q", imp.Line, imp.Module))
			}
			continue
		}
		if allowed.IsAllowed(imp.Module) {
			continue
		}
		for _, name := range imp.Names {
			// An empty module (a bare relative import) is admitted only by
			// an explicit "" entry, checked above; its names alone never
			// admit it.
			if imp.Module == "" || !allowed.IsAllowed(imp.ImportName(name)) {
				violations = append(violations, fmt.Sprintf("Line %d: Unauthorized import \"from %s import %s\"", imp.Line, imp.Module, name))
			}
		}
	}
	return violations, nil
}

// ValidateStrict raises an error wrapping the violation list when
// validation finds any. It returns nil when code has no violations.
func ValidateStrict(ctx context.Context, code string, allowed Set) error {
	violations, err := Validate(ctx, code, allowed)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// ValidationError reports one or more import violations found in generated
// code.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}
