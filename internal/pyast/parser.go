// Package pyast wraps tree-sitter parsing of Python model sources and
// provides the node helpers shared by the inventory extractor, the
// cross-reference analyzer and the rewriter.
package pyast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Node type names used for Python AST traversal. They match the node types
// defined by tree-sitter-python.
const (
	NodeModule              = "module"
	NodeClassDefinition     = "class_definition"
	NodeFunctionDefinition  = "function_definition"
	NodeDecoratedDefinition = "decorated_definition"
	NodeDecorator           = "decorator"
	NodeBlock               = "block"
	NodeExpressionStatement = "expression_statement"
	NodeAssignment          = "assignment"
	NodeAttribute           = "attribute"
	NodeCall                = "call"
	NodeArgumentList        = "argument_list"
	NodeKeywordArgument     = "keyword_argument"
	NodeIdentifier          = "identifier"
	NodeString              = "string"
	NodeList                = "list"
	NodeParameters          = "parameters"
)

// Parser wraps a tree-sitter parser configured for Python.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a new Python parser.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{parser: p}
}

// Parse parses source and returns the AST root node. A nil error does not
// guarantee a clean parse; callers that need well-formedness must also check
// root.HasError().
func (p *Parser) Parse(ctx context.Context, source []byte) (*sitter.Node, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return tree.RootNode(), nil
}

// Text returns the source text covered by a node.
func Text(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return string(source[n.StartByte():n.EndByte()])
}

// FindNodes finds all nodes of the given types under root, in document order.
func FindNodes(root *sitter.Node, types ...string) []*sitter.Node {
	if root == nil || len(types) == 0 {
		return nil
	}

	var result []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		for _, t := range types {
			if node.Type() == t {
				result = append(result, node)
				break
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
	return result
}

// NamedChildren returns the named children of a node.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// StringLiteralValue returns the unquoted value of a Python string literal
// node. Returns false for non-string nodes and for strings the simple
// unquoter cannot handle (f-strings with interpolation are fine to reject:
// the scanners only care about plain literals).
func StringLiteralValue(n *sitter.Node, source []byte) (string, bool) {
	if n == nil || n.Type() != NodeString {
		return "", false
	}
	return Unquote(Text(n, source))
}

// Unquote strips Python string prefixes and quotes from a literal's source
// text. Handles '...', "...", triple quotes and r/b/u prefixes.
func Unquote(lit string) (string, bool) {
	s := lit
	// Strip prefix letters (r, b, u, f and combinations).
	i := 0
	for i < len(s) {
		c := s[i]
		if c == 'r' || c == 'R' || c == 'b' || c == 'B' || c == 'u' || c == 'U' || c == 'f' || c == 'F' {
			i++
			continue
		}
		break
	}
	hadFPrefix := false
	for _, c := range s[:i] {
		if c == 'f' || c == 'F' {
			hadFPrefix = true
		}
	}
	s = s[i:]

	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && s[:len(q)] == q && s[len(s)-len(q):] == q {
			v := s[len(q) : len(s)-len(q)]
			if hadFPrefix {
				// Interpolated strings are not plain literals.
				for j := 0; j < len(v); j++ {
					if v[j] == '{' {
						return "", false
					}
				}
			}
			return v, true
		}
	}
	return "", false
}

// DottedName flattens an attribute/identifier chain like a.b.c into its
// source text, or returns false when the node is not a plain dotted name.
func DottedName(n *sitter.Node, source []byte) (string, bool) {
	switch n.Type() {
	case NodeIdentifier:
		return Text(n, source), true
	case NodeAttribute:
		obj := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return "", false
		}
		prefix, ok := DottedName(obj, source)
		if !ok {
			return "", false
		}
		return prefix + "." + Text(attr, source), true
	default:
		return "", false
	}
}
