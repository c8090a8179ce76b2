package inventory

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"fieldmv/internal/errors"
	"fieldmv/internal/pyast"
)

// Extractor parses model source files into flat inventories. It is a pure
// function over text: identical input always yields identical output, in
// both order and content.
type Extractor struct {
	parser *pyast.Parser
}

// NewExtractor creates a new inventory extractor.
func NewExtractor() *Extractor {
	return &Extractor{parser: pyast.NewParser()}
}

// Extract parses one file's content and returns its inventory. A parse
// failure is recoverable for the caller (skip-and-continue) and is reported
// as an FmvError with code ParseFailure carrying the file path.
func (e *Extractor) Extract(ctx context.Context, content []byte, path string) (*FileInventory, error) {
	root, err := e.parser.Parse(ctx, content)
	if err != nil {
		return nil, errors.New(errors.ParseFailure, "cannot parse "+path, err)
	}
	if root.HasError() {
		return nil, errors.New(errors.ParseFailure, "syntax errors in "+path, nil).
			WithDetails(map[string]interface{}{"path": path})
	}

	inv := &FileInventory{Path: path}

	for _, classNode := range topLevelClasses(root) {
		decl, body := e.extractClass(classNode, content, path)
		if decl == nil || body == nil {
			continue
		}
		inv.Classes = append(inv.Classes, *decl)
		inv.Entries = append(inv.Entries, e.extractMembers(body, content, decl)...)
	}

	return inv, nil
}

// topLevelClasses returns class_definition nodes that are direct module
// statements, unwrapping decorated definitions.
func topLevelClasses(root *sitter.Node) []*sitter.Node {
	var classes []*sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if n.Type() == pyast.NodeDecoratedDefinition {
			if def := n.ChildByFieldName("definition"); def != nil {
				n = def
			}
		}
		if n.Type() == pyast.NodeClassDefinition {
			classes = append(classes, n)
		}
	}
	return classes
}

// extractClass reads a class's _name/_inherit declarations and classifies it
// as a new entity or a same-name extension. Classes declaring neither are
// not model declarations and are skipped.
func (e *Extractor) extractClass(classNode *sitter.Node, content []byte, path string) (*ClassDecl, *sitter.Node) {
	nameNode := classNode.ChildByFieldName("name")
	body := classNode.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return nil, nil
	}

	var entityName string
	var inherits []string

	for _, stmt := range pyast.NamedChildren(body) {
		assign := assignmentOf(stmt)
		if assign == nil {
			continue
		}
		left := assign.ChildByFieldName("left")
		right := assign.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != pyast.NodeIdentifier {
			continue
		}
		switch pyast.Text(left, content) {
		case "_name":
			if v, ok := pyast.StringLiteralValue(right, content); ok {
				entityName = v
			}
		case "_inherit":
			inherits = append(inherits, stringListValues(right, content)...)
		}
	}

	if entityName == "" && len(inherits) == 0 {
		return nil, nil
	}

	decl := &ClassDecl{
		ClassName:    pyast.Text(nameNode, content),
		DeclaredIn:   path,
		InheritsFrom: inherits,
		Line:         int(classNode.StartPoint().Row) + 1,
	}

	switch {
	case entityName == "":
		// _inherit without _name extends the inherited entity in place.
		decl.QualifiedName = inherits[0]
		decl.SameNameExtension = true
	default:
		decl.QualifiedName = entityName
		for _, inh := range inherits {
			if inh == entityName {
				decl.SameNameExtension = true
			}
		}
	}

	return decl, body
}

// extractMembers walks the immediate statements of a class body and emits
// one entry per declared field or method.
func (e *Extractor) extractMembers(body *sitter.Node, content []byte, decl *ClassDecl) []Entry {
	var entries []Entry

	for _, stmt := range pyast.NamedChildren(body) {
		switch stmt.Type() {
		case pyast.NodeExpressionStatement:
			assign := assignmentOf(stmt)
			if assign == nil {
				continue
			}
			if entry := e.fieldEntry(assign, content, decl); entry != nil {
				entries = append(entries, *entry)
			}

		case pyast.NodeFunctionDefinition:
			entries = append(entries, e.methodEntry(stmt, nil, content, decl))

		case pyast.NodeDecoratedDefinition:
			def := stmt.ChildByFieldName("definition")
			if def == nil || def.Type() != pyast.NodeFunctionDefinition {
				continue
			}
			decorators := pyast.FindNodes(stmt, pyast.NodeDecorator)
			entries = append(entries, e.methodEntry(def, decorators, content, decl))
		}
	}

	return entries
}

// fieldEntry emits an entry for `name = <ctor>(...)` class-body assignments.
func (e *Extractor) fieldEntry(assign *sitter.Node, content []byte, decl *ClassDecl) *Entry {
	left := assign.ChildByFieldName("left")
	right := assign.ChildByFieldName("right")
	if left == nil || right == nil {
		return nil
	}
	if left.Type() != pyast.NodeIdentifier || right.Type() != pyast.NodeCall {
		return nil
	}

	name := pyast.Text(left, content)
	if strings.HasPrefix(name, "_") {
		// _name, _inherit, _order and friends are model metadata, not fields.
		return nil
	}

	sig, ok := FieldSignature(right, content)
	if !ok {
		return nil
	}

	return &Entry{
		Name:         name,
		Kind:         KindField,
		OwningEntity: decl.QualifiedName,
		Class:        decl.ClassName,
		Signature:    sig,
		SourcePath:   decl.DeclaredIn,
		Line:         int(assign.StartPoint().Row) + 1,
	}
}

// methodEntry emits an entry for a def statement in a class body.
func (e *Extractor) methodEntry(def *sitter.Node, decorators []*sitter.Node, content []byte, decl *ClassDecl) Entry {
	nameNode := def.ChildByFieldName("name")
	name := pyast.Text(nameNode, content)

	return Entry{
		Name:         name,
		Kind:         KindMethod,
		OwningEntity: decl.QualifiedName,
		Class:        decl.ClassName,
		Signature:    MethodSignature(def, decorators, content),
		SourcePath:   decl.DeclaredIn,
		Line:         int(def.StartPoint().Row) + 1,
	}
}

// FieldSignature canonicalizes a field constructor call: the constructor's
// dotted name, positional arguments in order, and keyword arguments sorted
// by key. The user-facing label argument (string=) is excluded because
// labels usually change together with the name. Keyword reordering in the
// source therefore cannot change the signature.
func FieldSignature(call *sitter.Node, content []byte) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	ctor, ok := pyast.DottedName(fn, content)
	if !ok {
		return "", false
	}

	var positional []string
	var keyword []string

	if args := call.ChildByFieldName("arguments"); args != nil {
		for _, arg := range pyast.NamedChildren(args) {
			if arg.Type() == pyast.NodeKeywordArgument {
				k := arg.ChildByFieldName("name")
				v := arg.ChildByFieldName("value")
				if k == nil || v == nil {
					continue
				}
				key := pyast.Text(k, content)
				if key == "string" {
					continue
				}
				keyword = append(keyword, key+"="+normalize(pyast.Text(v, content)))
				continue
			}
			positional = append(positional, normalize(pyast.Text(arg, content)))
		}
	}

	sort.Strings(keyword)
	parts := append(positional, keyword...)
	return ctor + "(" + strings.Join(parts, ",") + ")", true
}

// MethodSignature canonicalizes a method declaration: the sorted decorator
// set (argument lists stripped), the parameter names in order, and the
// parameter count.
func MethodSignature(def *sitter.Node, decorators []*sitter.Node, content []byte) string {
	var decoNames []string
	for _, d := range decorators {
		decoNames = append(decoNames, decoratorName(d, content))
	}
	sort.Strings(decoNames)

	var params []string
	if p := def.ChildByFieldName("parameters"); p != nil {
		for _, param := range pyast.NamedChildren(p) {
			switch param.Type() {
			case pyast.NodeIdentifier:
				params = append(params, pyast.Text(param, content))
			default:
				// typed/default parameters carry a name child
				if n := param.ChildByFieldName("name"); n != nil {
					params = append(params, pyast.Text(n, content))
				} else {
					params = append(params, normalize(pyast.Text(param, content)))
				}
			}
		}
	}

	var b strings.Builder
	for _, d := range decoNames {
		b.WriteString("@" + d + ";")
	}
	b.WriteString("def(" + strings.Join(params, ",") + ")")
	return b.String()
}

// decoratorName returns the dotted name of a decorator with any argument
// list stripped: @api.depends('x') -> api.depends
func decoratorName(d *sitter.Node, content []byte) string {
	for _, child := range pyast.NamedChildren(d) {
		switch child.Type() {
		case pyast.NodeCall:
			if fn := child.ChildByFieldName("function"); fn != nil {
				if name, ok := pyast.DottedName(fn, content); ok {
					return name
				}
			}
		case pyast.NodeIdentifier, pyast.NodeAttribute:
			if name, ok := pyast.DottedName(child, content); ok {
				return name
			}
		}
	}
	return strings.TrimPrefix(normalize(pyast.Text(d, content)), "@")
}

// assignmentOf unwraps an expression_statement to its assignment, if any.
func assignmentOf(stmt *sitter.Node) *sitter.Node {
	if stmt.Type() == pyast.NodeAssignment {
		return stmt
	}
	if stmt.Type() != pyast.NodeExpressionStatement {
		return nil
	}
	for _, child := range pyast.NamedChildren(stmt) {
		if child.Type() == pyast.NodeAssignment {
			return child
		}
	}
	return nil
}

// normalize collapses whitespace in a source fragment so formatting cannot
// influence signatures.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// stringListValues reads a string literal or a list of string literals.
func stringListValues(n *sitter.Node, content []byte) []string {
	switch n.Type() {
	case pyast.NodeString:
		if v, ok := pyast.StringLiteralValue(n, content); ok {
			return []string{v}
		}
	case pyast.NodeList:
		var out []string
		for _, item := range pyast.NamedChildren(n) {
			if v, ok := pyast.StringLiteralValue(item, content); ok {
				out = append(out, v)
			}
		}
		return out
	}
	return nil
}
