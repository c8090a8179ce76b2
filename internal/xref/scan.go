package xref

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"fieldmv/internal/errors"
	"fieldmv/internal/pyast"
)

// useSite is one attribute access found in a method body.
type useSite struct {
	node   *sitter.Node
	isCall bool
}

// relationUse is one access that goes through a relation field:
// self.<relation>.<member>.
type relationUse struct {
	relation string
	isCall   bool
}

// indexFile parses one source file into per-class scan views.
func (a *Analyzer) indexFile(ctx context.Context, path string, content []byte) ([]classInfo, error) {
	root, err := a.parser.Parse(ctx, content)
	if err != nil {
		return nil, errors.New(errors.ParseFailure, "cannot parse "+path, err)
	}
	if root.HasError() {
		return nil, errors.New(errors.ParseFailure, "syntax errors in "+path, nil)
	}

	var out []classInfo
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if n.Type() == pyast.NodeDecoratedDefinition {
			if def := n.ChildByFieldName("definition"); def != nil {
				n = def
			}
		}
		if n.Type() != pyast.NodeClassDefinition {
			continue
		}
		if cls, ok := a.indexClass(n, content, path); ok {
			out = append(out, cls)
		}
	}
	return out, nil
}

// indexClass builds the scan view for one class_definition. Classes without
// _name or _inherit are not model declarations and are skipped.
func (a *Analyzer) indexClass(classNode *sitter.Node, content []byte, path string) (classInfo, bool) {
	nameNode := classNode.ChildByFieldName("name")
	body := classNode.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return classInfo{}, false
	}

	cls := classInfo{
		path:      path,
		content:   content,
		className: pyast.Text(nameNode, content),
		relations: make(map[string]string),
	}

	var entityName string
	var inherits []string

	for _, stmt := range pyast.NamedChildren(body) {
		switch stmt.Type() {
		case pyast.NodeExpressionStatement:
			assign := firstAssignment(stmt)
			if assign == nil {
				continue
			}
			left := assign.ChildByFieldName("left")
			right := assign.ChildByFieldName("right")
			if left == nil || right == nil || left.Type() != pyast.NodeIdentifier {
				continue
			}
			name := pyast.Text(left, content)
			switch {
			case name == "_name":
				if v, ok := pyast.StringLiteralValue(right, content); ok {
					entityName = v
				}
			case name == "_inherit":
				inherits = append(inherits, stringValues(right, content)...)
			case right.Type() == pyast.NodeCall && name[0] != '_':
				cls.fields = append(cls.fields, fieldAssign{name: name, call: right})
				if comodel, ok := relationComodel(right, content); ok {
					cls.relations[name] = comodel
				}
			}

		case pyast.NodeFunctionDefinition:
			cls.methods = append(cls.methods, methodInfo{
				name: pyast.Text(stmt.ChildByFieldName("name"), content),
				def:  stmt,
			})

		case pyast.NodeDecoratedDefinition:
			def := stmt.ChildByFieldName("definition")
			if def == nil || def.Type() != pyast.NodeFunctionDefinition {
				continue
			}
			cls.methods = append(cls.methods, methodInfo{
				name:       pyast.Text(def.ChildByFieldName("name"), content),
				def:        def,
				decorators: pyast.FindNodes(stmt, pyast.NodeDecorator),
			})
		}
	}

	if entityName == "" && len(inherits) == 0 {
		return classInfo{}, false
	}

	switch {
	case entityName == "":
		cls.entity = inherits[0]
		cls.extension = true
	default:
		cls.entity = entityName
		for _, inh := range inherits {
			if inh == entityName {
				cls.extension = true
			}
		}
	}

	return cls, true
}

// relationComodel extracts the target entity from a relation field
// constructor: the first positional string argument or the comodel_name
// keyword.
func relationComodel(call *sitter.Node, content []byte) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	ctor, ok := pyast.DottedName(fn, content)
	if !ok {
		return "", false
	}
	if i := strings.LastIndex(ctor, "."); i >= 0 {
		ctor = ctor[i+1:]
	}
	if !relationConstructors[ctor] {
		return "", false
	}

	args := call.ChildByFieldName("arguments")
	if args == nil {
		return "", false
	}
	for _, arg := range pyast.NamedChildren(args) {
		if arg.Type() == pyast.NodeKeywordArgument {
			k := arg.ChildByFieldName("name")
			v := arg.ChildByFieldName("value")
			if k != nil && v != nil && pyast.Text(k, content) == "comodel_name" {
				return pyast.StringLiteralValue(v, content)
			}
			continue
		}
		// first positional argument
		return pyast.StringLiteralValue(arg, content)
	}
	return "", false
}

// selfUses finds self.<member> accesses inside a method body.
func selfUses(def *sitter.Node, content []byte, member string) []useSite {
	var out []useSite
	for _, attr := range pyast.FindNodes(def, pyast.NodeAttribute) {
		obj := attr.ChildByFieldName("object")
		name := attr.ChildByFieldName("attribute")
		if obj == nil || name == nil {
			continue
		}
		if obj.Type() != pyast.NodeIdentifier || pyast.Text(obj, content) != "self" {
			continue
		}
		if pyast.Text(name, content) != member {
			continue
		}
		out = append(out, useSite{node: attr, isCall: isCalled(attr)})
	}
	return out
}

// superUses finds super().<member>(...) invocations inside a method body.
func superUses(def *sitter.Node, content []byte, member string) []*sitter.Node {
	var out []*sitter.Node
	for _, attr := range pyast.FindNodes(def, pyast.NodeAttribute) {
		obj := attr.ChildByFieldName("object")
		name := attr.ChildByFieldName("attribute")
		if obj == nil || name == nil || pyast.Text(name, content) != member {
			continue
		}
		if obj.Type() != pyast.NodeCall {
			continue
		}
		fn := obj.ChildByFieldName("function")
		if fn == nil || fn.Type() != pyast.NodeIdentifier || pyast.Text(fn, content) != "super" {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// relationUses finds self.<relation>.<member> accesses inside a method
// body. Chains rooted in anything other than self are too dynamic to
// attribute to an entity and are not reported.
func relationUses(def *sitter.Node, content []byte, member string) []relationUse {
	var out []relationUse
	for _, attr := range pyast.FindNodes(def, pyast.NodeAttribute) {
		name := attr.ChildByFieldName("attribute")
		if name == nil || pyast.Text(name, content) != member {
			continue
		}
		obj := attr.ChildByFieldName("object")
		if obj == nil || obj.Type() != pyast.NodeAttribute {
			continue
		}
		inner := obj.ChildByFieldName("object")
		relName := obj.ChildByFieldName("attribute")
		if inner == nil || relName == nil {
			continue
		}
		if inner.Type() != pyast.NodeIdentifier || pyast.Text(inner, content) != "self" {
			continue
		}
		out = append(out, relationUse{
			relation: pyast.Text(relName, content),
			isCall:   isCalled(attr),
		})
	}
	return out
}

// decoratorCall returns a decorator's dotted name and its string literal
// arguments: @api.depends('a.b', 'c') -> ("api.depends", ["a.b", "c"]).
func decoratorCall(d *sitter.Node, content []byte) (string, []string) {
	for _, child := range pyast.NamedChildren(d) {
		switch child.Type() {
		case pyast.NodeCall:
			fn := child.ChildByFieldName("function")
			if fn == nil {
				continue
			}
			name, ok := pyast.DottedName(fn, content)
			if !ok {
				continue
			}
			var args []string
			if list := child.ChildByFieldName("arguments"); list != nil {
				for _, arg := range pyast.NamedChildren(list) {
					if v, ok := pyast.StringLiteralValue(arg, content); ok {
						args = append(args, v)
					}
				}
			}
			return name, args
		case pyast.NodeIdentifier, pyast.NodeAttribute:
			if name, ok := pyast.DottedName(child, content); ok {
				return name, nil
			}
		}
	}
	return "", nil
}

// isCalled reports whether an attribute node is the function of a call
// expression: self.x() versus self.x.
func isCalled(attr *sitter.Node) bool {
	parent := attr.Parent()
	if parent == nil || parent.Type() != pyast.NodeCall {
		return false
	}
	fn := parent.ChildByFieldName("function")
	return fn != nil && fn.StartByte() == attr.StartByte() && fn.EndByte() == attr.EndByte()
}

// firstAssignment unwraps an expression_statement to its assignment.
func firstAssignment(stmt *sitter.Node) *sitter.Node {
	for _, child := range pyast.NamedChildren(stmt) {
		if child.Type() == pyast.NodeAssignment {
			return child
		}
	}
	return nil
}

// stringValues reads a string literal or a list of string literals.
func stringValues(n *sitter.Node, content []byte) []string {
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
