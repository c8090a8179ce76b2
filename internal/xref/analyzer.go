// Package xref walks the inheritance graph and all scanned source files to
// find every location where a renamed member is used beyond its primary
// declaration: self references, inheritance re-declarations, cross-entity
// relation accesses, dependency-decorator arguments, and relational path
// strings. One change record is emitted per location, linked to its primary.
package xref

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/google/uuid"

	"fieldmv/internal/logging"
	"fieldmv/internal/modelgraph"
	"fieldmv/internal/pyast"
	"fieldmv/internal/records"
)

// Confidence scale factors relative to the primary record. Contextual
// matching adds uncertainty, so the analyzer never raises confidence above
// its primary's.
const (
	scaleInheritance = 0.95
	scaleSelf        = 0.90
	scaleDecorator   = 0.90
	scaleCrossEntity = 0.85
)

// CoverageCaveat is the documented under-detection boundary. It is part of
// the output, not a hidden limitation.
const CoverageCaveat = "dynamic attribute access and references outside the scanned file set are not detected; " +
	"decorator paths through unresolvable relations are skipped"

// Coverage summarizes what the analyzer actually saw.
type Coverage struct {
	FilesScanned int
	FilesSkipped int
	Caveat       string
}

// dependencyDecorators lists the decorator names whose string arguments
// declare member dependencies.
var dependencyDecorators = map[string]bool{
	"api.depends":    true,
	"api.onchange":   true,
	"api.constrains": true,
	"depends":        true,
	"onchange":       true,
	"constrains":     true,
}

// relationConstructors maps field constructor names to "declares a relation
// to a comodel".
var relationConstructors = map[string]bool{
	"Many2one":  true,
	"One2many":  true,
	"Many2many": true,
}

// Analyzer finds referencing occurrences for primary rename records.
type Analyzer struct {
	parser *pyast.Parser
	logger *logging.Logger
}

// NewAnalyzer creates a cross-reference analyzer.
func NewAnalyzer(logger *logging.Logger) *Analyzer {
	return &Analyzer{parser: pyast.NewParser(), logger: logger}
}

// methodInfo is one method body inside a scanned class.
type methodInfo struct {
	name       string
	def        *sitter.Node
	decorators []*sitter.Node
}

// fieldAssign is one field-constructor assignment inside a scanned class.
type fieldAssign struct {
	name string
	call *sitter.Node
}

// classInfo is the per-class view the scans operate on.
type classInfo struct {
	path      string
	content   []byte
	className string
	entity    string
	extension bool // same-name extension of entity
	relations map[string]string
	methods   []methodInfo
	fields    []fieldAssign
}

// FindImpacts scans all files once and emits the dependent change records
// for every primary. Files that fail to parse are logged and skipped; they
// never abort the run.
func (a *Analyzer) FindImpacts(ctx context.Context, primaries []records.ChangeRecord, graph *modelgraph.Graph, files map[string][]byte) ([]records.ChangeRecord, *Coverage, error) {
	cov := &Coverage{Caveat: CoverageCaveat}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var classes []classInfo
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		parsed, err := a.indexFile(ctx, path, files[path])
		if err != nil {
			cov.FilesSkipped++
			a.logger.Warn("skipping unparseable file", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
			continue
		}
		cov.FilesScanned++
		classes = append(classes, parsed...)
	}

	var out []records.ChangeRecord
	for _, primary := range primaries {
		out = append(out, a.impactsForPrimary(primary, graph, classes)...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentChangeID != out[j].ParentChangeID {
			return out[i].ParentChangeID < out[j].ParentChangeID
		}
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}
		if out[i].ImpactKind != out[j].ImpactKind {
			return out[i].ImpactKind < out[j].ImpactKind
		}
		return out[i].LocatingContext < out[j].LocatingContext
	})

	return out, cov, nil
}

// impactsForPrimary runs all scan passes for one primary record.
func (a *Analyzer) impactsForPrimary(primary records.ChangeRecord, graph *modelgraph.Graph, classes []classInfo) []records.ChangeRecord {
	emitted := make(map[string]bool) // dedupe by (file, scope, impact, context)
	var out []records.ChangeRecord

	emit := func(cls classInfo, scope records.ChangeScope, impact records.ImpactKind, context string, scale float64) {
		key := cls.path + "\x00" + string(scope) + "\x00" + string(impact) + "\x00" + context
		if emitted[key] {
			return
		}
		emitted[key] = true

		conf := primary.Confidence * scale
		if conf > primary.Confidence {
			conf = primary.Confidence
		}
		status := records.StatusPending
		if conf >= records.AutoApproveThreshold {
			status = records.StatusAutoApproved
		}
		out = append(out, records.ChangeRecord{
			ChangeID:         uuid.NewString(),
			OldName:          primary.OldName,
			NewName:          primary.NewName,
			ItemKind:         primary.ItemKind,
			Unit:             unitOf(cls.path),
			Entity:           primary.Entity,
			ChangeScope:      scope,
			ImpactKind:       impact,
			LocatingContext:  context,
			Confidence:       conf,
			ParentChangeID:   primary.ChangeID,
			ValidationStatus: status,
		})
	}

	for _, cls := range classes {
		switch {
		case cls.entity == primary.Entity && !cls.extension:
			a.scanOwnClass(primary, cls, emit)
		case cls.entity == primary.Entity && cls.extension:
			a.scanExtensionClass(primary, cls, emit)
		default:
			a.scanForeignClass(primary, cls, graph, emit)
		}
		a.scanDecorators(primary, cls, graph, emit)
		a.scanPathStrings(primary, cls, graph, emit)
	}

	return out
}

type emitFunc func(cls classInfo, scope records.ChangeScope, impact records.ImpactKind, context string, scale float64)

// scanOwnClass finds self.<old> uses inside the owning entity's own class.
func (a *Analyzer) scanOwnClass(primary records.ChangeRecord, cls classInfo, emit emitFunc) {
	for _, m := range cls.methods {
		for _, use := range selfUses(m.def, cls.content, primary.OldName) {
			if use.isCall {
				emit(cls, records.ScopeCall, records.ImpactSelfCall, m.name, scaleSelf)
			} else {
				emit(cls, records.ScopeReference, records.ImpactSelfReference, m.name, scaleSelf)
			}
		}
	}
}

// scanExtensionClass handles same-name extensions of the owning entity: a
// re-declaration of the member is a propagated declaration-level impact;
// super() invocations of a renamed method are super_call occurrences; plain
// self uses behave like self references.
func (a *Analyzer) scanExtensionClass(primary records.ChangeRecord, cls classInfo, emit emitFunc) {
	if primary.ItemKind == records.ItemField {
		for _, f := range cls.fields {
			if f.name == primary.OldName {
				emit(cls, records.ScopeDeclaration, records.ImpactInheritance, "", scaleInheritance)
			}
		}
	} else {
		for _, m := range cls.methods {
			if m.name == primary.OldName {
				emit(cls, records.ScopeDeclaration, records.ImpactInheritance, "", scaleInheritance)
			}
		}
	}

	for _, m := range cls.methods {
		for range superUses(m.def, cls.content, primary.OldName) {
			emit(cls, records.ScopeSuperCall, records.ImpactInheritance, m.name, scaleInheritance)
		}
		for _, use := range selfUses(m.def, cls.content, primary.OldName) {
			if use.isCall {
				emit(cls, records.ScopeCall, records.ImpactSelfCall, m.name, scaleSelf)
			} else {
				emit(cls, records.ScopeReference, records.ImpactSelfReference, m.name, scaleSelf)
			}
		}
	}
}

// scanForeignClass finds accesses that reach the owning entity through a
// relation field of the scanned class: self.<relation>.<old>.
func (a *Analyzer) scanForeignClass(primary records.ChangeRecord, cls classInfo, graph *modelgraph.Graph, emit emitFunc) {
	if len(cls.relations) == 0 {
		return
	}
	for _, m := range cls.methods {
		for _, use := range relationUses(m.def, cls.content, primary.OldName) {
			comodel, ok := cls.relations[use.relation]
			if !ok || comodel != primary.Entity {
				continue
			}
			if use.isCall {
				emit(cls, records.ScopeCall, records.ImpactCrossEntityCall, m.name, scaleCrossEntity)
			} else {
				emit(cls, records.ScopeReference, records.ImpactCrossEntity, m.name, scaleCrossEntity)
			}
		}
	}
}

// scanDecorators finds string literals inside dependency decorators that
// name the renamed member, either directly or as the final segment of a
// dotted path resolving through relation fields. Paths through relations
// the scanned class does not declare are skipped; that under-detection is
// covered by the coverage caveat.
func (a *Analyzer) scanDecorators(primary records.ChangeRecord, cls classInfo, graph *modelgraph.Graph, emit emitFunc) {
	for _, m := range cls.methods {
		for _, d := range m.decorators {
			name, args := decoratorCall(d, cls.content)
			if !dependencyDecorators[name] {
				continue
			}
			for _, arg := range args {
				if a.decoratorArgMatches(primary, cls, graph, arg) {
					emit(cls, records.ScopeReference, records.ImpactDecorator, m.name, scaleDecorator)
				}
			}
		}
	}
}

// decoratorArgMatches reports whether one decorator string argument refers
// to the primary's member.
func (a *Analyzer) decoratorArgMatches(primary records.ChangeRecord, cls classInfo, graph *modelgraph.Graph, arg string) bool {
	segments := strings.Split(arg, ".")

	// Plain name: the scanned class's own member chain must resolve to the
	// primary's entity.
	if len(segments) == 1 {
		if segments[0] != primary.OldName {
			return false
		}
		owner, ok := graph.ResolveOwner(cls.entity, primary.OldName)
		return ok && owner == primary.Entity
	}

	// Dotted path ending in the member: walk the leading segments through
	// relation fields.
	if segments[len(segments)-1] == primary.OldName {
		entity := cls.entity
		for _, seg := range segments[:len(segments)-1] {
			comodel, ok := a.relationTarget(entity, seg, cls, graph)
			if !ok {
				return false
			}
			entity = comodel
		}
		owner, ok := graph.ResolveOwner(entity, primary.OldName)
		return ok && owner == primary.Entity
	}

	// Dotted path starting with the member: a relational path string whose
	// first segment is being renamed.
	return segments[0] == primary.OldName && cls.entity == primary.Entity
}

// relationTarget resolves one relation segment to its comodel, using the
// scanned class's own relation fields first.
func (a *Analyzer) relationTarget(entity, field string, cls classInfo, graph *modelgraph.Graph) (string, bool) {
	if entity == cls.entity {
		if comodel, ok := cls.relations[field]; ok {
			return comodel, true
		}
	}
	// Relations declared elsewhere are not modeled; fail closed.
	return "", false
}

// scanPathStrings finds string-valued declaration arguments encoding a
// dotted relation path whose first segment is the renamed member, e.g.
// related='quotations_count.currency_id'.
func (a *Analyzer) scanPathStrings(primary records.ChangeRecord, cls classInfo, graph *modelgraph.Graph, emit emitFunc) {
	if primary.ItemKind != records.ItemField {
		return
	}
	for _, f := range cls.fields {
		args := cls.fieldKwargStrings(f)
		for kwarg, value := range args {
			segments := strings.Split(value, ".")
			if len(segments) < 2 {
				continue
			}
			first := segments[0]
			switch {
			case first == primary.OldName && cls.entity == primary.Entity:
				emit(cls, records.ScopeReference, records.ImpactSelfReference, kwarg, scaleSelf)
			case cls.relations[first] == primary.Entity && contains(segments[1:], primary.OldName):
				emit(cls, records.ScopeReference, records.ImpactCrossEntity, kwarg, scaleCrossEntity)
			}
		}
	}
}

// fieldKwargStrings returns the string-valued keyword arguments of a field
// constructor call, keyed by keyword name.
func (c classInfo) fieldKwargStrings(f fieldAssign) map[string]string {
	out := make(map[string]string)
	args := f.call.ChildByFieldName("arguments")
	if args == nil {
		return out
	}
	for _, arg := range pyast.NamedChildren(args) {
		if arg.Type() != pyast.NodeKeywordArgument {
			continue
		}
		k := arg.ChildByFieldName("name")
		v := arg.ChildByFieldName("value")
		if k == nil || v == nil {
			continue
		}
		if s, ok := pyast.StringLiteralValue(v, c.content); ok {
			out[pyast.Text(k, c.content)] = s
		}
	}
	return out
}

func unitOf(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	if i := strings.Index(p, "/"); i > 0 {
		return p[:i]
	}
	return p
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
