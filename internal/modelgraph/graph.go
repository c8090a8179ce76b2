// Package modelgraph aggregates file inventories into a graph of entities
// linked by inheritance, and resolves which entity actually owns a declared
// member. Entities live in a flat arena and edges are index pairs, so the
// ownership walk is iterative and a revisited index is trivially a cycle.
package modelgraph

import (
	"sort"
	"strings"

	"fieldmv/internal/errors"
	"fieldmv/internal/inventory"
)

// Declaration records where a member is declared: which file, which class,
// and whether that class is a same-name extension of the entity.
type Declaration struct {
	File        string
	Class       string
	Line        int
	Kind        inventory.Kind
	IsExtension bool
}

// entityNode is one entity in the arena.
type entityNode struct {
	qualifiedName string
	inheritsFrom  []int // arena indices
	// members maps member name to every declaration site, primary classes
	// first, same-name extensions after.
	members map[string][]Declaration
	files   []string
	// extensionClasses lists the same-name extension classes of this entity.
	extensionClasses []inventory.ClassDecl
}

// Graph is the inheritance graph over a unit's entities.
type Graph struct {
	arena []entityNode
	index map[string]int
	// cycles collects qualified names on detected inheritance cycles,
	// for reporting. Resolution through a cycle fails closed.
	cycles map[string]bool
}

// Build aggregates inventories across all files of a unit into a graph.
func Build(invs []*inventory.FileInventory) *Graph {
	g := &Graph{
		index:  make(map[string]int),
		cycles: make(map[string]bool),
	}

	// First pass: create arena nodes and record class declarations.
	for _, inv := range invs {
		for _, cls := range inv.Classes {
			idx := g.ensure(cls.QualifiedName)
			node := &g.arena[idx]
			node.files = appendUnique(node.files, cls.DeclaredIn)
			if cls.SameNameExtension {
				node.extensionClasses = append(node.extensionClasses, cls)
			}
		}
	}

	// Second pass: edges. Self-edges from same-name extensions are not
	// inheritance for resolution purposes.
	for _, inv := range invs {
		for _, cls := range inv.Classes {
			from := g.index[cls.QualifiedName]
			for _, parent := range cls.InheritsFrom {
				if parent == cls.QualifiedName {
					continue
				}
				to := g.ensure(parent)
				g.arena[from].inheritsFrom = appendUniqueInt(g.arena[from].inheritsFrom, to)
			}
		}
	}

	// Third pass: member declarations.
	for _, inv := range invs {
		ext := make(map[string]bool)
		for _, cls := range inv.Classes {
			if cls.SameNameExtension {
				ext[cls.ClassName] = true
			}
		}
		for _, e := range inv.Entries {
			idx, ok := g.index[e.OwningEntity]
			if !ok {
				idx = g.ensure(e.OwningEntity)
			}
			node := &g.arena[idx]
			if node.members == nil {
				node.members = make(map[string][]Declaration)
			}
			node.members[e.Name] = append(node.members[e.Name], Declaration{
				File:        e.SourcePath,
				Class:       e.Class,
				Line:        e.Line,
				Kind:        e.Kind,
				IsExtension: ext[e.Class],
			})
		}
	}

	return g
}

func (g *Graph) ensure(qualifiedName string) int {
	if idx, ok := g.index[qualifiedName]; ok {
		return idx
	}
	g.arena = append(g.arena, entityNode{qualifiedName: qualifiedName})
	idx := len(g.arena) - 1
	g.index[qualifiedName] = idx
	return idx
}

// Entities returns all qualified entity names in the graph, sorted.
func (g *Graph) Entities() []string {
	names := make([]string, 0, len(g.arena))
	for _, n := range g.arena {
		names = append(names, n.qualifiedName)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the entity exists in the graph.
func (g *Graph) Has(entity string) bool {
	_, ok := g.index[entity]
	return ok
}

// Files returns the files an entity's classes were declared in.
func (g *Graph) Files(entity string) []string {
	idx, ok := g.index[entity]
	if !ok {
		return nil
	}
	return g.arena[idx].files
}

// Declarations returns every declaration site for entity's member, or nil.
func (g *Graph) Declarations(entity, member string) []Declaration {
	idx, ok := g.index[entity]
	if !ok {
		return nil
	}
	return g.arena[idx].members[member]
}

// ExtensionClasses returns the same-name extension classes of an entity.
func (g *Graph) ExtensionClasses(entity string) []inventory.ClassDecl {
	idx, ok := g.index[entity]
	if !ok {
		return nil
	}
	return g.arena[idx].extensionClasses
}

// ResolveOwner walks the inheritance chain starting at entity and returns
// the first ancestor (including entity itself) that declares member. The
// second return is false when nothing on the chain declares it, or when the
// walk hits a cycle. Callers must treat the false case as "skip", never as
// "assume primary".
func (g *Graph) ResolveOwner(entity, member string) (string, bool) {
	start, ok := g.index[entity]
	if !ok {
		return "", false
	}

	visited := make(map[int]bool)
	queue := []int{start}

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]

		if visited[idx] {
			// Revisit of an arena index means the inheritance declarations
			// form a cycle. Fail closed and mark it for reporting.
			g.cycles[g.arena[idx].qualifiedName] = true
			return "", false
		}
		visited[idx] = true

		if _, declares := g.arena[idx].members[member]; declares {
			return g.arena[idx].qualifiedName, true
		}
		queue = append(queue, g.arena[idx].inheritsFrom...)
	}

	return "", false
}

// CycleEntities returns the entities found on inheritance cycles so far,
// sorted. Populated lazily by ResolveOwner walks.
func (g *Graph) CycleEntities() []string {
	out := make([]string, 0, len(g.cycles))
	for name := range g.cycles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CycleError returns a stable-coded error naming the entities on detected
// inheritance cycles, or nil when no resolution walk hit one.
func (g *Graph) CycleError() error {
	cycles := g.CycleEntities()
	if len(cycles) == 0 {
		return nil
	}
	return errors.New(errors.InheritCycle,
		"inheritance cycle through "+strings.Join(cycles, ", "), nil)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func appendUniqueInt(list []int, i int) []int {
	for _, v := range list {
		if v == i {
			return list
		}
	}
	return append(list, i)
}
