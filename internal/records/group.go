package records

import (
	"sort"
	"strings"
)

// FileKind distinguishes source-tree files from structured-markup files.
type FileKind string

const (
	// SourceFile is a model source file
	SourceFile FileKind = "source"
	// MarkupFile is a structured-markup (view) file
	MarkupFile FileKind = "markup"
)

// AppliedChange is one (file, record) pair actually applied, kept for
// rollback accounting.
type AppliedChange struct {
	File     string
	ChangeID string
}

// ChangeGroup clusters one primary record with its dependent records,
// partitioned into extension re-declarations and everything else. Groups
// exist only during application and are discarded at end of run.
type ChangeGroup struct {
	Primary               ChangeRecord
	ExtensionDeclarations []ChangeRecord
	References            []ChangeRecord

	// Orphaned marks a pseudo-group synthesized around a non-primary record
	// whose parent was absent from the load.
	Orphaned bool

	applied []AppliedChange
}

// All returns every record of the group in application order: primary
// first, extension declarations next, references last.
func (g *ChangeGroup) All() []ChangeRecord {
	out := make([]ChangeRecord, 0, 1+len(g.ExtensionDeclarations)+len(g.References))
	out = append(out, g.Primary)
	out = append(out, g.ExtensionDeclarations...)
	out = append(out, g.References...)
	return out
}

// Units returns the units touched by the group in processing order: the
// primary's unit first, units carrying extension re-declarations next,
// reference-only units last. Re-declarations must land before the files
// that merely use the name.
func (g *ChangeGroup) Units() []string {
	seen := map[string]bool{g.Primary.Unit: true}
	units := []string{g.Primary.Unit}

	var extension, reference []string
	for _, r := range g.ExtensionDeclarations {
		if !seen[r.Unit] {
			seen[r.Unit] = true
			extension = append(extension, r.Unit)
		}
	}
	for _, r := range g.References {
		if !seen[r.Unit] {
			seen[r.Unit] = true
			reference = append(reference, r.Unit)
		}
	}
	sort.Strings(extension)
	sort.Strings(reference)
	return append(append(units, extension...), reference...)
}

// GetChangesForFile returns the minimal record subset that plausibly
// applies to a file of the given kind and location. Every record names the
// unit its occurrence was found in, so records of other units never reach
// the file: a same-named declaration in a foreign unit belongs to a
// different entity and must stay untouched. Markup files additionally only
// ever carry field-name occurrences, so method records and call-scoped
// records are excluded there.
func (g *ChangeGroup) GetChangesForFile(path string, kind FileKind) []ChangeRecord {
	unit := unitOfPath(path)
	var out []ChangeRecord
	for _, r := range g.All() {
		if r.Unit != unit {
			continue
		}
		if kind == MarkupFile {
			if r.ItemKind != ItemField {
				continue
			}
			switch r.ChangeScope {
			case ScopeDeclaration, ScopeReference:
			default:
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// unitOfPath returns the leading segment of a root-relative slash path.
func unitOfPath(path string) string {
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

// RecordApplied appends one applied (file, record) pair to the group's
// append-only log.
func (g *ChangeGroup) RecordApplied(file, changeID string) {
	g.applied = append(g.applied, AppliedChange{File: file, ChangeID: changeID})
}

// Applied returns the applied-change log.
func (g *ChangeGroup) Applied() []AppliedChange {
	return g.applied
}

// GroupHierarchically partitions records by parent linkage, attaching
// extension-declaration and reference records to their primary. Orphaned
// references become their own single-record pseudo-group rather than being
// discarded.
func GroupHierarchically(recs []ChangeRecord) map[string]*ChangeGroup {
	groups := make(map[string]*ChangeGroup)

	for _, r := range recs {
		if r.IsPrimary() {
			if g, ok := groups[r.ChangeID]; ok {
				g.Primary = r
				g.Orphaned = false
			} else {
				groups[r.ChangeID] = &ChangeGroup{Primary: r}
			}
		}
	}

	for _, r := range recs {
		if r.IsPrimary() {
			continue
		}
		g, ok := groups[r.ParentChangeID]
		if !ok {
			// Parent missing from this load: synthesize a pseudo-group so
			// the occurrence stays visible instead of vanishing.
			g = &ChangeGroup{Primary: r, Orphaned: true}
			groups[r.ChangeID] = g
			continue
		}
		if r.ImpactKind == ImpactInheritance && r.ChangeScope == ScopeDeclaration {
			g.ExtensionDeclarations = append(g.ExtensionDeclarations, r)
		} else {
			g.References = append(g.References, r)
		}
	}

	return groups
}

// SortedGroupIDs returns group keys in a stable order: by unit, then
// entity, then old name.
func SortedGroupIDs(groups map[string]*ChangeGroup) []string {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := groups[ids[i]].Primary, groups[ids[j]].Primary
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		if a.OldName != b.OldName {
			return a.OldName < b.OldName
		}
		return ids[i] < ids[j]
	})
	return ids
}
