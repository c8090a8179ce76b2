// Package inventory extracts the declared fields and methods of one model
// source file into a flat inventory with structural signatures. Signatures
// exclude the member name, so two snapshots of a declaration can be paired
// even when the name is exactly what changed.
package inventory

// Kind classifies an inventory entry.
type Kind string

const (
	// KindField is a declared attribute built from a field constructor
	KindField Kind = "field"
	// KindMethod is a callable member declared with def
	KindMethod Kind = "method"
)

// Entry is one declared field or method found while parsing a single file.
// Entries are created fresh on every parse and never mutated.
type Entry struct {
	Name         string
	Kind         Kind
	OwningEntity string // dotted qualified entity name, e.g. "crm.team"
	Class        string // Python class the declaration appears in
	Signature    string // canonical declaration shape, name excluded
	SourcePath   string
	Line         int // 1-indexed declaration start line
}

// ClassDecl is one typed-declaration block (a model class) found in a file.
type ClassDecl struct {
	ClassName     string   // Python class name
	QualifiedName string   // entity name from _name (or _inherit for extensions)
	DeclaredIn    string   // file path
	InheritsFrom  []string // qualified names from _inherit
	// SameNameExtension is true when the class re-declares an existing
	// entity under the identical qualified name to extend it in place.
	SameNameExtension bool
	Line              int
}

// FileInventory is the full extraction result for one file.
type FileInventory struct {
	Path    string
	Classes []ClassDecl
	Entries []Entry
}
