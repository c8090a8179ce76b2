// Package records defines the flat change-record table shared by the
// detector and the renaming pipeline, its delimited-text serialization, and
// the hierarchical grouping used during application.
package records

// ItemKind classifies what was renamed.
type ItemKind string

const (
	// ItemField is a declared attribute
	ItemField ItemKind = "field"
	// ItemMethod is a callable member
	ItemMethod ItemKind = "method"
)

// ChangeScope classifies the syntactic location of one occurrence.
type ChangeScope string

const (
	// ScopeDeclaration is a declaration-level occurrence
	ScopeDeclaration ChangeScope = "declaration"
	// ScopeReference is a non-call use of the name
	ScopeReference ChangeScope = "reference"
	// ScopeCall is an invocation of the name
	ScopeCall ChangeScope = "call"
	// ScopeSuperCall is an explicit parent-method invocation
	ScopeSuperCall ChangeScope = "super_call"
)

// ImpactKind classifies how an occurrence relates to the primary rename.
type ImpactKind string

const (
	// ImpactPrimary is the original declaration-level rename
	ImpactPrimary ImpactKind = "primary"
	// ImpactSelfReference is a self.<name> attribute access in the owning entity
	ImpactSelfReference ImpactKind = "self_reference"
	// ImpactSelfCall is a self.<name>() call in the owning entity
	ImpactSelfCall ImpactKind = "self_call"
	// ImpactCrossEntity is an access through a relation from another entity
	ImpactCrossEntity ImpactKind = "cross_entity"
	// ImpactCrossEntityCall is a call through a relation from another entity
	ImpactCrossEntityCall ImpactKind = "cross_entity_call"
	// ImpactInheritance is a re-declaration inside a same-name extension
	ImpactInheritance ImpactKind = "inheritance"
	// ImpactDecorator is a string argument of a dependency decorator
	ImpactDecorator ImpactKind = "decorator"
)

// ValidationStatus is the human-decision state of a record.
type ValidationStatus string

const (
	// StatusPending awaits an explicit decision
	StatusPending ValidationStatus = "pending"
	// StatusApproved was explicitly approved
	StatusApproved ValidationStatus = "approved"
	// StatusRejected was explicitly rejected
	StatusRejected ValidationStatus = "rejected"
	// StatusAutoApproved passed the confidence threshold at detection time
	StatusAutoApproved ValidationStatus = "auto_approved"
)

// AutoApproveThreshold is the confidence at or above which a record starts
// life auto-approved instead of pending.
const AutoApproveThreshold = 0.90

// ChangeRecord is one unit of rename information: either a primary
// declaration or one referencing occurrence linked to it.
type ChangeRecord struct {
	ChangeID         string
	OldName          string
	NewName          string
	ItemKind         ItemKind
	Unit             string
	Entity           string
	ChangeScope      ChangeScope
	ImpactKind       ImpactKind
	LocatingContext  string // containing method or decorator name; empty for declarations
	Confidence       float64
	ParentChangeID   string // empty for primary records
	ValidationStatus ValidationStatus
}

// IsPrimary reports whether this is the declaration-level rename record.
func (r *ChangeRecord) IsPrimary() bool {
	return r.ImpactKind == ImpactPrimary
}

// Approved reports whether the renaming pipeline may consume the record.
func (r *ChangeRecord) Approved() bool {
	return r.ValidationStatus == StatusApproved || r.ValidationStatus == StatusAutoApproved
}

func validItemKind(k ItemKind) bool {
	return k == ItemField || k == ItemMethod
}

func validScope(s ChangeScope) bool {
	switch s {
	case ScopeDeclaration, ScopeReference, ScopeCall, ScopeSuperCall:
		return true
	}
	return false
}

func validImpact(i ImpactKind) bool {
	switch i {
	case ImpactPrimary, ImpactSelfReference, ImpactSelfCall, ImpactCrossEntity,
		ImpactCrossEntityCall, ImpactInheritance, ImpactDecorator:
		return true
	}
	return false
}

func validStatus(s ValidationStatus) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusAutoApproved:
		return true
	}
	return false
}

// Validate checks required fields, enum validity, and the §3 structural
// invariants that hold record-locally.
func (r *ChangeRecord) Validate() error {
	switch {
	case r.ChangeID == "":
		return fieldError("change_id", "empty")
	case r.OldName == "":
		return fieldError("old_name", "empty")
	case r.NewName == "":
		return fieldError("new_name", "empty")
	case r.Unit == "":
		return fieldError("unit", "empty")
	case r.Entity == "":
		return fieldError("entity", "empty")
	case !validItemKind(r.ItemKind):
		return fieldError("item_kind", string(r.ItemKind))
	case !validScope(r.ChangeScope):
		return fieldError("change_scope", string(r.ChangeScope))
	case !validImpact(r.ImpactKind):
		return fieldError("impact_kind", string(r.ImpactKind))
	case !validStatus(r.ValidationStatus):
		return fieldError("validation_status", string(r.ValidationStatus))
	case r.Confidence < 0 || r.Confidence > 1:
		return fieldError("confidence", "out of range")
	}

	if r.ImpactKind == ImpactPrimary {
		if r.ParentChangeID != "" {
			return fieldError("parent_change_id", "must be empty on primary records")
		}
		if r.ChangeScope != ScopeDeclaration {
			return fieldError("change_scope", "primary records are always declarations")
		}
	} else if r.ParentChangeID == "" {
		return fieldError("parent_change_id", "required on non-primary records")
	}

	return nil
}

type recordFieldError struct {
	field, problem string
}

func (e *recordFieldError) Error() string {
	return "invalid " + e.field + ": " + e.problem
}

func fieldError(field, problem string) error {
	return &recordFieldError{field: field, problem: problem}
}
