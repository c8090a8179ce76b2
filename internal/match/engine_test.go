package match

import (
	"testing"

	"fieldmv/internal/config"
	"fieldmv/internal/errors"
	"fieldmv/internal/inventory"
	"fieldmv/internal/logging"
	"fieldmv/internal/records"
)

func newTestEngine() *Engine {
	return NewEngine(config.DefaultConventions(), config.MatchingConfig{}, logging.NewDiscardLogger())
}

func entry(entity, name string, kind inventory.Kind, sig string) inventory.Entry {
	return inventory.Entry{Name: name, Kind: kind, OwningEntity: entity, Signature: sig}
}

func TestSimpleRenameDetected(t *testing.T) {
	before := []inventory.Entry{
		entry("crm.team", "quotations_count", inventory.KindField, "fields.Integer()"),
		entry("crm.team", "name", inventory.KindField, "fields.Char(required=True)"),
	}
	after := []inventory.Entry{
		entry("crm.team", "count_quotations", inventory.KindField, "fields.Integer()"),
		entry("crm.team", "name", inventory.KindField, "fields.Char(required=True)"),
	}

	recs, ambs := newTestEngine().FindRenames(before, after, "crm")
	if len(ambs) != 0 {
		t.Fatalf("unexpected ambiguities: %+v", ambs)
	}
	if len(recs) != 1 {
		t.Fatalf("expected exactly one primary record, got %d", len(recs))
	}
	r := recs[0]
	if r.OldName != "quotations_count" || r.NewName != "count_quotations" {
		t.Errorf("wrong pairing: %s -> %s", r.OldName, r.NewName)
	}
	if r.Confidence < 0.80 {
		t.Errorf("signature equality grants at least 0.80, got %v", r.Confidence)
	}
	if r.ImpactKind != records.ImpactPrimary || r.ChangeScope != records.ScopeDeclaration {
		t.Errorf("primary record has wrong shape: %+v", r)
	}
	if r.ParentChangeID != "" {
		t.Error("primary records carry no parent id")
	}
	// quotations_count -> count_quotations matches the *_count/count_*
	// convention, so the record should auto-approve.
	if r.ValidationStatus != records.StatusAutoApproved {
		t.Errorf("conventional rename should auto-approve, got %s (conf %v)", r.ValidationStatus, r.Confidence)
	}
}

func TestDeletedMemberEmitsNothing(t *testing.T) {
	before := []inventory.Entry{
		entry("crm.team", "legacy_flag", inventory.KindField, "fields.Boolean()"),
	}
	after := []inventory.Entry{}

	recs, ambs := newTestEngine().FindRenames(before, after, "crm")
	if len(recs) != 0 || len(ambs) != 0 {
		t.Errorf("deletion is not a rename: recs=%d ambs=%d", len(recs), len(ambs))
	}
}

func TestKeptMemberIsNotACandidate(t *testing.T) {
	// other_count exists in both snapshots; it must not be paired with the
	// vanished quotations_count despite the identical signature.
	before := []inventory.Entry{
		entry("crm.team", "quotations_count", inventory.KindField, "fields.Integer()"),
		entry("crm.team", "other_count", inventory.KindField, "fields.Integer()"),
	}
	after := []inventory.Entry{
		entry("crm.team", "other_count", inventory.KindField, "fields.Integer()"),
	}

	recs, _ := newTestEngine().FindRenames(before, after, "crm")
	if len(recs) != 0 {
		t.Errorf("kept member must not absorb a vanished one: %+v", recs)
	}
}

func TestConventionDisambiguatesTie(t *testing.T) {
	before := []inventory.Entry{
		entry("crm.team", "quotations_count", inventory.KindField, "fields.Integer()"),
	}
	after := []inventory.Entry{
		entry("crm.team", "count_quotations", inventory.KindField, "fields.Integer()"),
		entry("crm.team", "unrelated_thing", inventory.KindField, "fields.Integer()"),
	}

	recs, ambs := newTestEngine().FindRenames(before, after, "crm")
	if len(ambs) != 0 {
		t.Fatalf("convention should have resolved the tie: %+v", ambs)
	}
	if len(recs) != 1 || recs[0].NewName != "count_quotations" {
		t.Fatalf("expected convention pick, got %+v", recs)
	}
}

func TestUnresolvableTieDropped(t *testing.T) {
	before := []inventory.Entry{
		entry("crm.team", "alpha", inventory.KindField, "fields.Integer()"),
	}
	after := []inventory.Entry{
		entry("crm.team", "beta", inventory.KindField, "fields.Integer()"),
		entry("crm.team", "gamma", inventory.KindField, "fields.Integer()"),
	}

	recs, ambs := newTestEngine().FindRenames(before, after, "crm")
	if len(recs) != 0 {
		t.Errorf("unresolvable tie must emit nothing, got %+v", recs)
	}
	if len(ambs) != 1 {
		t.Fatalf("ambiguity must be recorded for follow-up, got %d", len(ambs))
	}
	if len(ambs[0].Candidates) != 2 {
		t.Errorf("ambiguity must list all candidates: %+v", ambs[0])
	}
}

func TestNeverTwoConflictingPrimaries(t *testing.T) {
	before := []inventory.Entry{
		entry("crm.team", "alpha_count", inventory.KindField, "fields.Integer()"),
	}
	after := []inventory.Entry{
		entry("crm.team", "count_alpha", inventory.KindField, "fields.Integer()"),
		entry("crm.team", "count_other", inventory.KindField, "fields.Integer()"),
	}

	recs, _ := newTestEngine().FindRenames(before, after, "crm")
	if len(recs) > 1 {
		t.Fatalf("at most one primary per vanished name, got %d", len(recs))
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	before := []inventory.Entry{
		entry("crm.team", "helper", inventory.KindMethod, "def(self)"),
	}
	after := []inventory.Entry{
		entry("crm.team", "helper2", inventory.KindField, "def(self)"),
	}

	recs, _ := newTestEngine().FindRenames(before, after, "crm")
	if len(recs) != 0 {
		t.Errorf("a field must never match a method: %+v", recs)
	}
}

func TestEntitiesDoNotCrossMatch(t *testing.T) {
	before := []inventory.Entry{
		entry("crm.team", "x_count", inventory.KindField, "fields.Integer()"),
	}
	after := []inventory.Entry{
		entry("crm.lead", "count_x", inventory.KindField, "fields.Integer()"),
	}

	recs, _ := newTestEngine().FindRenames(before, after, "crm")
	if len(recs) != 0 {
		t.Errorf("renames never cross entity boundaries: %+v", recs)
	}
}

func TestAmbiguityCarriesStableCode(t *testing.T) {
	amb := Ambiguity{
		Entity: "crm.team", OldName: "quotations_count",
		Kind: inventory.KindField, Candidates: []string{"count_a", "count_b"},
	}
	if err := amb.Err(); !errors.Is(err, errors.AmbiguousMatch) {
		t.Errorf("expected AmbiguousMatch code, got %v", err)
	}
}
