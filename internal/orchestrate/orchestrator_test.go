package orchestrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldmv/internal/config"
	"fieldmv/internal/locate"
	"fieldmv/internal/logging"
	"fieldmv/internal/records"
	"fieldmv/internal/rewrite"
)

func primaryRecord(id, entity, unit, old, new string) records.ChangeRecord {
	return records.ChangeRecord{
		ChangeID: id, OldName: old, NewName: new,
		ItemKind: records.ItemField, Unit: unit, Entity: entity,
		ChangeScope: records.ScopeDeclaration, ImpactKind: records.ImpactPrimary,
		Confidence: 0.95, ValidationStatus: records.StatusAutoApproved,
	}
}

func modelFile(field string) string {
	return `from odoo import fields, models


class Model(models.Model):
    _name = 'placeholder'

    ` + field + ` = fields.Integer()
`
}

func viewFile(field string) string {
	return `<odoo>
    <record id="v" model="ir.ui.view">
        <field name="arch" type="xml">
            <form><field name="` + field + `"/></form>
        </field>
    </record>
</odoo>
`
}

func write(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return full
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newOrchestrator(t *testing.T, root string, workers int) *Orchestrator {
	t.Helper()
	logger := logging.NewDiscardLogger()
	locator, err := locate.NewLocator(root, config.DefaultContainment(), logger)
	if err != nil {
		t.Fatal(err)
	}
	return New(locator, rewrite.NewRewriter(root, false, logger), workers, logger)
}

func TestApplyIndependentGroupsConcurrently(t *testing.T) {
	root := t.TempDir()
	teamPy := write(t, root, "crm/models/crm_team.py", modelFile("quotations_count"))
	leadPy := write(t, root, "crm/models/crm_lead.py", modelFile("probability_score"))
	write(t, root, "crm/views/crm_team_views.xml", viewFile("quotations_count"))
	write(t, root, "crm/views/crm_lead_views.xml", viewFile("probability_score"))

	groups := records.GroupHierarchically([]records.ChangeRecord{
		primaryRecord("g1", "crm.team", "crm", "quotations_count", "count_quotations"),
		primaryRecord("g2", "crm.lead", "crm", "probability_score", "score_probability"),
	})

	summary, err := newOrchestrator(t, root, 4).Apply(context.Background(), groups, false)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if summary.GroupsProcessed != 2 || summary.GroupsHalted != 0 {
		t.Errorf("expected 2 clean groups, got %+v", summary)
	}
	if !strings.Contains(read(t, teamPy), "count_quotations = fields.Integer()") {
		t.Error("first group not applied")
	}
	if !strings.Contains(read(t, leadPy), "score_probability = fields.Integer()") {
		t.Error("second group not applied")
	}
	if summary.FilesChanged != 4 {
		t.Errorf("expected 4 changed files, got %d", summary.FilesChanged)
	}
}

func TestGroupsSharingAFileBothLand(t *testing.T) {
	root := t.TempDir()
	teamPy := write(t, root, "crm/models/crm_team.py", `from odoo import fields, models


class CrmTeam(models.Model):
    _name = 'crm.team'

    alpha_count = fields.Integer()
    beta_count = fields.Integer()
`)

	groups := records.GroupHierarchically([]records.ChangeRecord{
		primaryRecord("g1", "crm.team", "crm", "alpha_count", "count_alpha"),
		primaryRecord("g2", "crm.team", "crm", "beta_count", "count_beta"),
	})

	summary, err := newOrchestrator(t, root, 4).Apply(context.Background(), groups, false)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if summary.GroupsHalted != 0 {
		t.Errorf("no group should halt: %+v", summary)
	}
	after := read(t, teamPy)
	if !strings.Contains(after, "count_alpha = fields.Integer()") ||
		!strings.Contains(after, "count_beta = fields.Integer()") {
		t.Errorf("both renames must land despite the shared file:\n%s", after)
	}
}

func TestSourceFailureHaltsGroupOnly(t *testing.T) {
	root := t.TempDir()
	// Broken python: the declaration edit will not survive re-validation.
	write(t, root, "crm/models/crm_team.py", "quotations_count = fields.Integer(\n")
	teamXML := write(t, root, "crm/views/crm_team_views.xml", viewFile("quotations_count"))
	leadPy := write(t, root, "crm/models/crm_lead.py", modelFile("probability_score"))

	groups := records.GroupHierarchically([]records.ChangeRecord{
		primaryRecord("g1", "crm.team", "crm", "quotations_count", "count_quotations"),
		primaryRecord("g2", "crm.lead", "crm", "probability_score", "score_probability"),
	})

	summary, err := newOrchestrator(t, root, 1).Apply(context.Background(), groups, false)
	if err != nil {
		t.Fatalf("one failing group must not abort the run: %v", err)
	}
	if summary.GroupsHalted != 1 {
		t.Errorf("expected 1 halted group, got %d", summary.GroupsHalted)
	}
	if summary.GroupsProcessed != 2 {
		t.Errorf("expected both groups attempted, got %d", summary.GroupsProcessed)
	}
	// The halted group's markup must stay untouched.
	if !strings.Contains(read(t, teamXML), `name="quotations_count"`) {
		t.Error("markup of a halted group must not be rewritten")
	}
	// The healthy group still lands.
	if !strings.Contains(read(t, leadPy), "score_probability") {
		t.Error("healthy group must still apply")
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	root := t.TempDir()
	teamPy := write(t, root, "crm/models/crm_team.py", modelFile("quotations_count"))

	groups := records.GroupHierarchically([]records.ChangeRecord{
		primaryRecord("g1", "crm.team", "crm", "quotations_count", "count_quotations"),
	})

	summary, err := newOrchestrator(t, root, 2).Apply(context.Background(), groups, true)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if summary.FilesChanged != 1 {
		t.Errorf("dry run still reports would-be changes, got %+v", summary)
	}
	if !strings.Contains(read(t, teamPy), "quotations_count = fields.Integer()") {
		t.Error("dry run must not modify files")
	}
}

func TestPartitionByOverlap(t *testing.T) {
	shared := &locate.FileSet{Source: []string{"crm/models/crm_team.py"}}
	disjoint := &locate.FileSet{Source: []string{"crm/models/crm_lead.py"}}

	waves := partitionByOverlap([]groupJob{
		{id: "a", files: shared},
		{id: "b", files: disjoint},
		{id: "c", files: shared},
	})
	if len(waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(waves))
	}
	if len(waves[0]) != 2 {
		t.Errorf("disjoint groups share a wave, got %d", len(waves[0]))
	}
	if len(waves[1]) != 1 || waves[1][0].id != "c" {
		t.Errorf("conflicting group must wait for the next wave: %+v", waves[1])
	}
}

func TestPartitionKeepsSharedFileOrder(t *testing.T) {
	// b overlaps a on one file and c on another; c must not slip past b
	// into an earlier wave, or it would write its shared file first.
	a := &locate.FileSet{Source: []string{"crm/models/crm_team.py"}}
	b := &locate.FileSet{Source: []string{"crm/models/crm_team.py", "crm/models/crm_lead.py"}}
	c := &locate.FileSet{Source: []string{"crm/models/crm_lead.py"}}

	waves := partitionByOverlap([]groupJob{
		{id: "a", files: a},
		{id: "b", files: b},
		{id: "c", files: c},
	})
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves, got %d", len(waves))
	}
	for i, id := range []string{"a", "b", "c"} {
		if len(waves[i]) != 1 || waves[i][0].id != id {
			t.Fatalf("wave %d must hold %q alone, got %+v", i, id, waves[i])
		}
	}
}
