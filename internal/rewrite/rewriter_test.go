package rewrite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fieldmv/internal/errors"
	"fieldmv/internal/logging"
	"fieldmv/internal/records"
)

const teamModelBefore = `from odoo import api, fields, models


class CrmTeam(models.Model):
    _name = 'crm.team'

    quotations_count = fields.Integer(string='Quotations')

    @api.depends('quotations_count')
    def _compute_count(self):
        for team in self:
            team.total = self.quotations_count

    def action_open(self):
        quotations_count = 1
        return self.quotations_count + quotations_count
`

const teamViewBefore = `<?xml version="1.0" encoding="utf-8"?>
<odoo>
    <record id="crm_team_view_form" model="ir.ui.view">
        <field name="model">crm.team</field>
        <field name="arch" type="xml">
            <form>
                <field name="quotations_count"/>
            </form>
        </field>
    </record>
</odoo>
`

func testGroup() *records.ChangeGroup {
	recs := []records.ChangeRecord{
		{
			ChangeID: "c1", OldName: "quotations_count", NewName: "count_quotations",
			ItemKind: records.ItemField, Unit: "crm", Entity: "crm.team",
			ChangeScope: records.ScopeDeclaration, ImpactKind: records.ImpactPrimary,
			Confidence: 0.95, ValidationStatus: records.StatusAutoApproved,
		},
		{
			ChangeID: "c2", OldName: "quotations_count", NewName: "count_quotations",
			ItemKind: records.ItemField, Unit: "crm", Entity: "crm.team",
			ChangeScope: records.ScopeReference, ImpactKind: records.ImpactDecorator,
			LocatingContext: "_compute_count", Confidence: 0.855,
			ParentChangeID: "c1", ValidationStatus: records.StatusApproved,
		},
		{
			ChangeID: "c3", OldName: "quotations_count", NewName: "count_quotations",
			ItemKind: records.ItemField, Unit: "crm", Entity: "crm.team",
			ChangeScope: records.ScopeReference, ImpactKind: records.ImpactSelfReference,
			LocatingContext: "action_open", Confidence: 0.855,
			ParentChangeID: "c1", ValidationStatus: records.StatusPending,
		},
	}
	return records.GroupHierarchically(recs)["c1"]
}

func writeFile(t *testing.T, root, rel, content string) string {
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

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestApplyDeclarationAndApprovedReferences(t *testing.T) {
	root := t.TempDir()
	full := writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)

	r := NewRewriter(root, true, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, testGroup(), false)
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}

	after := readFile(t, full)
	if !strings.Contains(after, "count_quotations = fields.Integer") {
		t.Error("declaration not renamed")
	}
	if !strings.Contains(after, "@api.depends('count_quotations')") {
		t.Error("decorator argument not renamed")
	}
	if !strings.Contains(after, "team.total = self.count_quotations") {
		t.Error("self reference inside located method not renamed")
	}
	// c3 is pending, so action_open must keep the old name.
	if !strings.Contains(after, "return self.quotations_count + quotations_count") {
		t.Error("pending record must not be applied")
	}
	// Local variables sharing the name are never touched.
	if !strings.Contains(after, "quotations_count = 1") {
		t.Error("local variable must survive contextual edits")
	}
}

func TestBackupHoldsOriginalBytes(t *testing.T) {
	root := t.TempDir()
	full := writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)

	r := NewRewriter(root, true, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, testGroup(), false)
	if res.BackupPath == "" {
		t.Fatal("backup path missing from result")
	}
	if readFile(t, res.BackupPath) != teamModelBefore {
		t.Error("backup must hold the pre-edit bytes")
	}
	if readFile(t, full) == teamModelBefore {
		t.Error("original must have been rewritten")
	}
}

func TestNoBackupWhenDisabled(t *testing.T) {
	root := t.TempDir()
	full := writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)

	r := NewRewriter(root, false, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, testGroup(), false)
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if _, err := os.Stat(full + BackupSuffix); !os.IsNotExist(err) {
		t.Error("backup must not exist when disabled")
	}
}

func TestRerunReportsNoChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)

	r := NewRewriter(root, false, logging.NewDiscardLogger())
	group := testGroup()
	first := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, group, false)
	if first.Status != StatusSuccess {
		t.Fatalf("first run: %s (%v)", first.Status, first.Err)
	}
	second := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, group, false)
	if second.Status != StatusNoChanges {
		t.Errorf("second run must be a no-op, got %s", second.Status)
	}
}

func TestDryRunLeavesDiskUntouched(t *testing.T) {
	root := t.TempDir()
	full := writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)

	r := NewRewriter(root, true, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, testGroup(), true)
	if res.Status != StatusSuccess {
		t.Fatalf("dry run still reports what would happen, got %s", res.Status)
	}
	if len(res.Applied) == 0 {
		t.Error("dry run must report the records it would apply")
	}
	if readFile(t, full) != teamModelBefore {
		t.Error("dry run must not modify the file")
	}
	if _, err := os.Stat(full + BackupSuffix); !os.IsNotExist(err) {
		t.Error("dry run must not create backups")
	}
}

func TestMarkupFieldRenamed(t *testing.T) {
	root := t.TempDir()
	full := writeFile(t, root, "crm/views/crm_team_views.xml", teamViewBefore)

	r := NewRewriter(root, false, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/views/crm_team_views.xml", records.MarkupFile, testGroup(), false)
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}
	after := readFile(t, full)
	if !strings.Contains(after, `<field name="count_quotations"/>`) {
		t.Error("view field reference not renamed")
	}
	if strings.Contains(after, "quotations_count") {
		t.Error("old name must be gone from the view")
	}
}

func TestBrokenMarkupRollsBack(t *testing.T) {
	broken := `<odoo><field name="quotations_count"></odoo>`
	root := t.TempDir()
	full := writeFile(t, root, "crm/views/broken.xml", broken)

	r := NewRewriter(root, true, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/views/broken.xml", records.MarkupFile, testGroup(), false)
	if res.Status != StatusError {
		t.Fatalf("malformed result must fail the file, got %s", res.Status)
	}
	if !res.RolledBack {
		t.Error("result must report the rollback")
	}
	if readFile(t, full) != broken {
		t.Error("failed edit must leave the file byte-identical")
	}
	// The backup is secured before the first edit, so it exists even for a
	// rolled-back file and holds the untouched bytes.
	if readFile(t, full+BackupSuffix) != broken {
		t.Error("rolled-back file must still carry its pre-edit backup")
	}
}

func TestBackupSecuredEvenWithoutChanges(t *testing.T) {
	root := t.TempDir()
	full := writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)

	r := NewRewriter(root, true, logging.NewDiscardLogger())
	group := testGroup()
	if res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, group, false); res.Status != StatusSuccess {
		t.Fatalf("first run: %s (%v)", res.Status, res.Err)
	}

	renamed := readFile(t, full)
	second := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, group, false)
	if second.Status != StatusNoChanges {
		t.Fatalf("second run must be a no-op, got %s", second.Status)
	}
	if second.BackupPath == "" {
		t.Fatal("backup must be taken before edits, not only when the file changes")
	}
	if readFile(t, second.BackupPath) != renamed {
		t.Error("backup must hold the bytes the run started from")
	}
}

func TestUnsecurableBackupBlocksEdit(t *testing.T) {
	root := t.TempDir()
	full := writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)
	// A directory squatting on the backup path makes the backup unwritable.
	if err := os.Mkdir(full+BackupSuffix, 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewRewriter(root, true, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, testGroup(), false)
	if res.Status != StatusError {
		t.Fatalf("a file that cannot be secured must not be edited, got %s", res.Status)
	}
	if !errors.Is(res.Err, errors.RollbackFailed) {
		t.Errorf("expected RollbackFailed code, got %v", res.Err)
	}
	if readFile(t, full) != teamModelBefore {
		t.Error("file must stay untouched without a verified backup")
	}
}

func TestForeignUnitDeclarationPreserved(t *testing.T) {
	// sale.order carries its own field named like the crm.team one being
	// renamed. The group touches the sale unit only through a cross-entity
	// reference, so sale.order's declaration must survive.
	saleOrder := `from odoo import api, fields, models


class SaleOrder(models.Model):
    _name = 'sale.order'

    quotations_count = fields.Integer()
    team_id = fields.Many2one('crm.team')

    def _check_team(self):
        return self.team_id.quotations_count
`
	group := records.GroupHierarchically([]records.ChangeRecord{
		{
			ChangeID: "c1", OldName: "quotations_count", NewName: "count_quotations",
			ItemKind: records.ItemField, Unit: "crm", Entity: "crm.team",
			ChangeScope: records.ScopeDeclaration, ImpactKind: records.ImpactPrimary,
			Confidence: 0.95, ValidationStatus: records.StatusAutoApproved,
		},
		{
			ChangeID: "c2", OldName: "quotations_count", NewName: "count_quotations",
			ItemKind: records.ItemField, Unit: "sale", Entity: "crm.team",
			ChangeScope: records.ScopeReference, ImpactKind: records.ImpactCrossEntity,
			LocatingContext: "_check_team", Confidence: 0.807,
			ParentChangeID: "c1", ValidationStatus: records.StatusApproved,
		},
	})["c1"]

	root := t.TempDir()
	full := writeFile(t, root, "sale/models/sale_order.py", saleOrder)

	r := NewRewriter(root, false, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "sale/models/sale_order.py", records.SourceFile, group, false)
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}

	after := readFile(t, full)
	if !strings.Contains(after, "quotations_count = fields.Integer()") {
		t.Error("sale.order's own declaration must never be renamed by a crm primary")
	}
	if !strings.Contains(after, "return self.team_id.count_quotations") {
		t.Error("cross-entity reference in the sale unit must be renamed")
	}
}

func TestConcurrentFilesRewriteIndependently(t *testing.T) {
	root := t.TempDir()
	const n = 8
	paths := make([]string, n)
	for i := range paths {
		paths[i] = "crm/models/team_" + string(rune('a'+i)) + ".py"
		writeFile(t, root, paths[i], teamModelBefore)
	}

	r := NewRewriter(root, false, logging.NewDiscardLogger())
	groups := make([]*records.ChangeGroup, n)
	for i := range groups {
		groups[i] = testGroup()
	}

	var wg sync.WaitGroup
	results := make([]ProcessResult, n)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.ProcessFile(context.Background(), paths[i], records.SourceFile, groups[i], false)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res.Status != StatusSuccess {
			t.Errorf("file %d: expected success, got %s (%v)", i, res.Status, res.Err)
		}
	}
}

func TestPathSegmentsRewrittenWholeOnly(t *testing.T) {
	source := `from odoo import fields, models


class CrmTeam(models.Model):
    _name = 'crm.team'

    quotations_count = fields.Integer()
    sub = fields.Char(related='quotations_count.sub_field')
    total = fields.Integer(related='quotations_count_total.sub_field')
`
	group := records.GroupHierarchically([]records.ChangeRecord{
		{
			ChangeID: "c1", OldName: "quotations_count", NewName: "count_quotations",
			ItemKind: records.ItemField, Unit: "crm", Entity: "crm.team",
			ChangeScope: records.ScopeDeclaration, ImpactKind: records.ImpactPrimary,
			Confidence: 0.95, ValidationStatus: records.StatusAutoApproved,
		},
		{
			ChangeID: "c2", OldName: "quotations_count", NewName: "count_quotations",
			ItemKind: records.ItemField, Unit: "crm", Entity: "crm.team",
			ChangeScope: records.ScopeReference, ImpactKind: records.ImpactSelfReference,
			LocatingContext: "related", Confidence: 0.855,
			ParentChangeID: "c1", ValidationStatus: records.StatusApproved,
		},
	})["c1"]

	root := t.TempDir()
	full := writeFile(t, root, "crm/models/crm_team.py", source)

	r := NewRewriter(root, false, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, group, false)
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}

	after := readFile(t, full)
	if !strings.Contains(after, "related='count_quotations.sub_field'") {
		t.Error("whole first segment must be rewritten")
	}
	if !strings.Contains(after, "related='quotations_count_total.sub_field'") {
		t.Error("longer identifiers sharing the prefix must never be rewritten")
	}
}

func TestSkippedWithoutApplicableRecords(t *testing.T) {
	methodOnly := records.GroupHierarchically([]records.ChangeRecord{{
		ChangeID: "m1", OldName: "_compute_count", NewName: "_compute_quotations",
		ItemKind: records.ItemMethod, Unit: "crm", Entity: "crm.team",
		ChangeScope: records.ScopeDeclaration, ImpactKind: records.ImpactPrimary,
		Confidence: 0.95, ValidationStatus: records.StatusAutoApproved,
	}})["m1"]

	root := t.TempDir()
	writeFile(t, root, "crm/views/crm_team_views.xml", teamViewBefore)

	r := NewRewriter(root, false, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/views/crm_team_views.xml", records.MarkupFile, methodOnly, false)
	if res.Status != StatusSkipped {
		t.Errorf("method records never apply to markup, got %s", res.Status)
	}
}

func TestAppliedLogRecordsWrites(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "crm/models/crm_team.py", teamModelBefore)

	group := testGroup()
	r := NewRewriter(root, false, logging.NewDiscardLogger())
	res := r.ProcessFile(context.Background(), "crm/models/crm_team.py", records.SourceFile, group, false)
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", res.Status)
	}
	if len(group.Applied()) != len(res.Applied) {
		t.Errorf("group applied log out of sync: %d vs %d", len(group.Applied()), len(res.Applied))
	}
}
