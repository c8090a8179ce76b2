package locate

import (
	"os"
	"path/filepath"
	"testing"

	"fieldmv/internal/config"
	"fieldmv/internal/logging"
)

// writeTree creates files under root from relative paths.
func writeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("# placeholder\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestLocator(t *testing.T, root string) *Locator {
	t.Helper()
	l, err := NewLocator(root, config.DefaultContainment(), logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("locator init failed: %v", err)
	}
	return l
}

func TestConventionalNamesFound(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"crm/models/crm_team.py",
		"crm/models/crm_lead.py",
		"crm/views/crm_team_views.xml",
		"crm/views/crm_lead_views.xml",
	)

	set, err := newTestLocator(t, root).FilesForEntity("crm", "crm.team")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Source) != 1 || set.Source[0] != "crm/models/crm_team.py" {
		t.Errorf("expected the conventional model file, got %v", set.Source)
	}
	if len(set.Markup) != 1 || set.Markup[0] != "crm/views/crm_team_views.xml" {
		t.Errorf("expected the conventional view file, got %v", set.Markup)
	}
}

func TestPluralVariantFound(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "sale/models/sale_orders.py", "sale/views/placeholder_views.xml")

	set, err := newTestLocator(t, root).FilesForEntity("sale", "sale.order")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Source) != 1 || set.Source[0] != "sale/models/sale_orders.py" {
		t.Errorf("pluralized file name should match, got %v", set.Source)
	}
}

func TestBareLastSegmentFound(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "sale/models/order.py")

	set, err := newTestLocator(t, root).FilesForEntity("sale", "sale.order")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Source) != 1 || set.Source[0] != "sale/models/order.py" {
		t.Errorf("bare last-segment name should match, got %v", set.Source)
	}
}

func TestContainmentParentIncluded(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"sale/models/sale_order.py",
		"sale/models/sale_order_line.py",
	)

	// sale.order.line changes often live in the containing order's file.
	set, err := newTestLocator(t, root).FilesForEntity("sale", "sale.order.line")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"sale/models/sale_order.py":      false,
		"sale/models/sale_order_line.py": false,
	}
	for _, p := range set.Source {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, found := range want {
		if !found {
			t.Errorf("expected %s in candidate set, got %v", p, set.Source)
		}
	}
}

func TestFallbackScansWholeUnit(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"crm/models/teamwork.py",
		"crm/wizard/merge.py",
	)

	// No conventional name matches crm.team, so every .py in the unit is a
	// candidate.
	set, err := newTestLocator(t, root).FilesForEntity("crm", "crm.team")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Source) != 2 {
		t.Errorf("fallback must scan the whole unit, got %v", set.Source)
	}
}

func TestMissingUnitIsEmptyNotError(t *testing.T) {
	root := t.TempDir()
	set, err := newTestLocator(t, root).FilesForEntity("nonexistent", "crm.team")
	if err != nil {
		t.Fatalf("missing unit is a valid empty answer: %v", err)
	}
	if len(set.Source) != 0 || len(set.Markup) != 0 {
		t.Errorf("expected empty set, got %+v", set)
	}
}

func TestInaccessibleRootFails(t *testing.T) {
	if _, err := NewLocator(filepath.Join(t.TempDir(), "missing"), config.DefaultContainment(), logging.NewDiscardLogger()); err == nil {
		t.Fatal("inaccessible root must fail locator construction")
	}
}
