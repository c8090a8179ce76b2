// Package locate maps an entity to the files likely to declare or reference
// it: conventionally named model and view files first, containment-table
// parents next, and a recursive unit scan as the fallback. An empty result
// is a valid answer, not an error.
package locate

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"fieldmv/internal/config"
	"fieldmv/internal/errors"
	"fieldmv/internal/logging"
	"fieldmv/internal/records"
)

// FileSet is the locator's answer for one entity, partitioned by how the
// rewriter must treat each file. Paths are root-relative with forward
// slashes.
type FileSet struct {
	Source []string
	Markup []string
}

// merge unions another set into this one.
func (s *FileSet) merge(other *FileSet) {
	s.Source = appendNew(s.Source, other.Source)
	s.Markup = appendNew(s.Markup, other.Markup)
}

// Locator resolves entities to candidate files under one source root.
type Locator struct {
	root        string
	containment config.ContainmentTable
	logger      *logging.Logger
}

// NewLocator creates a locator over root. The root must exist; everything
// below it is allowed to be missing.
func NewLocator(root string, containment config.ContainmentTable, logger *logging.Logger) (*Locator, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.SourceRootInaccessible, "source root not accessible: "+root, err)
	}
	return &Locator{root: root, containment: containment, logger: logger}, nil
}

// FilesForGroup locates candidate files for every unit a change group
// touches, primary unit first.
func (l *Locator) FilesForGroup(g *records.ChangeGroup) (*FileSet, error) {
	out := &FileSet{}
	for _, unit := range g.Units() {
		set, err := l.FilesForEntity(unit, g.Primary.Entity)
		if err != nil {
			return nil, err
		}
		out.merge(set)
	}
	return out, nil
}

// FilesForEntity locates candidate files for one entity inside one unit.
// Conventional names win; when none exist the whole unit is scanned.
func (l *Locator) FilesForEntity(unit, entity string) (*FileSet, error) {
	unitDir := filepath.Join(l.root, unit)
	if info, err := os.Stat(unitDir); err != nil || !info.IsDir() {
		l.logger.Warn("unit directory missing", map[string]interface{}{"unit": unit})
		return &FileSet{}, nil
	}

	stems := l.candidateStems(entity)

	source := matchDir(filepath.Join(unitDir, "models"), unit+"/models", sourceNames(stems))
	if len(source) == 0 {
		source = scanUnit(unitDir, unit, ".py")
	}

	markup := matchDir(filepath.Join(unitDir, "views"), unit+"/views", markupNames(stems))
	if len(markup) == 0 {
		markup = scanUnit(unitDir, unit, ".xml")
	}

	sort.Strings(source)
	sort.Strings(markup)
	return &FileSet{Source: source, Markup: markup}, nil
}

// candidateStems derives conventional file-name stems for an entity:
// the underscored entity name, its plural/singular last-token variants, and
// the same for every containment parent.
func (l *Locator) candidateStems(entity string) []string {
	var stems []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			stems = append(stems, s)
		}
	}

	for _, e := range append([]string{entity}, l.containment.ContainersOf(entity)...) {
		base := strings.ReplaceAll(e, ".", "_")
		add(base)

		tokens := strings.Split(base, "_")
		last := tokens[len(tokens)-1]
		for _, variant := range []string{inflection.Plural(last), inflection.Singular(last)} {
			if variant != last {
				prefix := tokens[:len(tokens)-1:len(tokens)-1]
				add(strings.Join(append(prefix, variant), "_"))
			}
		}

		// The bare last segment and its number variants: sale.order often
		// lives in order.py or orders.py.
		add(last)
		add(inflection.Plural(last))
		add(inflection.Singular(last))
	}
	return stems
}

func sourceNames(stems []string) map[string]bool {
	names := make(map[string]bool, len(stems))
	for _, s := range stems {
		names[s+".py"] = true
	}
	return names
}

func markupNames(stems []string) map[string]bool {
	names := make(map[string]bool, 3*len(stems))
	for _, s := range stems {
		names[s+"_views.xml"] = true
		names[s+"_view.xml"] = true
		names[s+".xml"] = true
	}
	return names
}

// matchDir returns the root-relative paths of directory entries whose name
// is in wanted. A missing directory yields nothing.
func matchDir(dir, relDir string, wanted map[string]bool) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && wanted[e.Name()] {
			out = append(out, relDir+"/"+e.Name())
		}
	}
	return out
}

// scanUnit walks the whole unit directory for files with the extension.
// This is the fallback when conventional names match nothing.
func scanUnit(unitDir, unit, ext string) []string {
	var out []string
	filepath.WalkDir(unitDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(d.Name()) != ext {
			return nil
		}
		rel, relErr := filepath.Rel(unitDir, path)
		if relErr != nil {
			return nil
		}
		out = append(out, unit+"/"+filepath.ToSlash(rel))
		return nil
	})
	return out
}

func appendNew(list, add []string) []string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	for _, v := range add {
		if !seen[v] {
			seen[v] = true
			list = append(list, v)
		}
	}
	return list
}
