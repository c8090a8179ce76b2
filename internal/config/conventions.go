package config

import (
	"strings"

	"github.com/BurntSushi/toml"
)

// RenamePattern is one known naming-convention transformation. Old and New
// are templates sharing a single "*" stem placeholder: a rename matches the
// pattern when the old name matches Old, the new name matches New, and both
// sides capture the same stem.
type RenamePattern struct {
	Old string `toml:"old"`
	New string `toml:"new"`
}

// ConventionTable is the set of recognized rename transformation patterns.
// It is immutable after load; the matching engine receives it by value.
type ConventionTable struct {
	Patterns []RenamePattern `toml:"pattern"`
}

// Matches reports whether the old->new pair fits this pattern.
func (p RenamePattern) Matches(oldName, newName string) bool {
	oldStem, ok := captureStem(p.Old, oldName)
	if !ok {
		return false
	}
	newStem, ok := captureStem(p.New, newName)
	if !ok {
		return false
	}
	return oldStem != "" && oldStem == newStem
}

// MatchesAny reports whether any pattern in the table fits the pair.
func (t ConventionTable) MatchesAny(oldName, newName string) bool {
	for _, p := range t.Patterns {
		if p.Matches(oldName, newName) {
			return true
		}
	}
	return false
}

// captureStem matches name against a template with exactly one "*" and
// returns the captured stem. A template without "*" matches only exactly.
func captureStem(template, name string) (string, bool) {
	i := strings.Index(template, "*")
	if i < 0 {
		if template == name {
			return name, true
		}
		return "", false
	}
	prefix := template[:i]
	suffix := template[i+1:]
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return "", false
	}
	if len(name) < len(prefix)+len(suffix) {
		return "", false
	}
	return name[len(prefix) : len(name)-len(suffix)], true
}

// DefaultConventions returns the built-in rename patterns. These encode the
// transformations observed across historical field renames in the target
// ecosystem (count prefix moves, qty/amount reorderings, boolean suffixes).
func DefaultConventions() ConventionTable {
	return ConventionTable{
		Patterns: []RenamePattern{
			{Old: "*_count", New: "count_*"},
			{Old: "count_*", New: "*_count"},
			{Old: "qty_*", New: "*_qty"},
			{Old: "*_qty", New: "qty_*"},
			{Old: "amount_*", New: "*_amount"},
			{Old: "*_amount", New: "amount_*"},
			{Old: "date_*", New: "*_date"},
			{Old: "*_date", New: "date_*"},
			{Old: "is_*", New: "*_ok"},
			{Old: "*_ok", New: "is_*"},
			{Old: "_compute_*", New: "_compute_*"},
			{Old: "_onchange_*", New: "_onchange_*"},
		},
	}
}

// LoadConventions loads a convention table from a TOML file. An empty path
// returns the built-in defaults.
func LoadConventions(path string) (ConventionTable, error) {
	if path == "" {
		return DefaultConventions(), nil
	}
	var t ConventionTable
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return ConventionTable{}, err
	}
	if len(t.Patterns) == 0 {
		return DefaultConventions(), nil
	}
	return t, nil
}
