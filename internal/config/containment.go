package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ContainmentTable maps an entity to the container entities known to embed
// the entity's members inline in their own source and markup files. Member
// declarations of a contained entity (e.g. an order line) frequently live in
// the containing entity's files, so the locator searches those too.
type ContainmentTable struct {
	Containers map[string][]string `yaml:"containment"`
}

// ContainersOf returns the container entities for an entity, or nil.
func (t ContainmentTable) ContainersOf(entity string) []string {
	return t.Containers[entity]
}

// DefaultContainment returns the built-in parent-entity relationship table.
func DefaultContainment() ContainmentTable {
	return ContainmentTable{
		Containers: map[string][]string{
			"sale.order.line":        {"sale.order"},
			"purchase.order.line":    {"purchase.order"},
			"account.move.line":      {"account.move"},
			"stock.move.line":        {"stock.move", "stock.picking"},
			"crm.team.member":        {"crm.team"},
			"project.task.recurrence": {"project.task"},
		},
	}
}

// LoadContainment loads a containment table from a YAML file. An empty path
// returns the built-in defaults.
func LoadContainment(path string) (ContainmentTable, error) {
	if path == "" {
		return DefaultContainment(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ContainmentTable{}, err
	}
	var t ContainmentTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return ContainmentTable{}, err
	}
	if len(t.Containers) == 0 {
		return DefaultContainment(), nil
	}
	return t, nil
}
