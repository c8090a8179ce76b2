// Package match compares before/after inventories of a unit and proposes
// old->new name pairings. Pairing is driven by structural-signature equality
// since the name is exactly what changed; naming-convention rules and
// parameter overlap disambiguate ties.
package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"fieldmv/internal/config"
	"fieldmv/internal/errors"
	"fieldmv/internal/inventory"
	"fieldmv/internal/logging"
	"fieldmv/internal/records"
)

const (
	// baseSignatureConfidence is granted by signature equality alone.
	baseSignatureConfidence = 0.80
	// conventionBonus is added when the pair also matches a known
	// naming-convention transformation.
	conventionBonus = 0.15
	// uniquenessBonus is added when exactly one candidate carried the
	// signature.
	uniquenessBonus = 0.05
)

// Ambiguity records a vanished member whose candidates could not be
// disambiguated. Nothing is emitted for it; it is surfaced for manual
// follow-up instead of guessing.
type Ambiguity struct {
	Entity     string
	OldName    string
	Kind       inventory.Kind
	Candidates []string
}

// Err returns the ambiguity as a stable-coded error for reporting.
func (a Ambiguity) Err() error {
	return errors.New(errors.AmbiguousMatch,
		fmt.Sprintf("%s.%s has %d equally plausible candidates", a.Entity, a.OldName, len(a.Candidates)), nil)
}

// Engine is the matching engine for one detection run.
type Engine struct {
	conventions config.ConventionTable
	autoApprove float64
	emitFloor   float64
	logger      *logging.Logger
}

// NewEngine creates a matching engine with the given convention table and
// thresholds.
func NewEngine(conventions config.ConventionTable, matching config.MatchingConfig, logger *logging.Logger) *Engine {
	auto := matching.AutoApproveThreshold
	if auto == 0 {
		auto = records.AutoApproveThreshold
	}
	floor := matching.EmitFloor
	if floor == 0 {
		floor = 0.40
	}
	return &Engine{
		conventions: conventions,
		autoApprove: auto,
		emitFloor:   floor,
		logger:      logger,
	}
}

// memberKey identifies a member within a unit's inventory.
type memberKey struct {
	entity string
	kind   inventory.Kind
	name   string
}

// FindRenames compares two inventories of one unit and emits primary change
// records for detected renames, plus the ambiguities it refused to guess on.
func (e *Engine) FindRenames(before, after []inventory.Entry, unit string) ([]records.ChangeRecord, []Ambiguity) {
	afterByKey := make(map[memberKey]inventory.Entry, len(after))
	for _, a := range after {
		afterByKey[memberKey{a.OwningEntity, a.Kind, a.Name}] = a
	}
	beforeByKey := make(map[memberKey]inventory.Entry, len(before))
	for _, b := range before {
		beforeByKey[memberKey{b.OwningEntity, b.Kind, b.Name}] = b
	}

	// appeared: after entries whose name did not exist before, indexed by
	// (entity, kind, signature). Only these are rename candidates; a kept
	// member that happens to share a signature is not a rename target.
	appeared := make(map[string][]inventory.Entry)
	for _, a := range after {
		if _, kept := beforeByKey[memberKey{a.OwningEntity, a.Kind, a.Name}]; kept {
			continue
		}
		k := sigKey(a.OwningEntity, a.Kind, a.Signature)
		appeared[k] = append(appeared[k], a)
	}

	var out []records.ChangeRecord
	var ambiguities []Ambiguity

	for _, b := range before {
		if _, kept := afterByKey[memberKey{b.OwningEntity, b.Kind, b.Name}]; kept {
			continue
		}
		// b vanished. Find appeared entries with the identical signature.
		candidates := appeared[sigKey(b.OwningEntity, b.Kind, b.Signature)]
		if len(candidates) == 0 {
			// Deleted, not renamed. Not an error.
			continue
		}

		chosen, unique, ok := e.disambiguate(b, candidates)
		if !ok {
			names := make([]string, 0, len(candidates))
			for _, c := range candidates {
				names = append(names, c.Name)
			}
			sort.Strings(names)
			amb := Ambiguity{Entity: b.OwningEntity, OldName: b.Name, Kind: b.Kind, Candidates: names}
			ambiguities = append(ambiguities, amb)
			e.logger.Warn("ambiguous structural match dropped", map[string]interface{}{
				"entity":     b.OwningEntity,
				"old_name":   b.Name,
				"candidates": strings.Join(names, ","),
				"error":      amb.Err().Error(),
			})
			continue
		}

		confidence := baseSignatureConfidence
		if e.conventions.MatchesAny(b.Name, chosen.Name) {
			confidence += conventionBonus
		}
		if unique {
			confidence += uniquenessBonus
		}
		if confidence > 1.0 {
			confidence = 1.0
		}
		if confidence < e.emitFloor {
			continue
		}

		status := records.StatusPending
		if confidence >= e.autoApprove {
			status = records.StatusAutoApproved
		}

		out = append(out, records.ChangeRecord{
			ChangeID:         uuid.NewString(),
			OldName:          b.Name,
			NewName:          chosen.Name,
			ItemKind:         itemKind(b.Kind),
			Unit:             unit,
			Entity:           b.OwningEntity,
			ChangeScope:      records.ScopeDeclaration,
			ImpactKind:       records.ImpactPrimary,
			Confidence:       confidence,
			ValidationStatus: status,
		})
	}

	// Stable output order regardless of map iteration.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].OldName < out[j].OldName
	})
	sort.Slice(ambiguities, func(i, j int) bool {
		if ambiguities[i].Entity != ambiguities[j].Entity {
			return ambiguities[i].Entity < ambiguities[j].Entity
		}
		return ambiguities[i].OldName < ambiguities[j].OldName
	})

	return out, ambiguities
}

// disambiguate picks one candidate for a vanished entry. The second return
// reports whether the signature match was unique before disambiguation; the
// third is false when no defensible single choice exists.
func (e *Engine) disambiguate(old inventory.Entry, candidates []inventory.Entry) (inventory.Entry, bool, bool) {
	if len(candidates) == 1 {
		return candidates[0], true, true
	}

	// Convention rules first: prefer a candidate whose new name is a
	// recognized transformation of the old name.
	var conventional []inventory.Entry
	for _, c := range candidates {
		if e.conventions.MatchesAny(old.Name, c.Name) {
			conventional = append(conventional, c)
		}
	}
	if len(conventional) == 1 {
		return conventional[0], false, true
	}
	if len(conventional) > 1 {
		candidates = conventional
	}

	// Then name-token overlap: signatures are identical across candidates
	// by construction, so the name fragments are the remaining signal.
	best, bestScore, tied := candidates[0], -1, false
	for _, c := range candidates {
		score := tokenOverlap(old.Name, c.Name)
		switch {
		case score > bestScore:
			best, bestScore, tied = c, score, false
		case score == bestScore:
			tied = true
		}
	}
	if tied {
		// Never guess between equally-plausible candidates.
		return inventory.Entry{}, false, false
	}
	return best, false, true
}

// tokenOverlap counts shared underscore-separated tokens between two names.
func tokenOverlap(a, b string) int {
	set := make(map[string]bool)
	for _, t := range strings.Split(a, "_") {
		if t != "" {
			set[t] = true
		}
	}
	n := 0
	for _, t := range strings.Split(b, "_") {
		if set[t] {
			n++
			set[t] = false
		}
	}
	return n
}

func sigKey(entity string, kind inventory.Kind, sig string) string {
	return entity + "\x00" + string(kind) + "\x00" + sig
}

func itemKind(k inventory.Kind) records.ItemKind {
	if k == inventory.KindMethod {
		return records.ItemMethod
	}
	return records.ItemField
}
