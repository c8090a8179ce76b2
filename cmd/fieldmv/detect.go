package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"fieldmv/internal/config"
	"fieldmv/internal/inventory"
	"fieldmv/internal/logging"
	"fieldmv/internal/match"
	"fieldmv/internal/modelgraph"
	"fieldmv/internal/records"
	"fieldmv/internal/storage"
	"fieldmv/internal/vcs"
	"fieldmv/internal/xref"
)

var (
	detectBefore  string
	detectAfter   string
	detectUnits   []string
	detectRecords string
	detectNoCache bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect renames between two snapshots",
	Long: `Compare the model inventories of two revisions and write confidence-scored
change records for every detected rename, including its cross-reference
occurrences.

Examples:
  # Detect renames introduced by the last commit
  fieldmv detect --before HEAD~1 --after HEAD

  # Restrict to specific units and a custom output table
  fieldmv detect --before v1.0 --after v2.0 --unit crm --unit sale --records renames.csv`,
	Run: runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectBefore, "before", "", "Revision of the pre-rename snapshot (required)")
	detectCmd.Flags().StringVar(&detectAfter, "after", "HEAD", "Revision of the post-rename snapshot")
	detectCmd.Flags().StringArrayVar(&detectUnits, "unit", nil, "Restrict detection to a unit (repeatable)")
	detectCmd.Flags().StringVar(&detectRecords, "records", "", "Output path for the change-record table")
	detectCmd.Flags().BoolVar(&detectNoCache, "no-cache", false, "Bypass the snapshot content cache")

	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) {
	if detectBefore == "" {
		fail("--before revision is required")
	}

	cfg, logger, err := loadRun()
	if err != nil {
		fail("%v", err)
	}
	ctx := context.Background()

	cache := openCache(cfg, logger)

	before, err := vcs.NewSnapshot(ctx, rootFlag, detectBefore, cache, logger)
	if err != nil {
		fail("%v", err)
	}
	after, err := vcs.NewSnapshot(ctx, rootFlag, detectAfter, cache, logger)
	if err != nil {
		fail("%v", err)
	}

	units := detectUnits
	if len(units) == 0 {
		units = cfg.Detect.Units
	}
	if len(units) == 0 {
		units, err = discoverUnits(ctx, after)
		if err != nil {
			fail("cannot discover units: %v", err)
		}
	}
	if len(units) == 0 {
		fail("no units found at %s", detectAfter)
	}

	conventions, err := config.LoadConventions(cfg.Matching.ConventionsPath)
	if err != nil {
		fail("cannot load convention table: %v", err)
	}
	engine := match.NewEngine(conventions, cfg.Matching, logger)
	extractor := inventory.NewExtractor()

	var primaries []records.ChangeRecord
	var ambiguities []match.Ambiguity
	var beforeInvs []*inventory.FileInventory
	beforeFiles := make(map[string][]byte)

	for _, unit := range units {
		beforeEntries, invs, contents, err := unitInventory(ctx, before, extractor, unit, logger)
		if err != nil {
			fail("%v", err)
		}
		afterEntries, _, _, err := unitInventory(ctx, after, extractor, unit, logger)
		if err != nil {
			fail("%v", err)
		}

		beforeInvs = append(beforeInvs, invs...)
		for p, c := range contents {
			beforeFiles[p] = c
		}

		recs, ambs := engine.FindRenames(beforeEntries, afterEntries, unit)
		primaries = append(primaries, recs...)
		ambiguities = append(ambiguities, ambs...)
	}

	graph := modelgraph.Build(beforeInvs)
	analyzer := xref.NewAnalyzer(logger)
	impacts, coverage, err := analyzer.FindImpacts(ctx, primaries, graph, beforeFiles)
	if err != nil {
		fail("cross-reference analysis failed: %v", err)
	}

	all := append(primaries, impacts...)
	outPath := recordsPath(cfg, detectRecords)
	if err := records.NewStore().Save(all, outPath); err != nil {
		fail("cannot write change records: %v", err)
	}

	printDetectSummary(all, ambiguities, coverage, graph, outPath)
}

// unitInventory lists, fetches and parses one unit's model sources at a
// snapshot. Unparseable files are logged and skipped.
func unitInventory(ctx context.Context, snap *vcs.Snapshot, extractor *inventory.Extractor, unit string, logger *logging.Logger) ([]inventory.Entry, []*inventory.FileInventory, map[string][]byte, error) {
	paths, err := snap.ListFiles(ctx, unit, ".py")
	if err != nil {
		return nil, nil, nil, err
	}
	contents, err := snap.FetchAll(ctx, paths)
	if err != nil {
		return nil, nil, nil, err
	}

	var entries []inventory.Entry
	var invs []*inventory.FileInventory
	for _, path := range paths {
		content, ok := contents[path]
		if !ok {
			continue
		}
		inv, err := extractor.Extract(ctx, content, path)
		if err != nil {
			logger.Warn("skipping unparseable file", map[string]interface{}{
				"path": path, "rev": snap.Rev(), "error": err.Error(),
			})
			delete(contents, path)
			continue
		}
		invs = append(invs, inv)
		entries = append(entries, inv.Entries...)
	}
	return entries, invs, contents, nil
}

// discoverUnits derives unit names from the snapshot tree: every top-level
// directory that carries a models/ subtree.
func discoverUnits(ctx context.Context, snap *vcs.Snapshot) ([]string, error) {
	paths, err := snap.ListFiles(ctx, "", ".py")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var units []string
	for _, p := range paths {
		parts := strings.SplitN(p, "/", 3)
		if len(parts) >= 3 && parts[1] == "models" && !seen[parts[0]] {
			seen[parts[0]] = true
			units = append(units, parts[0])
		}
	}
	sort.Strings(units)
	return units, nil
}

// openCache wires the sqlite content cache unless disabled; cache failures
// degrade to uncached fetches instead of failing the run.
func openCache(cfg *config.Config, logger *logging.Logger) *storage.ContentCache {
	if !cfg.Cache.Enabled || detectNoCache {
		return nil
	}
	db, err := storage.Open(rootFlag, logger)
	if err != nil {
		logger.Warn("content cache unavailable", map[string]interface{}{"error": err.Error()})
		return nil
	}
	cache, err := storage.NewContentCache(db, cfg.Cache.MaxBlobBytes)
	if err != nil {
		logger.Warn("content cache unavailable", map[string]interface{}{"error": err.Error()})
		db.Close()
		return nil
	}
	return cache
}

func recordsPath(cfg *config.Config, override string) string {
	path := cfg.Records.Path
	if override != "" {
		path = override
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootFlag, path)
	}
	return path
}

func printDetectSummary(all []records.ChangeRecord, ambiguities []match.Ambiguity, coverage *xref.Coverage, graph *modelgraph.Graph, outPath string) {
	var nPrimary, nAuto int
	for _, r := range all {
		if r.IsPrimary() {
			nPrimary++
		}
		if r.ValidationStatus == records.StatusAutoApproved {
			nAuto++
		}
	}

	fmt.Printf("Detected %d rename(s), %d record(s) total (%d auto-approved)\n",
		nPrimary, len(all), nAuto)
	fmt.Printf("Records written to %s\n", outPath)
	fmt.Printf("Scanned %d file(s), skipped %d\n", coverage.FilesScanned, coverage.FilesSkipped)

	if len(ambiguities) > 0 {
		fmt.Printf("\n%d ambiguous match(es) dropped (resolve manually):\n", len(ambiguities))
		for _, a := range ambiguities {
			fmt.Printf("  %s.%s -> one of [%s]\n", a.Entity, a.OldName, strings.Join(a.Candidates, ", "))
		}
	}
	if err := graph.CycleError(); err != nil {
		fmt.Printf("\n%v (resolution failed closed)\n", err)
	}
	fmt.Printf("\nNote: %s\n", coverage.Caveat)
}
