package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fieldmv/internal/config"
	"fieldmv/internal/locate"
	"fieldmv/internal/orchestrate"
	"fieldmv/internal/records"
	"fieldmv/internal/rewrite"
)

var (
	applyRecords  string
	applyDryRun   bool
	applyNoBackup bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply approved change records to the source tree",
	Long: `Apply every approved and auto-approved change record to the tree under
--root. Files are rewritten atomically with a .fieldmv.bak backup; a failed
edit rolls the file back and halts its group without stopping other groups.

Examples:
  # See what would change without writing anything
  fieldmv apply --records fieldmv_changes.csv --dry-run

  # Apply for real
  fieldmv apply --records fieldmv_changes.csv`,
	Run: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyRecords, "records", "", "Path to the change-record table")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Report what would change without writing")
	applyCmd.Flags().BoolVar(&applyNoBackup, "no-backup", false, "Skip .fieldmv.bak backups (discouraged)")

	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) {
	cfg, logger, err := loadRun()
	if err != nil {
		fail("%v", err)
	}
	ctx := context.Background()

	path := recordsPath(cfg, applyRecords)
	approved, err := records.NewStore().Load(path)
	if err != nil {
		fail("cannot load change records: %v", err)
	}
	if len(approved) == 0 {
		fmt.Println("No approved change records; nothing to do.")
		return
	}
	groups := records.GroupHierarchically(approved)

	containment, err := config.LoadContainment(cfg.Locator.ContainmentPath)
	if err != nil {
		fail("cannot load containment table: %v", err)
	}
	locator, err := locate.NewLocator(rootFlag, containment, logger)
	if err != nil {
		fail("%v", err)
	}

	backup := cfg.Apply.Backup && !applyNoBackup
	if !backup {
		logger.Warn("backups disabled: failed edits cannot be undone by hand", nil)
	}
	rewriter := rewrite.NewRewriter(rootFlag, backup, logger)

	summary, err := orchestrate.New(locator, rewriter, cfg.Apply.Workers, logger).
		Apply(ctx, groups, applyDryRun)
	if err != nil {
		fail("apply run failed: %v", err)
	}

	printApplySummary(summary, applyDryRun)
	if summary.FilesFailed > 0 || summary.GroupsHalted > 0 {
		os.Exit(1)
	}
}

func printApplySummary(s *orchestrate.Summary, dryRun bool) {
	verb := "changed"
	if dryRun {
		verb = "would change"
	}
	fmt.Printf("Groups: %d processed, %d halted\n", s.GroupsProcessed, s.GroupsHalted)
	fmt.Printf("Files: %d %s, %d already current, %d skipped, %d failed\n",
		s.FilesChanged, verb, s.FilesUnchanged, s.FilesSkipped, s.FilesFailed)

	for _, res := range s.Results {
		if res.Status == rewrite.StatusError {
			fmt.Printf("  FAILED %s: %v\n", res.File, res.Err)
		}
	}
}
