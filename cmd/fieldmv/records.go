package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldmv/internal/records"
)

var (
	recordsFile   string
	recordsStatus string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List the change-record table grouped by primary",
	Run:   runRecords,
}

func init() {
	recordsCmd.Flags().StringVar(&recordsFile, "records", "", "Path to the change-record table")
	recordsCmd.Flags().StringVar(&recordsStatus, "status", "", "Only show records with this validation status")

	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) {
	cfg, _, err := loadRun()
	if err != nil {
		fail("%v", err)
	}

	path := recordsPath(cfg, recordsFile)
	all, err := records.NewStore().LoadAll(path)
	if err != nil {
		fail("cannot load change records: %v", err)
	}

	if recordsStatus != "" {
		var filtered []records.ChangeRecord
		for _, r := range all {
			if string(r.ValidationStatus) == recordsStatus {
				filtered = append(filtered, r)
			}
		}
		all = filtered
	}
	if len(all) == 0 {
		fmt.Println("No matching change records.")
		return
	}

	groups := records.GroupHierarchically(all)
	for _, id := range records.SortedGroupIDs(groups) {
		g := groups[id]
		p := g.Primary
		marker := ""
		if g.Orphaned {
			marker = " (orphaned)"
		}
		fmt.Printf("%s %s/%s: %s -> %s  [%.3f %s]%s\n",
			p.ChangeID, p.Unit, p.Entity, p.OldName, p.NewName,
			p.Confidence, p.ValidationStatus, marker)

		for _, r := range append(g.ExtensionDeclarations, g.References...) {
			ctx := r.LocatingContext
			if ctx == "" {
				ctx = "-"
			}
			fmt.Printf("  %s %s/%s %s@%s  [%.3f %s]\n",
				r.ChangeID, r.Unit, r.ImpactKind, r.ChangeScope, ctx,
				r.Confidence, r.ValidationStatus)
		}
	}
}
