package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldmv/internal/records"
)

var (
	decideRecords    string
	decideApprove    []string
	decideReject     []string
	decideAllPending bool
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Approve or reject pending change records",
	Long: `Flip the validation status of change records between detection and
application. Approving a primary does not implicitly approve its dependent
records; each record is decided on its own id.

Examples:
  fieldmv decide --records fieldmv_changes.csv --approve 3f2a... --reject 9c1b...
  fieldmv decide --records fieldmv_changes.csv --all-pending`,
	Run: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideRecords, "records", "", "Path to the change-record table")
	decideCmd.Flags().StringArrayVar(&decideApprove, "approve", nil, "Change id to approve (repeatable)")
	decideCmd.Flags().StringArrayVar(&decideReject, "reject", nil, "Change id to reject (repeatable)")
	decideCmd.Flags().BoolVar(&decideAllPending, "all-pending", false, "Approve every pending record")

	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) {
	if !decideAllPending && len(decideApprove) == 0 && len(decideReject) == 0 {
		fail("nothing to decide: pass --approve, --reject or --all-pending")
	}

	cfg, _, err := loadRun()
	if err != nil {
		fail("%v", err)
	}

	path := recordsPath(cfg, decideRecords)
	store := records.NewStore()
	all, err := store.LoadAll(path)
	if err != nil {
		fail("cannot load change records: %v", err)
	}

	byID := make(map[string]int, len(all))
	for i, r := range all {
		byID[r.ChangeID] = i
	}

	decided := 0
	setStatus := func(id string, status records.ValidationStatus) {
		i, ok := byID[id]
		if !ok {
			fail("unknown change id %s", id)
		}
		if all[i].ValidationStatus != status {
			all[i].ValidationStatus = status
			decided++
		}
	}

	for _, id := range decideApprove {
		setStatus(id, records.StatusApproved)
	}
	for _, id := range decideReject {
		setStatus(id, records.StatusRejected)
	}
	if decideAllPending {
		for i := range all {
			if all[i].ValidationStatus == records.StatusPending {
				all[i].ValidationStatus = records.StatusApproved
				decided++
			}
		}
	}

	if err := store.Save(all, path); err != nil {
		fail("cannot write change records: %v", err)
	}
	fmt.Printf("Updated %d record(s) in %s\n", decided, path)
}
