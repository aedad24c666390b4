package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/apiwatch/apiwatch/pkg/canonical"
	"github.com/apiwatch/apiwatch/pkg/classify"
	"github.com/apiwatch/apiwatch/pkg/diff"
)

// compareCmd diffs two stored snapshots on demand without persisting the
// result.
var compareCmd = &cobra.Command{
	Use:   "compare <from-snapshot-id> <to-snapshot-id>",
	Short: "Diff two stored snapshots on demand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad snapshot id: %s", args[0])
		}
		toID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad snapshot id: %s", args[1])
		}

		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		from, err := db.GetSnapshot(cmd.Context(), fromID)
		if err != nil {
			return err
		}
		to, err := db.GetSnapshot(cmd.Context(), toID)
		if err != nil {
			return err
		}
		if from.TargetID != to.TargetID {
			return fmt.Errorf("snapshots %d and %d belong to different targets", fromID, toID)
		}

		fromDoc, err := canonical.Parse([]byte(from.Doc))
		if err != nil {
			return err
		}
		toDoc, err := canonical.Parse([]byte(to.Doc))
		if err != nil {
			return err
		}

		records := classify.ClassifyAll(diff.Diff(fromDoc.Root, toDoc.Root))
		if len(records) == 0 {
			fmt.Println("no structural differences")
			return nil
		}
		severity, breaking := classify.Aggregate(records)
		fmt.Printf("%d change(s), severity %s, breaking=%t\n", len(records), severity, breaking)
		for _, rec := range records {
			printRecord(rec)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}
