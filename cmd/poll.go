package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apiwatch/apiwatch/pkg/polling"
)

// pollCmd implements: apiwatch poll
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one fetch-diff-classify-notify cycle for every active target",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'apiwatch poll --help'", args[0])
		}

		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		runner := newRunner(db, nil, printCycleResult)

		targetURL, _ := cmd.Flags().GetString("target")
		ctx := cmd.Context()
		if targetURL != "" {
			target, err := db.GetTargetByURL(ctx, targetURL)
			if err != nil {
				return err
			}
			res, err := runner.Cycle(ctx, target)
			if err != nil {
				return err
			}
			printCycleResult(res)
			return nil
		}

		_, err = runner.PollAll(ctx)
		return err
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().String("target", "", "Poll a single target by URL instead of all active targets")
}

func printCycleResult(res polling.CycleResult) {
	switch {
	case res.Skipped:
		fmt.Printf("~  %s  cycle already in flight, skipped\n", res.Target.Name)
	case res.Entry != nil:
		e := res.Entry
		marker := " "
		if e.Breaking {
			marker = "!"
		}
		fmt.Printf("%s  %s  %s  %d change(s)  [%s]\n", marker, res.Target.Name, e.ID, len(e.Records), e.SeverityName)
		for _, rec := range e.Records {
			printRecord(rec)
		}
	case !res.NewSnapshot:
		fmt.Printf("=  %s  unchanged\n", res.Target.Name)
	default:
		fmt.Printf("+  %s  snapshot %d recorded\n", res.Target.Name, res.SnapshotID)
	}
}
