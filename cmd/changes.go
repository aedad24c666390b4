package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/apiwatch/apiwatch/pkg/classify"
	"github.com/apiwatch/apiwatch/pkg/storage"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recent changelog entries (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		filter := storage.EntryFilter{}
		filter.TargetID, _ = cmd.Flags().GetInt64("target")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if v, _ := cmd.Flags().GetString("severity"); v != "" {
			if filter.MinSeverity, err = classify.ParseSeverity(v); err != nil {
				return err
			}
		}
		if breakingOnly, _ := cmd.Flags().GetBool("breaking"); breakingOnly {
			b := true
			filter.Breaking = &b
		}
		if v, _ := cmd.Flags().GetString("since"); v != "" {
			if filter.Since, err = time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("bad --since timestamp: %w", err)
			}
		}

		entries, err := db.ListEntries(cmd.Context(), filter)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("records")
		for _, e := range entries {
			marker := " "
			if e.Breaking {
				marker = "!"
			}
			fmt.Printf("%s %s  target=%d  %s  %d→%d  [%s]\n",
				marker, e.CreatedAt.Format("2006-01-02 15:04:05"), e.TargetID, e.ID,
				e.FromSnapshot, e.ToSnapshot, e.SeverityName)
			if verbose {
				full, err := db.GetEntry(cmd.Context(), e.ID)
				if err != nil {
					return err
				}
				for _, rec := range full.Records {
					printRecord(rec)
				}
			}
		}
		return nil
	},
}

func printRecord(rec classify.ClassifiedRecord) {
	breaking := ""
	if rec.Breaking {
		breaking = "  breaking"
	}
	fmt.Printf("    %-9s %-8s %s%s\n", rec.Kind, rec.Severity, rec.Path, breaking)
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().Int64("target", 0, "Filter by target id")
	changesCmd.Flags().String("severity", "", "Minimum severity (low, medium, high, critical)")
	changesCmd.Flags().Bool("breaking", false, "Only breaking changes")
	changesCmd.Flags().String("since", "", "Only entries since this RFC3339 timestamp")
	changesCmd.Flags().Int("limit", 50, "Number of entries to show")
	changesCmd.Flags().Bool("records", false, "Also print each entry's change records")
}
