package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate change statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		var since time.Time
		if v, _ := cmd.Flags().GetString("since"); v != "" {
			if since, err = time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("bad --since timestamp: %w", err)
			}
		}

		stats, err := db.Stats(cmd.Context(), since)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("target=%-4d  %-9s %d\n", s.TargetID, s.Severity, s.Count)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().String("since", "", "Only count entries since this RFC3339 timestamp")
}
