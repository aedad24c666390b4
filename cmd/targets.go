package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage monitored targets",
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a target (re-adding an existing URL reactivates it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		name, _ := cmd.Flags().GetString("name")
		interval, _ := cmd.Flags().GetDuration("interval")
		target, err := db.AddTarget(cmd.Context(), name, args[0], interval)
		if err != nil {
			return err
		}
		fmt.Printf("registered target %d: %s (%s, every %s)\n", target.ID, target.Name, target.URL, target.Interval)
		return nil
	},
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		all, _ := cmd.Flags().GetBool("all")
		targets, err := db.ListTargets(cmd.Context(), !all)
		if err != nil {
			return err
		}
		for _, t := range targets {
			status := "active"
			if !t.Active {
				status = "inactive"
			}
			fmt.Printf("%-4d  %-8s  every %-8s  %-s  %s\n", t.ID, status, t.Interval, t.Name, t.URL)
		}
		return nil
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Deactivate a target (history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad target id: %s", args[0])
		}
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := db.DeactivateTarget(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("target %d deactivated\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsAddCmd, targetsListCmd, targetsRemoveCmd)

	targetsAddCmd.Flags().String("name", "", "Human-readable target name (default: the URL)")
	targetsAddCmd.Flags().Duration("interval", time.Hour, "Polling interval")
	targetsListCmd.Flags().Bool("all", false, "Include deactivated targets")
}
