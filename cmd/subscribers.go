package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/apiwatch/apiwatch/pkg/classify"
	"github.com/apiwatch/apiwatch/pkg/notify"
	"github.com/apiwatch/apiwatch/pkg/storage"
)

var subscribersCmd = &cobra.Command{
	Use:   "subscribers",
	Short: "Manage subscribers and notification preferences",
}

var subscribersAddCmd = &cobra.Command{
	Use:   "add <handle>",
	Short: "Create a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		sub, err := db.AddSubscriber(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("subscriber %d: %s\n", sub.ID, sub.Handle)
		return nil
	},
}

var subscribersSubscribeCmd = &cobra.Command{
	Use:   "subscribe <subscriber-id> <target-id>",
	Short: "Subscribe a subscriber to a target's changelog",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		subID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad subscriber id: %s", args[0])
		}
		targetID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad target id: %s", args[1])
		}

		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		return db.Subscribe(cmd.Context(), targetID, subID)
	},
}

var subscribersPrefsCmd = &cobra.Command{
	Use:   "prefs <subscriber-id>",
	Short: "Set a subscriber's notification preferences",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad subscriber id: %s", args[0])
		}

		muted, _ := cmd.Flags().GetBool("muted")
		breakingOnly, _ := cmd.Flags().GetBool("breaking-only")
		minSevName, _ := cmd.Flags().GetString("min-severity")
		channels, _ := cmd.Flags().GetStringSlice("channels")

		prefs := storage.Preferences{
			Muted:        muted,
			BreakingOnly: breakingOnly,
			Channels:     map[string]bool{},
		}
		if minSevName != "" {
			sev, err := classify.ParseSeverity(minSevName)
			if err != nil {
				return err
			}
			prefs.MinSeverity = sev
		}
		for _, ch := range channels {
			switch ch {
			case notify.ChannelInApp, notify.ChannelPush, notify.ChannelEmail:
				prefs.Channels[ch] = true
			default:
				return fmt.Errorf("unknown channel %q", ch)
			}
		}

		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		return db.SetPreferences(cmd.Context(), subID, prefs)
	},
}

func init() {
	rootCmd.AddCommand(subscribersCmd)
	subscribersCmd.AddCommand(subscribersAddCmd, subscribersSubscribeCmd, subscribersPrefsCmd)

	subscribersPrefsCmd.Flags().Bool("muted", false, "Mute all notifications")
	subscribersPrefsCmd.Flags().Bool("breaking-only", false, "Only notify on breaking changes")
	subscribersPrefsCmd.Flags().String("min-severity", "", "Minimum severity to notify on (low, medium, high, critical)")
	subscribersPrefsCmd.Flags().StringSlice("channels", []string{notify.ChannelInApp}, "Enabled delivery channels (inapp, push, email)")
}
