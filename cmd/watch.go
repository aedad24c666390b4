package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apiwatch/apiwatch/internal/server"
	"github.com/apiwatch/apiwatch/internal/utils"
	"github.com/apiwatch/apiwatch/pkg/notify"
)

// watchCmd implements: apiwatch watch — the long-running scheduler.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll all active targets continuously on their configured intervals",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		hub := notify.NewHub(utils.Log)
		runner := newRunner(db, hub, nil)

		withServer, _ := cmd.Flags().GetBool("serve")
		if withServer {
			srv := server.New(db, hub, viper.GetString("server.username"), viper.GetString("server.password"))
			go func() {
				if err := srv.Start(viper.GetString("server.listen")); err != nil {
					utils.Log.Errorf("server: %v", err)
				}
			}()
		}

		utils.Log.Info("watching targets; Ctrl-C to stop")
		return runner.Watch(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("serve", false, "Also start the HTTP API and realtime push endpoint")
}
