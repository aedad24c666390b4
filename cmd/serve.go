package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apiwatch/apiwatch/internal/server"
	"github.com/apiwatch/apiwatch/internal/utils"
	"github.com/apiwatch/apiwatch/pkg/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and realtime push endpoint (no polling)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cleanup, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = viper.GetString("server.listen")
		}

		hub := notify.NewHub(utils.Log)
		srv := server.New(db, hub, viper.GetString("server.username"), viper.GetString("server.password"))
		return srv.Start(listen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (default from config: :8080)")
}
