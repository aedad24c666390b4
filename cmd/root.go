package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apiwatch/apiwatch/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
)

var cfgFile string

const (
	LOGO = `	              _               _       _
	  __ _ _ __ (_)_      ____ _| |_ ___| |__
	 / _` + "`" + ` | '_ \| \ \ /\ / / _` + "`" + ` | __/ __| '_ \
	| (_| | |_) | |\ V  V / (_| | || (__| | | |
	 \__,_| .__/|_| \_/\_/ \__,_|\__\___|_| |_|
	      |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apiwatch",
	Short: "Monitor OpenAPI/Swagger descriptions for breaking changes.",
	Long: LOGO + `apiwatch polls the interface descriptions of monitored HTTP APIs,
diffs each fetch against the previously stored snapshot, classifies every
change by severity and breaking impact, and notifies subscribers through
in-app and realtime channels.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.apiwatch.yaml)")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/apiwatch/apiwatch.sqlite)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".apiwatch")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			home, _ := homedir.Dir()
			configPath := home + "/.apiwatch.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	viper.SetDefault("retention", 20)
	viper.SetDefault("poll.concurrency", 5)
	viper.SetDefault("fetch.timeout", "30s")
	viper.SetDefault("fetch.retries", 0)
	viper.SetDefault("notify.max_attempts", 3)
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")

	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
