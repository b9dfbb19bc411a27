// Package cli provides the command-line interface for the ingestion
// pipeline: an "ingest" command that validates and lands one exported
// archive, and a "reprocess" command that replays a previously-landed
// batch from its stored copy.
//
// Configuration follows the same flags/env/file precedence the original
// service used — command-line flags take priority, then environment
// variables, then an optional config file, then built-in defaults.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cfgFile holds the path to the configuration file specified via
// --config. When empty, initConfig searches $HOME and the working
// directory for .vitalpipe.yaml.
var cfgFile string

// RootCmd is the entry point for the vitalpipe CLI.
var RootCmd = &cobra.Command{
	Use:   "vitalpipe",
	Short: "ingest and reprocess exported health-data archives",
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vitalpipe.yaml)")
	RootCmd.PersistentFlags().String("database-dsn", "", "Postgres connection string")
	RootCmd.PersistentFlags().String("archive-root", "", "local archive storage root")
	RootCmd.PersistentFlags().String("storage-backend", "", `archive storage backend ("local" or "s3")`)

	viper.BindPFlag("database.dsn", RootCmd.PersistentFlags().Lookup("database-dsn"))
	viper.BindPFlag("archive.root", RootCmd.PersistentFlags().Lookup("archive-root"))
	viper.BindPFlag("storage.backend", RootCmd.PersistentFlags().Lookup("storage-backend"))

	RootCmd.AddCommand(ingestCmd)
	RootCmd.AddCommand(reprocessCmd)
}

// initConfig mirrors the teacher's discovery order: an explicit --config
// path wins, otherwise look for .vitalpipe.yaml in $HOME then ".".
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".vitalpipe")
	}

	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}
