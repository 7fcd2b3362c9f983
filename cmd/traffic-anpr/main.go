package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "traffic-anpr",
		Short:        "Campus traffic ANPR ingestion service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (default ./config.yaml)")

	rootCmd.AddCommand(
		serveCommand(&configFile),
		migrateCommand(&configFile),
	)
	return rootCmd
}
