// Package cmd contains the command line applications for the project.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yeisme/bucketdrain/pkg/configs"
)

var (
	configPath string
	debug      bool

	rootCmd = &cobra.Command{
		Use:     "bucketdrain",
		Short:   "Drain S3 buckets to local storage with verified deletes",
		Long: `bucketdrain migrates objects out of S3-compatible buckets to local
storage. Every object is downloaded, verified against its recorded size,
and only then deleted from the remote. Progress is tracked in a local
database so interrupted runs resume where they left off.`,
		Version: configs.AppVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: ./config.{yaml,json,toml})")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")

	registerScanCommands()
	registerMigrateCommands()
	registerStatusCommands()
	registerRestoreCommands()
	registerErrorCommands()
	registerResetCommands()
	registerConfigsCommands()
	registerDBCommands()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with the given context,
// so Ctrl-C cleanly cancels in-flight transfers.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
