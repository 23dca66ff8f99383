package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	resetYes bool

	resetStateCmd = &cobra.Command{
		Use:   "reset-state",
		Short: "wipe the state database (does not touch remote or local files)",
		Long: `Reset-state deletes every record from the state database: file states,
scanned-bucket markers and run metadata. Remote objects and already
downloaded local files are left untouched. A fresh scan is required
before migrating again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, err := initRuntime(cmd.Context())
			if err != nil {
				return err
			}

			if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Wipe ALL migration state? This cannot be undone", resetYes) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")

				return nil
			}

			if err := store.ClearAll(ctx); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "State database cleared.")

			return nil
		},
	}
)

// registerResetCommands 注册状态重置命令.
func registerResetCommands() {
	resetStateCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip confirmation prompt")

	rootCmd.AddCommand(resetStateCmd)
}
