package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/bucketdrain/pkg/configs"
	appctx "github.com/yeisme/bucketdrain/pkg/context"
	"github.com/yeisme/bucketdrain/pkg/internal/restore"
)

var processRestoresCmd = &cobra.Command{
	Use:   "process-restores",
	Short: "request and poll archive restores without running the migration",
	Long: `Process-restores runs one restore cycle: it requests restores for
archived objects that have none yet (up to the configured per-run cap) and
checks the progress of objects already restoring. Useful for warming up
GLACIER and DEEP_ARCHIVE objects ahead of a migration run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, store, err := initRuntime(cmd.Context())
		if err != nil {
			return err
		}

		h := restore.NewHandler(appctx.GetS3Client(ctx), store, &configs.GetConfig().Migrate)

		stats, err := h.ProcessCycle(ctx)
		if err != nil {
			return err
		}

		sum, err := h.GetSummary(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Restore requests sent: %d\n", stats.Requested)
		fmt.Fprintf(out, "Now available:         %d\n", stats.Available)
		fmt.Fprintf(out, "Still restoring:       %d\n", stats.InProgress)

		if stats.Errors > 0 {
			fmt.Fprintf(out, "Errors:                %d\n", stats.Errors)
		}

		fmt.Fprintf(out, "\nArchived objects awaiting a restore request: %d\n", sum.NeedingRestore)

		return nil
	},
}

// registerRestoreCommands 注册归档恢复命令.
func registerRestoreCommands() {
	rootCmd.AddCommand(processRestoresCmd)
}
