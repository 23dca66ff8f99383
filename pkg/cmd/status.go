package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/bucketdrain/pkg/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show migration progress and per-state breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, store, err := initRuntime(cmd.Context())
		if err != nil {
			return err
		}

		rep := progress.NewReporter(store)
		if err := rep.WriteStatus(ctx, cmd.OutOrStdout()); err != nil {
			return err
		}

		scanned, err := store.ScannedBuckets(ctx)
		if err != nil {
			return err
		}

		if len(scanned) == 0 {
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Scanned buckets:")

		for _, b := range scanned {
			fmt.Fprintf(out, "  %-30s %8d files  %12s\n",
				b.Bucket, b.FileCount, progress.FormatSize(float64(b.TotalSize)))
		}

		return nil
	},
}

// registerStatusCommands 注册状态命令.
func registerStatusCommands() {
	rootCmd.AddCommand(statusCmd)
}
