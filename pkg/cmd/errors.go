package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/bucketdrain/pkg/internal/model"
)

var (
	listErrorsLimit int
	retryErrorsYes  bool

	listErrorsCmd = &cobra.Command{
		Use:   "list-errors",
		Short: "list files that failed to migrate",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, err := initRuntime(cmd.Context())
			if err != nil {
				return err
			}

			recs, err := store.GetFilesByState(ctx, model.StateError, listErrorsLimit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if len(recs) == 0 {
				fmt.Fprintln(out, "No failed files.")

				return nil
			}

			for _, rec := range recs {
				fmt.Fprintf(out, "%s/%s\n    %s\n", rec.Bucket, rec.Key, rec.ErrorMessage)
			}

			fmt.Fprintf(out, "\n%d failed file(s).\n", len(recs))

			return nil
		},
	}

	retryErrorsCmd = &cobra.Command{
		Use:   "retry-errors",
		Short: "requeue failed files for another migration attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, err := initRuntime(cmd.Context())
			if err != nil {
				return err
			}

			if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Requeue all failed files for another attempt?", retryErrorsYes) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")

				return nil
			}

			n, err := store.ResetStates(ctx, []model.FileState{model.StateError}, model.StateDiscovered)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d file(s). Run 'bucketdrain migrate' to retry.\n", n)

			return nil
		},
	}
)

// registerErrorCommands 注册错误处理命令.
func registerErrorCommands() {
	listErrorsCmd.Flags().IntVar(&listErrorsLimit, "limit", 100, "maximum number of errors to show (0 = all)")
	retryErrorsCmd.Flags().BoolVarP(&retryErrorsYes, "yes", "y", false, "skip confirmation prompt")

	rootCmd.AddCommand(listErrorsCmd)
	rootCmd.AddCommand(retryErrorsCmd)
}
