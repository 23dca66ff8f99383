package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/bucketdrain/pkg/configs"
	appctx "github.com/yeisme/bucketdrain/pkg/context"
	"github.com/yeisme/bucketdrain/pkg/internal/progress"
	"github.com/yeisme/bucketdrain/pkg/internal/scanner"
)

var (
	scanBuckets []string
	scanRescan  bool

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "enumerate remote buckets and register objects for migration",
		Long: `Scan lists every object in the configured buckets and registers it in
the state database. Scanning is idempotent: objects already registered keep
their state, and fully scanned buckets are skipped on later runs unless
--rescan is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, err := initRuntime(cmd.Context())
			if err != nil {
				return err
			}

			s := scanner.NewScanner(appctx.GetS3Client(ctx), store, &configs.GetConfig().S3)

			sum, err := s.Scan(ctx, scanBuckets, scanRescan)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Buckets scanned: %d (skipped %d)\n", sum.BucketsScanned, sum.BucketsSkipped)
			fmt.Fprintf(out, "Objects listed:  %d (%s)\n", sum.Files, progress.FormatSize(float64(sum.Bytes)))

			return nil
		},
	}
)

// registerScanCommands 注册扫描命令.
func registerScanCommands() {
	scanCmd.Flags().StringSliceVar(&scanBuckets, "buckets", nil, "buckets to scan (default: configured buckets, or all)")
	scanCmd.Flags().BoolVar(&scanRescan, "rescan", false, "re-list buckets already marked as scanned")

	rootCmd.AddCommand(scanCmd)
}
