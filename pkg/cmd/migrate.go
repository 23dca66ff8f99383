package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid"
	"github.com/spf13/cobra"

	"github.com/yeisme/bucketdrain/pkg/configs"
	appctx "github.com/yeisme/bucketdrain/pkg/context"
	"github.com/yeisme/bucketdrain/pkg/internal/migrator"
	"github.com/yeisme/bucketdrain/pkg/internal/orchestrator"
	"github.com/yeisme/bucketdrain/pkg/internal/progress"
	"github.com/yeisme/bucketdrain/pkg/internal/restore"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
	"github.com/yeisme/bucketdrain/pkg/log"
	"github.com/yeisme/bucketdrain/pkg/metrics"
)

var (
	migrateYes bool

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "run the migration until all registered objects are drained",
		Long: `Migrate downloads every registered object, verifies the local copy
against the size recorded at scan time, and deletes the remote object only
after verification succeeds. Archived objects (GLACIER, DEEP_ARCHIVE) are
restored first; the run keeps polling until they become available.

Interrupted runs are safe to restart: files stuck in intermediate states
are reset to discovered and reprocessed from scratch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, store, err := initRuntime(cmd.Context())
			if err != nil {
				return err
			}

			cfg := &configs.GetConfig().Migrate
			mgr := appctx.GetManager(ctx)

			m := migrator.NewMigrator(mgr.GetS3Client(), store, cfg)
			r := restore.NewHandler(mgr.GetS3Client(), store, cfg)
			rep := progress.NewReporter(store)
			o := orchestrator.New(store, m, r, rep, cfg)

			return runMigrate(ctx, cmd, store, o, rep)
		},
	}
)

// runMigrate 确认后执行迁移. 状态库的任何改动（含中断状态恢复）
// 都发生在用户确认之后，拒绝启动不留副作用.
func runMigrate(ctx context.Context, cmd *cobra.Command, store *state.Store, o *orchestrator.Orchestrator, rep *progress.Reporter) error {
	if !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Start migration? Remote objects will be deleted after verification", migrateYes) {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")

		return nil
	}

	recovered, err := o.RecoverStuckStates(ctx)
	if err != nil {
		return err
	}

	if recovered > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %d interrupted file(s) back to discovered.\n", recovered)
	}

	runID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.New(rand.NewSource(time.Now().UnixNano())))
	if err := store.SetMetadata(ctx, state.MetaMigrationRunID, runID.String()); err != nil {
		return err
	}

	metricsCfg := configs.GetConfig().Metrics
	if metricsCfg.Enabled {
		metrics.StartMetricsServer(metricsCfg)
	}

	log.Logger().Info().Str("run_id", runID.String()).Msg("migration started")

	result, err := o.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nMigration finished: %d file(s) migrated, %d error(s).\n", result.Migrated, result.Errors)

	if result.Errors > 0 {
		fmt.Fprintln(out, "Run 'bucketdrain list-errors' to inspect failures and 'bucketdrain retry-errors' to requeue them.")
	}

	return rep.WriteStatus(ctx, out)
}

// registerMigrateCommands 注册迁移命令.
func registerMigrateCommands() {
	migrateCmd.Flags().BoolVarP(&migrateYes, "yes", "y", false, "skip confirmation prompts")

	rootCmd.AddCommand(migrateCmd)
}
