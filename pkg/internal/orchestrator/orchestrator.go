// Package orchestrator 驱动整个迁移：启动恢复、批量取活、
// 分流归档文件、调度 worker 池，直到所有文件到达终态.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yeisme/bucketdrain/pkg/configs"
	"github.com/yeisme/bucketdrain/pkg/internal/migrator"
	"github.com/yeisme/bucketdrain/pkg/internal/model"
	"github.com/yeisme/bucketdrain/pkg/internal/progress"
	"github.com/yeisme/bucketdrain/pkg/internal/restore"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
	"github.com/yeisme/bucketdrain/pkg/log"
	"github.com/yeisme/bucketdrain/pkg/metrics"
	"github.com/yeisme/bucketdrain/pkg/scheduler"
)

// stuckStates 进程中断时可能悬停的中间状态.
// 这些状态的操作没有完成确认，重启后从头重做（幂等）.
var stuckStates = []model.FileState{
	model.StateDownloading,
	model.StateDownloaded,
	model.StateVerified,
}

// 没有可下载文件时主循环的默认轮询间隔
const defaultIdleWait = 10 * time.Second

// Orchestrator 迁移总控.
type Orchestrator struct {
	store    *state.Store
	migrator *migrator.Migrator
	restorer *restore.Handler
	reporter *progress.Reporter
	cfg      *configs.MigrateConfig
	logger   zerolog.Logger
	idleWait time.Duration
}

// Result 一次迁移运行的结果.
type Result struct {
	Migrated int64
	Errors   int64
}

// New 创建总控.
func New(store *state.Store, m *migrator.Migrator, r *restore.Handler, rep *progress.Reporter, cfg *configs.MigrateConfig) *Orchestrator {
	return &Orchestrator{
		store:    store,
		migrator: m,
		restorer: r,
		reporter: rep,
		cfg:      cfg,
		logger:   log.Logger().With().Str("component", "orchestrator").Logger(),
		idleWait: defaultIdleWait,
	}
}

// RecoverStuckStates 把中间状态的文件重置回 discovered.
// 必须在启动 worker 之前调用；返回重置行数供调用方提示.
func (o *Orchestrator) RecoverStuckStates(ctx context.Context) (int64, error) {
	n, err := o.store.ResetStates(ctx, stuckStates, model.StateDiscovered)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		o.logger.Warn().Int64("files", n).Msg("reset interrupted files to discovered")
	}

	return n, nil
}

// Run 执行迁移直到所有文件到达终态或 ctx 取消.
// 归档恢复轮询与进度报告由后台调度任务驱动.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var result Result

	if err := o.ensureStartTime(ctx); err != nil {
		return result, err
	}

	sched, err := scheduler.NewScheduler()
	if err != nil {
		return result, err
	}

	err = sched.AddInterval("restore-poll", o.cfg.RestorePollInterval(), func(ctx context.Context) {
		stats, err := o.restorer.ProcessCycle(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("restore cycle failed")

			return
		}

		if stats.Requested > 0 || stats.Available > 0 {
			o.logger.Info().
				Int("requested", stats.Requested).
				Int("available", stats.Available).
				Int("in_progress", stats.InProgress).
				Msg("restore cycle")
		}
	}, ctx)
	if err != nil {
		return result, err
	}

	err = sched.AddInterval("progress-report", o.cfg.ProgressInterval(), func(ctx context.Context) {
		if err := o.reporter.Report(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("progress report failed")
		}
	}, ctx)
	if err != nil {
		return result, err
	}

	sched.Start()
	defer sched.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		ready, waiting, err := o.nextBatch(ctx)
		if err != nil {
			return result, err
		}

		if len(ready) == 0 {
			pending, err := o.store.HasPending(ctx)
			if err != nil {
				return result, err
			}

			if !pending {
				break
			}

			if waiting > 0 {
				// 只剩归档文件：补一轮恢复处理再等
				if _, err := o.restorer.ProcessCycle(ctx); err != nil {
					o.logger.Warn().Err(err).Msg("restore cycle failed")
				}
			}

			onlyErrors, err := o.onlyErrorsLeft(ctx)
			if err != nil {
				return result, err
			}

			if onlyErrors {
				break
			}

			if err := sleepCtx(ctx, o.idleWait); err != nil {
				return result, err
			}

			continue
		}

		if err := o.processBatch(ctx, ready); err != nil {
			return result, err
		}

		if err := o.store.Flush(ctx); err != nil {
			return result, err
		}
	}

	if err := o.store.Flush(ctx); err != nil {
		return result, err
	}

	stats, err := o.store.Statistics(ctx)
	if err != nil {
		return result, err
	}

	result.Migrated = stats[model.StateDeleted].Count
	result.Errors = stats[model.StateError].Count

	return result, nil
}

// nextBatch 取下一批可处理文件. 返回就绪列表与仍在等恢复的
// 归档文件数. 未请求过恢复的归档文件不进入就绪列表，交给
// 恢复轮询处理.
func (o *Orchestrator) nextBatch(ctx context.Context) ([]model.FileRecord, int, error) {
	discovered, err := o.store.GetFilesByState(ctx, model.StateDiscovered, o.cfg.BatchSize*2)
	if err != nil {
		return nil, 0, err
	}

	ready := make([]model.FileRecord, 0, len(discovered))

	var waiting int

	for _, rec := range discovered {
		if restore.NeedsRestore(rec.StorageClass) && rec.RestoreRequestedAt == nil {
			waiting++

			continue
		}

		ready = append(ready, rec)

		if len(ready) >= o.cfg.BatchSize {
			break
		}
	}

	// 因限流停在 verified 的文件只差删除一步
	verified, err := o.store.GetFilesByState(ctx, model.StateVerified, o.cfg.BatchSize)
	if err != nil {
		return nil, 0, err
	}

	ready = append(ready, verified...)

	restoring, err := o.store.GetFilesByStates(ctx, []model.FileState{
		model.StateRestoreRequested,
		model.StateRestoring,
	})
	if err != nil {
		return nil, 0, err
	}

	waiting += len(restoring)

	return ready, waiting, nil
}

// processBatch 用 worker 池并发处理一批文件.
func (o *Orchestrator) processBatch(ctx context.Context, batch []model.FileRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for i := range batch {
		rec := &batch[i]

		g.Go(func() error {
			metrics.ActiveWorkers.Inc()
			defer metrics.ActiveWorkers.Dec()

			if rec.State == model.StateVerified {
				return o.migrator.ProcessVerified(gctx, rec)
			}

			return o.migrator.Process(gctx, rec)
		})
	}

	return g.Wait()
}

// onlyErrorsLeft 剩余未完成文件是否全部处于 error 状态.
// 是则主循环应退出，把问题留给 list-errors / retry-errors.
func (o *Orchestrator) onlyErrorsLeft(ctx context.Context) (bool, error) {
	stats, err := o.store.Statistics(ctx)
	if err != nil {
		return false, err
	}

	for st, stat := range stats {
		if st == model.StateDeleted || st == model.StateError {
			continue
		}

		if stat.Count > 0 {
			return false, nil
		}
	}

	return stats[model.StateError].Count > 0, nil
}

// ensureStartTime 首次运行时持久化迁移起点，供跨进程耗时统计.
func (o *Orchestrator) ensureStartTime(ctx context.Context) error {
	v, err := o.store.GetMetadata(ctx, state.MetaMigrationStartTime)
	if err != nil {
		return err
	}

	if v != "" {
		return nil
	}

	return o.store.SetMetadata(ctx, state.MetaMigrationStartTime, time.Now().UTC().Format(time.RFC3339))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
