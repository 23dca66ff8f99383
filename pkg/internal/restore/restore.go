// Package restore 管理归档对象的恢复流程. GLACIER 与 DEEP_ARCHIVE
// 对象必须先发起恢复请求、等待若干小时后才能下载；恢复完成的
// 对象回到 discovered 状态进入下载管线（以 restore_requested_at
// 区分是否已请求过）.
package restore

import (
	"context"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/yeisme/bucketdrain/pkg/configs"
	"github.com/yeisme/bucketdrain/pkg/internal/model"
	s3c "github.com/yeisme/bucketdrain/pkg/internal/storage/s3"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
	"github.com/yeisme/bucketdrain/pkg/log"
	"github.com/yeisme/bucketdrain/pkg/metrics"
)

// archivalClasses 需要先恢复才能读取的存储层级.
// GLACIER_IR（Instant Retrieval）可直接读取，不在列表中.
var archivalClasses = map[string]bool{
	"GLACIER":      true,
	"DEEP_ARCHIVE": true,
}

// NeedsRestore 该存储层级是否需要恢复流程.
func NeedsRestore(storageClass string) bool {
	return archivalClasses[strings.ToUpper(storageClass)]
}

// Status 单个对象的恢复状态.
type Status int

const (
	StatusInProgress Status = iota // 恢复进行中（或状态头缺失，视为进行中）
	StatusAvailable                // 已恢复，可下载
)

// ObjectRestorer 恢复流程所需的对象存储能力.
type ObjectRestorer interface {
	StatObject(ctx context.Context, bucket, key string) (minio.ObjectInfo, error)
	RestoreObject(ctx context.Context, bucket, key string, days int, tier minio.TierType) error
}

// Handler 归档恢复处理器.
type Handler struct {
	client ObjectRestorer
	store  *state.Store
	cfg    *configs.MigrateConfig
	logger zerolog.Logger
}

// CycleStats 一轮恢复处理的统计.
type CycleStats struct {
	Requested  int // 本轮新发起的恢复请求
	Available  int // 恢复完成、回到下载管线的文件
	InProgress int // 仍在恢复中的文件
	Errors     int
}

// Summary 归档文件的整体状态.
type Summary struct {
	NeedingRestore int64 // discovered 且从未请求过恢复
	Requested      int64
	Restoring      int64
}

// NewHandler 创建恢复处理器.
func NewHandler(client ObjectRestorer, store *state.Store, cfg *configs.MigrateConfig) *Handler {
	return &Handler{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: log.Logger().With().Str("component", "restore").Logger(),
	}
}

// tierFor DEEP_ARCHIVE 不支持 Expedited，降级为 Standard.
func (h *Handler) tierFor(storageClass string) minio.TierType {
	tier := minio.TierType(h.cfg.RestoreTier)
	if strings.ToUpper(storageClass) == "DEEP_ARCHIVE" && tier == minio.TierExpedited {
		return minio.TierStandard
	}

	return tier
}

// RequestRestore 为单个归档对象发起恢复请求. 先 HEAD 检查：
// 已在恢复中则只登记状态，已恢复完成则直接放回下载管线.
// 服务端返回 RestoreAlreadyInProgress 同样视为成功.
func (h *Handler) RequestRestore(ctx context.Context, rec *model.FileRecord) error {
	info, err := h.client.StatObject(ctx, rec.Bucket, rec.Key)
	if err == nil && info.Restore != nil {
		if !info.Restore.OngoingRestore {
			h.logger.Info().Str("bucket", rec.Bucket).Str("key", rec.Key).Msg("already restored")

			return h.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateDiscovered, state.UpdateFields{})
		}

		return h.store.MarkRestoreRequested(ctx, rec.Bucket, rec.Key)
	}

	// HEAD 失败不阻断：恢复请求本身会给出权威答案

	err = h.client.RestoreObject(ctx, rec.Bucket, rec.Key, h.cfg.RestoreDays, h.tierFor(rec.StorageClass))
	if err != nil {
		if s3c.IsAlreadyInProgress(err) {
			return h.store.MarkRestoreRequested(ctx, rec.Bucket, rec.Key)
		}

		return err
	}

	metrics.RestoreRequests.Inc()
	h.logger.Info().
		Str("bucket", rec.Bucket).
		Str("key", rec.Key).
		Str("tier", string(h.tierFor(rec.StorageClass))).
		Int("days", h.cfg.RestoreDays).
		Msg("restore requested")

	return h.store.MarkRestoreRequested(ctx, rec.Bucket, rec.Key)
}

// CheckStatus 查询单个对象的恢复进度并同步状态.
// 状态头缺失时保持当前状态等待下轮重查，不标记失败.
func (h *Handler) CheckStatus(ctx context.Context, rec *model.FileRecord) (Status, error) {
	info, err := h.client.StatObject(ctx, rec.Bucket, rec.Key)
	if err != nil {
		return StatusInProgress, err
	}

	if info.Restore == nil {
		h.logger.Warn().Str("bucket", rec.Bucket).Str("key", rec.Key).Msg("no restore status on object, keeping state")

		return StatusInProgress, nil
	}

	if info.Restore.OngoingRestore {
		if rec.State != model.StateRestoring {
			if err := h.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateRestoring, state.UpdateFields{}); err != nil {
				return StatusInProgress, err
			}
		}

		return StatusInProgress, nil
	}

	if err := h.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateDiscovered, state.UpdateFields{}); err != nil {
		return StatusAvailable, err
	}

	h.logger.Info().Str("bucket", rec.Bucket).Str("key", rec.Key).Msg("restore complete, ready for download")

	return StatusAvailable, nil
}

// ProcessCycle 执行一轮恢复处理：为待恢复文件发起请求
// （上限 MaxRestoresPerRun），并检查恢复中文件的进度.
func (h *Handler) ProcessCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	discovered, err := h.store.GetFilesByState(ctx, model.StateDiscovered, 0)
	if err != nil {
		return stats, err
	}

	for i := range discovered {
		rec := &discovered[i]
		if !NeedsRestore(rec.StorageClass) || rec.RestoreRequestedAt != nil {
			continue
		}

		if stats.Requested >= h.cfg.MaxRestoresPerRun {
			break
		}

		if err := h.RequestRestore(ctx, rec); err != nil {
			if s3c.IsRateLimited(err) {
				// 限流不落 error，本轮停止继续发请求，文件留在 discovered
				h.logger.Warn().Err(err).Msg("rate limited while requesting restores, stopping this cycle")

				break
			}

			stats.Errors++
			msg := err.Error()

			if uerr := h.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateError, state.UpdateFields{ErrorMessage: &msg}); uerr != nil {
				return stats, uerr
			}

			continue
		}

		stats.Requested++
	}

	restoring, err := h.store.GetFilesByStates(ctx, []model.FileState{
		model.StateRestoreRequested,
		model.StateRestoring,
	})
	if err != nil {
		return stats, err
	}

	for i := range restoring {
		rec := &restoring[i]

		status, err := h.CheckStatus(ctx, rec)
		if err != nil {
			if s3c.IsRateLimited(err) {
				h.logger.Warn().Err(err).Msg("rate limited while checking restore status, stopping this cycle")

				break
			}

			// 持续失败的状态查询（如权限问题）不能让文件永远卡在
			// 恢复状态，落 error 由 retry-errors 重新排队
			stats.Errors++
			msg := err.Error()
			h.logger.Warn().Err(err).Str("bucket", rec.Bucket).Str("key", rec.Key).Msg("restore status check failed")

			if uerr := h.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateError, state.UpdateFields{ErrorMessage: &msg}); uerr != nil {
				return stats, uerr
			}

			continue
		}

		switch status {
		case StatusAvailable:
			stats.Available++
		case StatusInProgress:
			stats.InProgress++
		}
	}

	return stats, nil
}

// GetSummary 归档文件的分状态计数.
func (h *Handler) GetSummary(ctx context.Context) (Summary, error) {
	var sum Summary

	discovered, err := h.store.GetFilesByState(ctx, model.StateDiscovered, 0)
	if err != nil {
		return sum, err
	}

	for i := range discovered {
		if NeedsRestore(discovered[i].StorageClass) && discovered[i].RestoreRequestedAt == nil {
			sum.NeedingRestore++
		}
	}

	stats, err := h.store.Statistics(ctx)
	if err != nil {
		return sum, err
	}

	sum.Requested = stats[model.StateRestoreRequested].Count
	sum.Restoring = stats[model.StateRestoring].Count

	return sum, nil
}
