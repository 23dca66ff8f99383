// Package migrator 执行单个文件的迁移管线：下载、校验、删除远端.
// 远端删除只发生在本地副本校验通过之后，任何一步失败都不会丢数据.
package migrator

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yeisme/bucketdrain/pkg/configs"
	"github.com/yeisme/bucketdrain/pkg/internal/model"
	s3c "github.com/yeisme/bucketdrain/pkg/internal/storage/s3"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
	"github.com/yeisme/bucketdrain/pkg/log"
	"github.com/yeisme/bucketdrain/pkg/metrics"
)

const defaultPartSize = 16 << 20

// ObjectStore 迁移管线所需的对象存储能力.
type ObjectStore interface {
	FGetObject(ctx context.Context, bucket, key, filePath string) error
	GetObjectRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucket, key string) error
}

// Migrator 文件迁移器. 多个 worker 共享同一个实例.
type Migrator struct {
	client   ObjectStore
	store    *state.Store
	cfg      *configs.MigrateConfig
	throttle *Throttle
	limiter  *rate.Limiter // 可选的客户端请求速率上限，nil 表示不限
	logger   zerolog.Logger
}

// NewMigrator 创建迁移器.
func NewMigrator(client ObjectStore, store *state.Store, cfg *configs.MigrateConfig) *Migrator {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Migrator{
		client:   client,
		store:    store,
		cfg:      cfg,
		throttle: NewThrottle(cfg.ThrottleBase(), cfg.ThrottleMax()),
		limiter:  limiter,
		logger:   log.Logger().With().Str("component", "migrator").Logger(),
	}
}

// Throttle 暴露共享退避器，供调度侧观察.
func (m *Migrator) Throttle() *Throttle {
	return m.throttle
}

// LocalPath 对象在本地归档中的目标路径.
func (m *Migrator) LocalPath(rec *model.FileRecord) string {
	return filepath.Join(m.cfg.LocalBasePath, rec.Bucket, filepath.FromSlash(rec.Key))
}

// Process 迁移单个文件：下载 → 校验 → 删除远端.
// 限流错误不算失败：登记退避并把文件放回 discovered（或保持
// verified）等待重试；其余错误进入 error 状态.
func (m *Migrator) Process(ctx context.Context, rec *model.FileRecord) error {
	if err := m.throttle.Wait(ctx); err != nil {
		return err
	}

	if err := m.waitLimiter(ctx); err != nil {
		return err
	}

	if err := m.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateDownloading, state.UpdateFields{}); err != nil {
		return err
	}

	localPath := m.LocalPath(rec)

	if err := m.download(ctx, rec, localPath); err != nil {
		if s3c.IsRateLimited(err) {
			return m.backoffAndRequeue(ctx, rec, model.StateDiscovered, err)
		}

		return m.markError(ctx, rec, fmt.Errorf("download: %w", err))
	}

	// 任何一次成功的远端调用都清零连续限流计数
	m.throttle.Success()

	if err := m.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateDownloaded, state.UpdateFields{LocalPath: &localPath}); err != nil {
		return err
	}

	checksum, err := m.Verify(rec, localPath)
	if err != nil {
		return m.markError(ctx, rec, fmt.Errorf("verify: %w", err))
	}

	if err := m.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateVerified, state.UpdateFields{Checksum: &checksum}); err != nil {
		return err
	}

	return m.finishDelete(ctx, rec)
}

// ProcessVerified 只执行删除远端这一步，用于重试先前因限流
// 停在 verified 的文件. 本地副本已校验，无需重新下载.
func (m *Migrator) ProcessVerified(ctx context.Context, rec *model.FileRecord) error {
	if err := m.throttle.Wait(ctx); err != nil {
		return err
	}

	if err := m.waitLimiter(ctx); err != nil {
		return err
	}

	return m.finishDelete(ctx, rec)
}

// finishDelete 删除远端对象并落终态. 只能在本地副本校验通过后调用.
func (m *Migrator) finishDelete(ctx context.Context, rec *model.FileRecord) error {
	if err := m.client.RemoveObject(ctx, rec.Bucket, rec.Key); err != nil {
		if s3c.IsRateLimited(err) {
			// 本地副本已校验，保持 verified 等下次只重试删除
			return m.backoffAndRequeue(ctx, rec, model.StateVerified, err)
		}

		return m.markError(ctx, rec, fmt.Errorf("delete remote: %w", err))
	}

	if err := m.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateDeleted, state.UpdateFields{}); err != nil {
		return err
	}

	m.throttle.Success()
	metrics.FilesMigrated.Inc()
	metrics.BytesDownloaded.Add(float64(rec.Size))

	m.logger.Info().
		Str("bucket", rec.Bucket).
		Str("key", rec.Key).
		Int64("size", rec.Size).
		Msg("file migrated")

	return nil
}

// Verify 校验本地副本：大小必须与发现时登记的一致.
// 不一致时删除本地文件，避免半成品被当作有效副本.
// 通过后返回本地内容的 xxhash 校验和.
func (m *Migrator) Verify(rec *model.FileRecord, localPath string) (string, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat local copy: %w", err)
	}

	if fi.Size() != rec.Size {
		os.Remove(localPath)

		return "", fmt.Errorf("size mismatch: local %d, expected %d", fi.Size(), rec.Size)
	}

	sum, err := checksumFile(localPath)
	if err != nil {
		return "", err
	}

	return sum, nil
}

// checksumFile 计算文件内容的 xxhash-64，十六进制编码.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// backoffAndRequeue 限流处理：延长共享暂停窗口并把文件放回
// requeue 状态等待重试. 限流永远不把文件打入 error.
func (m *Migrator) backoffAndRequeue(ctx context.Context, rec *model.FileRecord, requeue model.FileState, cause error) error {
	d := m.throttle.Backoff()

	m.logger.Warn().
		Err(cause).
		Str("bucket", rec.Bucket).
		Str("key", rec.Key).
		Dur("pause", d).
		Int("consecutive", m.throttle.Counter()).
		Msg("rate limited, pausing all workers")

	return m.store.UpdateState(ctx, rec.Bucket, rec.Key, requeue, state.UpdateFields{})
}

// markError 把文件标记为 error 并记录原因.
func (m *Migrator) markError(ctx context.Context, rec *model.FileRecord, cause error) error {
	metrics.FilesErrored.Inc()

	m.logger.Error().
		Err(cause).
		Str("bucket", rec.Bucket).
		Str("key", rec.Key).
		Msg("migration failed")

	msg := cause.Error()

	return m.store.UpdateState(ctx, rec.Bucket, rec.Key, model.StateError, state.UpdateFields{ErrorMessage: &msg})
}

func (m *Migrator) waitLimiter(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}

	return m.limiter.Wait(ctx)
}
