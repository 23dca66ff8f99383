// Package state 实现迁移状态存储，是整个系统唯一的事实来源.
// 所有写入都经过同一把锁串行化：负载瓶颈在网络 I/O，
// 这里追求的是正确性而不是吞吐.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/bucketdrain/pkg/internal/model"
)

// 元数据键.
const (
	MetaMigrationStartTime = "migration_start_time" // 迁移阶段（非扫描）开始时间
	MetaMigrationRunID     = "migration_run_id"     // 本次 migrate 运行的 ULID
)

// Store 迁移状态存储. 一个进程只应持有一个实例.
type Store struct {
	db *gorm.DB

	mu      sync.Mutex // 串行化所有写入
	batch   bool       // 批量提交模式，见 WithBatchUpdates
	pending []pendingUpdate
}

// pendingUpdate 批量模式下排队的一次状态更新.
type pendingUpdate struct {
	bucket  string
	key     string
	updates map[string]any
}

// UpdateFields 状态更新时可选写入的字段. nil 表示不改动.
type UpdateFields struct {
	ErrorMessage *string
	LocalPath    *string
	Checksum     *string
}

// StateStat 单个状态的聚合统计.
type StateStat struct {
	State model.FileState `json:"state"`
	Count int64           `json:"count"`
	Size  int64           `json:"size"`
}

// ClassStat 单个存储层级的聚合统计.
type ClassStat struct {
	StorageClass string `json:"storage_class"`
	Count        int64  `json:"count"`
	Size         int64  `json:"size"`
}

// Progress 整体进度.
type Progress struct {
	CompletedFiles int64 `json:"completed_files"`
	TotalFiles     int64 `json:"total_files"`
	CompletedBytes int64 `json:"completed_bytes"`
	TotalBytes     int64 `json:"total_bytes"`
}

// NewStore 打开状态存储并确保 schema 存在.
// schema 迁移失败属于致命错误，调用方应终止运行.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&model.FileRecord{},
		&model.ScannedBucket{},
		&model.MigrationMetadata{},
	); err != nil {
		return nil, fmt.Errorf("migrate state schema: %w", err)
	}

	return &Store{db: db}, nil
}

// WithBatchUpdates 开启批量提交模式：UpdateState 只排队，
// 直到显式 Flush 才落库. 崩溃会丢失未 Flush 的更新（见 DESIGN.md），
// 大文件量场景换吞吐时才开启.
func (s *Store) WithBatchUpdates() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = true

	return s
}

// AddFile 登记一个新发现的文件. (bucket, key) 已存在时静默跳过，
// 支持安全重扫. Size 在这里写入后不再被任何组件修改.
func (s *Store) AddFile(ctx context.Context, bucket, key string, size int64, etag, storageClass string, lastModified time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := model.FileRecord{
		Bucket:       bucket,
		Key:          key,
		Size:         size,
		ETag:         etag,
		StorageClass: storageClass,
		LastModified: lastModified,
		State:        model.StateDiscovered,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("add file %s/%s: %w", bucket, key, err)
	}

	return nil
}

// UpdateState 更新单个文件的状态与可选字段. 单行原子更新，
// 不提供跨行事务. 批量模式下仅排队，需调用 Flush 落库.
func (s *Store) UpdateState(ctx context.Context, bucket, key string, newState model.FileState, fields UpdateFields) error {
	updates := map[string]any{
		"state":      newState,
		"updated_at": time.Now().UTC(),
	}

	if fields.ErrorMessage != nil {
		updates["error_message"] = *fields.ErrorMessage
	}

	if fields.LocalPath != nil {
		updates["local_path"] = *fields.LocalPath
	}

	if fields.Checksum != nil {
		updates["checksum"] = *fields.Checksum
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batch {
		s.pending = append(s.pending, pendingUpdate{bucket: bucket, key: key, updates: updates})

		return nil
	}

	return s.applyUpdate(ctx, bucket, key, updates)
}

// Flush 落库所有排队的批量更新.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	toCommit := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(toCommit) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range toCommit {
			err := tx.Model(&model.FileRecord{}).
				Where(map[string]any{"bucket": u.bucket, "key": u.key}).
				Updates(u.updates).Error
			if err != nil {
				return fmt.Errorf("flush update %s/%s: %w", u.bucket, u.key, err)
			}
		}

		return nil
	})
}

// applyUpdate 立即提交一次状态更新. 调用方必须已持有 s.mu.
func (s *Store) applyUpdate(ctx context.Context, bucket, key string, updates map[string]any) error {
	err := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where(map[string]any{"bucket": bucket, "key": key}).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("update state %s/%s: %w", bucket, key, err)
	}

	return nil
}

// MarkRestoreRequested 登记恢复请求：状态与请求时间在同一条 UPDATE 里写入.
func (s *Store) MarkRestoreRequested(ctx context.Context, bucket, key string) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyUpdate(ctx, bucket, key, map[string]any{
		"state":                model.StateRestoreRequested,
		"restore_requested_at": now,
		"updated_at":           now,
	})
}

// GetFile 查询单个文件记录.
func (s *Store) GetFile(ctx context.Context, bucket, key string) (*model.FileRecord, error) {
	var rec model.FileRecord

	err := s.db.WithContext(ctx).
		Where(map[string]any{"bucket": bucket, "key": key}).
		First(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("get file %s/%s: %w", bucket, key, err)
	}

	return &rec, nil
}

// GetFilesByState 查询指定状态的文件. limit > 0 时限制返回行数，
// 百万级行时调用方必须限流，避免整表物化到内存.
func (s *Store) GetFilesByState(ctx context.Context, st model.FileState, limit int) ([]model.FileRecord, error) {
	var recs []model.FileRecord

	q := s.db.WithContext(ctx).Where("state = ?", st).Order("bucket").Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}})
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("files by state %s: %w", st, err)
	}

	return recs, nil
}

// GetFilesByStates 查询处于任一给定状态的文件.
func (s *Store) GetFilesByStates(ctx context.Context, states []model.FileState) ([]model.FileRecord, error) {
	var recs []model.FileRecord

	if err := s.db.WithContext(ctx).Where("state IN ?", states).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("files by states: %w", err)
	}

	return recs, nil
}

// ResetStates 把处于 from 状态集合的所有文件重置为 to，返回影响行数.
// 用于启动恢复与 retry-errors.
func (s *Store) ResetStates(ctx context.Context, from []model.FileState, to model.FileState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where("state IN ?", from).
		Updates(map[string]any{
			"state":      to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reset states: %w", res.Error)
	}

	return res.RowsAffected, nil
}

// Statistics 每个状态的文件数与字节数.
func (s *Store) Statistics(ctx context.Context) (map[model.FileState]StateStat, error) {
	var rows []StateStat

	err := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Select("state, COUNT(*) AS count, COALESCE(SUM(size), 0) AS size").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}

	stats := make(map[model.FileState]StateStat, len(rows))
	for _, r := range rows {
		stats[r.State] = r
	}

	return stats, nil
}

// StorageClassBreakdown 按存储层级聚合，state 非空时只统计该状态.
func (s *Store) StorageClassBreakdown(ctx context.Context, st *model.FileState) (map[string]ClassStat, error) {
	var rows []ClassStat

	q := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Select("storage_class, COUNT(*) AS count, COALESCE(SUM(size), 0) AS size").
		Group("storage_class")
	if st != nil {
		q = q.Where("state = ?", *st)
	}

	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage class breakdown: %w", err)
	}

	breakdown := make(map[string]ClassStat, len(rows))
	for _, r := range rows {
		breakdown[r.StorageClass] = r
	}

	return breakdown, nil
}

// GetProgress 整体进度（完成 = deleted 终态）.
func (s *Store) GetProgress(ctx context.Context) (Progress, error) {
	var p Progress

	err := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Select(
			"COUNT(*) AS total_files, "+
				"COALESCE(SUM(size), 0) AS total_bytes, "+
				"COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0) AS completed_files, "+
				"COALESCE(SUM(CASE WHEN state = ? THEN size ELSE 0 END), 0) AS completed_bytes",
			model.StateDeleted, model.StateDeleted,
		).
		Scan(&p).Error
	if err != nil {
		return Progress{}, fmt.Errorf("progress: %w", err)
	}

	return p, nil
}

// HasPending 是否仍有未到终态的文件.
func (s *Store) HasPending(ctx context.Context) (bool, error) {
	var count int64

	err := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where("state <> ?", model.StateDeleted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("has pending: %w", err)
	}

	return count > 0, nil
}

// Buckets 数据库中出现过的所有 bucket.
func (s *Store) Buckets(ctx context.Context) ([]string, error) {
	var buckets []string

	err := s.db.WithContext(ctx).Model(&model.FileRecord{}).
		Distinct("bucket").Order("bucket").
		Pluck("bucket", &buckets).Error
	if err != nil {
		return nil, fmt.Errorf("buckets: %w", err)
	}

	return buckets, nil
}

// MarkBucketScanned 标记一个 bucket 的完整列举已结束.
func (s *Store) MarkBucketScanned(ctx context.Context, bucket string, fileCount, totalSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := model.ScannedBucket{
		Bucket:    bucket,
		FileCount: fileCount,
		TotalSize: totalSize,
		ScannedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark bucket scanned %s: %w", bucket, err)
	}

	return nil
}

// IsBucketScanned bucket 是否已完成过完整列举.
func (s *Store) IsBucketScanned(ctx context.Context, bucket string) (bool, error) {
	var count int64

	err := s.db.WithContext(ctx).Model(&model.ScannedBucket{}).
		Where("bucket = ?", bucket).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("is bucket scanned %s: %w", bucket, err)
	}

	return count > 0, nil
}

// ForgetBucketScan 删除 bucket 的扫描完成标记，用于显式重扫.
func (s *Store) ForgetBucketScan(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).
		Where("bucket = ?", bucket).
		Delete(&model.ScannedBucket{}).Error
	if err != nil {
		return fmt.Errorf("forget bucket scan %s: %w", bucket, err)
	}

	return nil
}

// ScannedBuckets 所有已扫描 bucket 及统计.
func (s *Store) ScannedBuckets(ctx context.Context) ([]model.ScannedBucket, error) {
	var recs []model.ScannedBucket

	if err := s.db.WithContext(ctx).Order("bucket").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("scanned buckets: %w", err)
	}

	return recs, nil
}

// SetMetadata 写入元数据键值（upsert）.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := model.MigrationMetadata{Key: key, Value: value, UpdatedAt: time.Now().UTC()}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}

	return nil
}

// GetMetadata 读取元数据，不存在时返回空串.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var rec model.MigrationMetadata

	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}

	return rec.Value, nil
}

// ClearAll 清空全部迁移状态，用于 reset-state.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.FileRecord{}, &model.ScannedBucket{}, &model.MigrationMetadata{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
				return fmt.Errorf("clear state: %w", err)
			}
		}

		return nil
	})
}
