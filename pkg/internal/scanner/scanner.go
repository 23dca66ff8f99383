// Package scanner 枚举远端 bucket 中的对象并登记到状态存储.
// 扫描是安全可重入的：已存在的记录不会被覆盖，完整扫描过的
// bucket 会被标记并在后续运行中跳过.
package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/yeisme/bucketdrain/pkg/configs"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
	"github.com/yeisme/bucketdrain/pkg/log"
	"github.com/yeisme/bucketdrain/pkg/metrics"
)

// 每登记这么多对象打一条进度日志
const progressLogInterval = 10000

// ObjectLister 扫描所需的对象存储能力.
type ObjectLister interface {
	ListBuckets(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context, bucket string) <-chan minio.ObjectInfo
}

// Scanner bucket 扫描器.
type Scanner struct {
	lister ObjectLister
	store  *state.Store
	cfg    *configs.S3Config
	logger zerolog.Logger
}

// Summary 一次扫描的汇总.
type Summary struct {
	BucketsScanned int
	BucketsSkipped int
	Files          int64
	Bytes          int64
}

// NewScanner 创建扫描器.
func NewScanner(lister ObjectLister, store *state.Store, cfg *configs.S3Config) *Scanner {
	return &Scanner{
		lister: lister,
		store:  store,
		cfg:    cfg,
		logger: log.Logger().With().Str("component", "scanner").Logger(),
	}
}

// Scan 扫描给定 bucket. buckets 为空时扫描配置的全部 bucket，
// 配置也为空时列举账号下所有 bucket. rescan 为 true 时忽略
// 已扫描标记并重新完整列举（已有记录仍不会被覆盖）.
func (s *Scanner) Scan(ctx context.Context, buckets []string, rescan bool) (Summary, error) {
	var sum Summary

	if len(buckets) == 0 {
		buckets = s.cfg.Buckets
	}

	if len(buckets) == 0 {
		all, err := s.lister.ListBuckets(ctx)
		if err != nil {
			return sum, fmt.Errorf("list buckets: %w", err)
		}

		buckets = all
	}

	for _, bucket := range buckets {
		if s.cfg.IsExcluded(bucket) {
			s.logger.Info().Str("bucket", bucket).Msg("bucket excluded, skipping")
			sum.BucketsSkipped++

			continue
		}

		scanned, err := s.store.IsBucketScanned(ctx, bucket)
		if err != nil {
			return sum, err
		}

		if scanned && !rescan {
			s.logger.Info().Str("bucket", bucket).Msg("bucket already scanned, skipping")
			sum.BucketsSkipped++

			continue
		}

		if scanned && rescan {
			if err := s.store.ForgetBucketScan(ctx, bucket); err != nil {
				return sum, err
			}
		}

		files, bytes, err := s.scanBucket(ctx, bucket)
		if err != nil {
			return sum, fmt.Errorf("scan bucket %s: %w", bucket, err)
		}

		sum.BucketsScanned++
		sum.Files += files
		sum.Bytes += bytes
	}

	return sum, nil
}

// scanBucket 完整列举单个 bucket. 只有列举无错误走到结尾
// 才写入已扫描标记，中途失败则下次运行从头再列举.
func (s *Scanner) scanBucket(ctx context.Context, bucket string) (int64, int64, error) {
	s.logger.Info().Str("bucket", bucket).Msg("scanning bucket")

	var (
		files int64
		bytes int64
	)

	for obj := range s.lister.ListObjects(ctx, bucket) {
		if obj.Err != nil {
			return files, bytes, obj.Err
		}

		// 目录占位对象不迁移
		if strings.HasSuffix(obj.Key, "/") && obj.Size == 0 {
			continue
		}

		storageClass := obj.StorageClass
		if storageClass == "" {
			storageClass = "STANDARD"
		}

		err := s.store.AddFile(ctx, bucket, obj.Key, obj.Size, strings.Trim(obj.ETag, `"`), storageClass, obj.LastModified)
		if err != nil {
			return files, bytes, err
		}

		metrics.FilesDiscovered.Inc()

		files++
		bytes += obj.Size

		if files%progressLogInterval == 0 {
			s.logger.Info().
				Str("bucket", bucket).
				Int64("files", files).
				Int64("bytes", bytes).
				Msg("scan progress")
		}
	}

	if err := ctx.Err(); err != nil {
		return files, bytes, err
	}

	if err := s.store.MarkBucketScanned(ctx, bucket, files, bytes); err != nil {
		return files, bytes, err
	}

	s.logger.Info().
		Str("bucket", bucket).
		Int64("files", files).
		Int64("bytes", bytes).
		Msg("bucket scan complete")

	return files, bytes, nil
}
