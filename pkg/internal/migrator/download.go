package migrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/yeisme/bucketdrain/pkg/internal/model"
)

// download 把对象下载到 localPath. 小对象整体拉取，
// 超过阈值的对象按 Range 分段并行拉取后原子落盘.
func (m *Migrator) download(ctx context.Context, rec *model.FileRecord, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}

	if rec.Size < m.cfg.MultipartThreshold {
		return m.client.FGetObject(ctx, rec.Bucket, rec.Key, localPath)
	}

	return m.downloadMultipart(ctx, rec, localPath)
}

// downloadMultipart 分段并行下载. 写入 .part 临时文件，
// 全部分段成功后 rename，失败时不会留下半成品顶替正式路径.
func (m *Migrator) downloadMultipart(ctx context.Context, rec *model.FileRecord, localPath string) error {
	partPath := localPath + ".part"

	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create part file: %w", err)
	}

	if err := f.Truncate(rec.Size); err != nil {
		f.Close()
		os.Remove(partPath)

		return fmt.Errorf("truncate part file: %w", err)
	}

	partSize := m.cfg.MultipartPartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MultipartWorkers)

	for start := int64(0); start < rec.Size; start += partSize {
		end := start + partSize - 1
		if end >= rec.Size {
			end = rec.Size - 1
		}

		g.Go(func() error {
			return m.downloadPart(gctx, rec, f, start, end)
		})
	}

	if err := g.Wait(); err != nil {
		f.Close()
		os.Remove(partPath)

		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(partPath)

		return fmt.Errorf("close part file: %w", err)
	}

	if err := os.Rename(partPath, localPath); err != nil {
		os.Remove(partPath)

		return fmt.Errorf("finalize download: %w", err)
	}

	return nil
}

// downloadPart 拉取 [start, end] 区间并写入文件对应偏移.
// 并发的 WriteAt 互不重叠，单个文件句柄可安全共享.
func (m *Migrator) downloadPart(ctx context.Context, rec *model.FileRecord, f *os.File, start, end int64) error {
	body, err := m.client.GetObjectRange(ctx, rec.Bucket, rec.Key, start, end)
	if err != nil {
		return err
	}
	defer body.Close()

	n, err := io.Copy(io.NewOffsetWriter(f, start), body)
	if err != nil {
		return fmt.Errorf("write part %d-%d: %w", start, end, err)
	}

	if want := end - start + 1; n != want {
		return fmt.Errorf("part %d-%d: short read, got %d of %d bytes", start, end, n, want)
	}

	return nil
}
