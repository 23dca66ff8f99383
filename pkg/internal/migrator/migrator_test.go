package migrator

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeisme/bucketdrain/pkg/configs"
	"github.com/yeisme/bucketdrain/pkg/internal/model"
	s3c "github.com/yeisme/bucketdrain/pkg/internal/storage/s3"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
)

// fakeObjectStore 内存对象存储. content[bucket/key] 为对象内容，
// 各注入点可返回指定错误.
type fakeObjectStore struct {
	content   map[string][]byte
	removed   map[string]bool
	getErr    error
	rangeErr  error
	readErr   error // 分段读取中途返回的错误，模拟传输中断
	removeErr error
	// truncateTo > 0 时 FGetObject 只写出前这么多字节，模拟截断下载
	truncateTo int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		content: map[string][]byte{},
		removed: map[string]bool{},
	}
}

func (f *fakeObjectStore) FGetObject(_ context.Context, bucket, key, filePath string) error {
	if f.getErr != nil {
		return f.getErr
	}

	data := f.content[bucket+"/"+key]
	if f.truncateTo > 0 && f.truncateTo < len(data) {
		data = data[:f.truncateTo]
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0o644)
}

func (f *fakeObjectStore) GetObjectRange(_ context.Context, bucket, key string, start, end int64) (io.ReadCloser, error) {
	if f.rangeErr != nil {
		return nil, f.rangeErr
	}

	data := f.content[bucket+"/"+key]
	if end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}

	if f.readErr != nil {
		return &failingReader{err: f.readErr}, nil
	}

	return io.NopCloser(bytes.NewReader(data[start : end+1])), nil
}

// failingReader 首次 Read 即返回 err 的流.
type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

func (r *failingReader) Close() error { return nil }

func (f *fakeObjectStore) RemoveObject(_ context.Context, bucket, key string) error {
	if f.removeErr != nil {
		return f.removeErr
	}

	f.removed[bucket+"/"+key] = true

	return nil
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	s, err := state.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	return s
}

func testConfig(t *testing.T) *configs.MigrateConfig {
	t.Helper()

	return &configs.MigrateConfig{
		LocalBasePath:      t.TempDir(),
		MultipartThreshold: 1 << 20,
		MultipartPartSize:  64,
		MultipartWorkers:   4,
		ThrottleBaseSecs:   1,
		ThrottleMaxSecs:    300,
	}
}

func addFile(t *testing.T, s *state.Store, fake *fakeObjectStore, bucket, key string, content []byte) *model.FileRecord {
	t.Helper()

	fake.content[bucket+"/"+key] = content

	if err := s.AddFile(context.Background(), bucket, key, int64(len(content)), "etag", "STANDARD", time.Now()); err != nil {
		t.Fatalf("add file: %v", err)
	}

	rec, err := s.GetFile(context.Background(), bucket, key)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	return rec
}

func TestProcessHappyPath(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()
	m := NewMigrator(fake, store, testConfig(t))
	ctx := context.Background()

	rec := addFile(t, store, fake, "photos", "2024/a.jpg", []byte("hello world"))

	if err := m.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.GetFile(ctx, "photos", "2024/a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if got.State != model.StateDeleted {
		t.Errorf("state = %s", got.State)
	}

	if got.Checksum == "" || got.LocalPath == "" {
		t.Errorf("record = %+v", got)
	}

	if !fake.removed["photos/2024/a.jpg"] {
		t.Error("remote object not removed after verify")
	}

	data, err := os.ReadFile(got.LocalPath)
	if err != nil {
		t.Fatalf("read local copy: %v", err)
	}

	if string(data) != "hello world" {
		t.Errorf("local content = %q", data)
	}
}

func TestProcessTruncatedDownloadNeverDeletesRemote(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()
	fake.truncateTo = 5
	m := NewMigrator(fake, store, testConfig(t))
	ctx := context.Background()

	rec := addFile(t, store, fake, "photos", "a.jpg", []byte("hello world"))

	if err := m.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.GetFile(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if got.State != model.StateError {
		t.Errorf("state = %s, want error", got.State)
	}

	if !strings.Contains(got.ErrorMessage, "size mismatch") {
		t.Errorf("error message = %q", got.ErrorMessage)
	}

	if fake.removed["photos/a.jpg"] {
		t.Error("remote deleted despite failed verification")
	}

	// 损坏的本地副本必须被清掉
	if _, err := os.Stat(m.LocalPath(rec)); !os.IsNotExist(err) {
		t.Error("corrupt local copy left behind")
	}
}

func TestProcessRateLimitedDownload(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()
	fake.getErr = &s3c.OpError{Op: "download", Kind: s3c.KindRateLimited, Code: "SlowDown", Message: "slow down"}
	m := NewMigrator(fake, store, testConfig(t))
	ctx := context.Background()

	rec := addFile(t, store, fake, "photos", "a.jpg", []byte("hello"))

	if err := m.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.GetFile(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	// 限流不是失败：回到 discovered 等待重试
	if got.State != model.StateDiscovered {
		t.Errorf("state = %s, want discovered", got.State)
	}

	if m.Throttle().Counter() != 1 {
		t.Errorf("throttle counter = %d", m.Throttle().Counter())
	}

	// 限流消退后重试成功，退避计数清零
	fake.getErr = nil

	got, err = store.GetFile(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if err := m.Process(ctx, got); err != nil {
		t.Fatalf("retry process: %v", err)
	}

	got, err = store.GetFile(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if got.State != model.StateDeleted {
		t.Errorf("state after retry = %s", got.State)
	}

	if m.Throttle().Counter() != 0 {
		t.Errorf("throttle counter = %d after success", m.Throttle().Counter())
	}
}

func TestProcessRateLimitedMidTransfer(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()
	fake.readErr = &s3c.OpError{Op: "get", Kind: s3c.KindRateLimited, Code: "SlowDown", Message: "slow down"}

	cfg := testConfig(t)
	cfg.MultipartThreshold = 10
	m := NewMigrator(fake, store, cfg)
	ctx := context.Background()

	rec := addFile(t, store, fake, "big", "blob.bin", bytes.Repeat([]byte("x"), 100))

	if err := m.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.GetFile(ctx, "big", "blob.bin")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	// 传输中途的限流和打开时的限流一样处理：退避重排，不落 error
	if got.State != model.StateDiscovered {
		t.Errorf("state = %s, want discovered", got.State)
	}

	if m.Throttle().Counter() != 1 {
		t.Errorf("throttle counter = %d", m.Throttle().Counter())
	}
}

func TestProcessRateLimitedDeleteKeepsVerified(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()
	fake.removeErr = &s3c.OpError{Op: "delete", Kind: s3c.KindRateLimited, Code: "SlowDown", Message: "slow down"}
	m := NewMigrator(fake, store, testConfig(t))
	ctx := context.Background()

	rec := addFile(t, store, fake, "photos", "a.jpg", []byte("hello"))

	if err := m.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.GetFile(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	// 本地副本已校验通过，下次只需重试删除
	if got.State != model.StateVerified {
		t.Errorf("state = %s, want verified", got.State)
	}

	if _, err := os.Stat(m.LocalPath(rec)); err != nil {
		t.Errorf("verified local copy missing: %v", err)
	}
}

func TestSuccessfulDownloadResetsThrottle(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()
	m := NewMigrator(fake, store, testConfig(t))
	ctx := context.Background()

	// 先用限流下载把退避计数抬到 1
	fake.getErr = &s3c.OpError{Op: "download", Kind: s3c.KindRateLimited, Code: "SlowDown", Message: "slow down"}
	recA := addFile(t, store, fake, "photos", "a.jpg", []byte("aaa"))

	if err := m.Process(ctx, recA); err != nil {
		t.Fatalf("process a: %v", err)
	}

	if m.Throttle().Counter() != 1 {
		t.Fatalf("throttle counter = %d, want 1", m.Throttle().Counter())
	}

	// 第二个文件下载成功但删除限流：成功调用已清零计数，
	// 删除的退避从头数起，而不是在旧计数上累加
	fake.getErr = nil
	fake.removeErr = &s3c.OpError{Op: "delete", Kind: s3c.KindRateLimited, Code: "SlowDown", Message: "slow down"}
	recB := addFile(t, store, fake, "photos", "b.jpg", []byte("bbb"))

	if err := m.Process(ctx, recB); err != nil {
		t.Fatalf("process b: %v", err)
	}

	if m.Throttle().Counter() != 1 {
		t.Errorf("throttle counter = %d, want 1 (reset by successful download)", m.Throttle().Counter())
	}
}

func TestMultipartDownload(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()

	cfg := testConfig(t)
	cfg.MultipartThreshold = 100 // 强制走分段路径
	m := NewMigrator(fake, store, cfg)
	ctx := context.Background()

	content := bytes.Repeat([]byte("0123456789abcdef"), 40) // 640 字节，10 个分段
	rec := addFile(t, store, fake, "big", "blob.bin", content)

	if err := m.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := store.GetFile(ctx, "big", "blob.bin")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if got.State != model.StateDeleted {
		t.Errorf("state = %s", got.State)
	}

	data, err := os.ReadFile(m.LocalPath(rec))
	if err != nil {
		t.Fatalf("read local copy: %v", err)
	}

	if !bytes.Equal(data, content) {
		t.Error("multipart content differs from source")
	}

	// 临时 .part 文件不应残留
	if _, err := os.Stat(m.LocalPath(rec) + ".part"); !os.IsNotExist(err) {
		t.Error("part file left behind")
	}
}

func TestMultipartFailureLeavesNoFile(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeObjectStore()
	fake.rangeErr = &s3c.OpError{Op: "get", Kind: s3c.KindOther, Message: "connection reset"}

	cfg := testConfig(t)
	cfg.MultipartThreshold = 10
	m := NewMigrator(fake, store, cfg)
	ctx := context.Background()

	rec := addFile(t, store, fake, "big", "blob.bin", bytes.Repeat([]byte("x"), 100))

	if err := m.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := os.Stat(m.LocalPath(rec)); !os.IsNotExist(err) {
		t.Error("local file exists despite failed download")
	}

	if _, err := os.Stat(m.LocalPath(rec) + ".part"); !os.IsNotExist(err) {
		t.Error("part file left behind after failure")
	}
}

func TestVerifyChecksumStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")

	if err := os.WriteFile(path, []byte("stable content"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := checksumFile(path)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}

	b, err := checksumFile(path)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}

	if a != b || a == "" {
		t.Errorf("checksums: %q vs %q", a, b)
	}
}
