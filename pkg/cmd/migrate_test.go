package cmd

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
	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeisme/bucketdrain/pkg/configs"
	"github.com/yeisme/bucketdrain/pkg/internal/migrator"
	"github.com/yeisme/bucketdrain/pkg/internal/model"
	"github.com/yeisme/bucketdrain/pkg/internal/orchestrator"
	"github.com/yeisme/bucketdrain/pkg/internal/progress"
	"github.com/yeisme/bucketdrain/pkg/internal/restore"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
)

// fakeRemote 内存对象存储，同时充当下载端和恢复端.
type fakeRemote struct {
	content map[string][]byte
	removed map[string]bool
}

func (f *fakeRemote) FGetObject(_ context.Context, bucket, key, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	return os.WriteFile(filePath, f.content[bucket+"/"+key], 0o644)
}

func (f *fakeRemote) GetObjectRange(_ context.Context, bucket, key string, start, end int64) (io.ReadCloser, error) {
	data := f.content[bucket+"/"+key]
	if end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}

	return io.NopCloser(bytes.NewReader(data[start : end+1])), nil
}

func (f *fakeRemote) RemoveObject(_ context.Context, bucket, key string) error {
	f.removed[bucket+"/"+key] = true

	return nil
}

func (f *fakeRemote) StatObject(_ context.Context, _, key string) (minio.ObjectInfo, error) {
	return minio.ObjectInfo{Key: key}, nil
}

func (f *fakeRemote) RestoreObject(_ context.Context, _, _ string, _ int, _ minio.TierType) error {
	return nil
}

func newMigrateFixture(t *testing.T) (*state.Store, *orchestrator.Orchestrator, *progress.Reporter, *fakeRemote) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	store, err := state.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	cfg := &configs.MigrateConfig{
		LocalBasePath:      t.TempDir(),
		Workers:            2,
		BatchSize:          10,
		MultipartThreshold: 1 << 20,
		MultipartWorkers:   2,
		RestorePollSecs:    1,
		ProgressSecs:       1,
		ThrottleBaseSecs:   1,
		ThrottleMaxSecs:    5,
		MaxRestoresPerRun:  10,
		RestoreTier:        "Standard",
		RestoreDays:        7,
	}

	remote := &fakeRemote{content: map[string][]byte{}, removed: map[string]bool{}}
	m := migrator.NewMigrator(remote, store, cfg)
	r := restore.NewHandler(remote, store, cfg)
	rep := progress.NewReporter(store)

	return store, orchestrator.New(store, m, r, rep, cfg), rep, remote
}

func newMigrateCommand(input string, out io.Writer) *cobra.Command {
	c := &cobra.Command{}
	c.SetIn(strings.NewReader(input))
	c.SetOut(out)

	return c
}

func TestRunMigrateDeclinedLeavesStateUntouched(t *testing.T) {
	store, o, rep, remote := newMigrateFixture(t)
	ctx := context.Background()

	remote.content["photos/a.jpg"] = []byte("hello")
	if err := store.AddFile(ctx, "photos", "a.jpg", 5, "etag", "STANDARD", time.Now()); err != nil {
		t.Fatalf("add file: %v", err)
	}

	// 模拟上次运行中断在下载途中的文件
	if err := store.UpdateState(ctx, "photos", "a.jpg", model.StateDownloading, state.UpdateFields{}); err != nil {
		t.Fatalf("update state: %v", err)
	}

	var out bytes.Buffer
	if err := runMigrate(ctx, newMigrateCommand("n\n", &out), store, o, rep); err != nil {
		t.Fatalf("run migrate: %v", err)
	}

	if !strings.Contains(out.String(), "Aborted") {
		t.Errorf("output = %q", out.String())
	}

	// 拒绝启动时中断状态不能被重置，状态库不留任何副作用
	rec, err := store.GetFile(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if rec.State != model.StateDownloading {
		t.Errorf("state = %s, want downloading (untouched)", rec.State)
	}

	if runID, _ := store.GetMetadata(ctx, state.MetaMigrationRunID); runID != "" {
		t.Errorf("run id recorded despite decline: %q", runID)
	}

	if remote.removed["photos/a.jpg"] {
		t.Error("remote object removed despite decline")
	}
}

func TestRunMigrateConfirmedRecoversAndMigrates(t *testing.T) {
	store, o, rep, remote := newMigrateFixture(t)
	ctx := context.Background()

	remote.content["photos/a.jpg"] = []byte("hello")
	if err := store.AddFile(ctx, "photos", "a.jpg", 5, "etag", "STANDARD", time.Now()); err != nil {
		t.Fatalf("add file: %v", err)
	}

	if err := store.UpdateState(ctx, "photos", "a.jpg", model.StateDownloading, state.UpdateFields{}); err != nil {
		t.Fatalf("update state: %v", err)
	}

	var out bytes.Buffer
	if err := runMigrate(ctx, newMigrateCommand("y\n", &out), store, o, rep); err != nil {
		t.Fatalf("run migrate: %v", err)
	}

	if !strings.Contains(out.String(), "Reset 1 interrupted file(s)") {
		t.Errorf("output = %q", out.String())
	}

	rec, err := store.GetFile(ctx, "photos", "a.jpg")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}

	if rec.State != model.StateDeleted {
		t.Errorf("state = %s, want deleted", rec.State)
	}

	if !remote.removed["photos/a.jpg"] {
		t.Error("remote object not removed")
	}
}
