package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeisme/bucketdrain/pkg/internal/model"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
)

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

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0.00 B"},
		{512, "512.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
		{1099511627776, "1.00 TB"},
	}

	for _, c := range cases {
		if got := FormatSize(c.in); got != c.want {
			t.Errorf("FormatSize(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{3900 * time.Second, "1h 5m"},
		{90000 * time.Second, "1d 1h"},
	}

	for _, c := range cases {
		if got := FormatDuration(c.in); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSampleThroughputAndETA(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		if err := store.AddFile(ctx, "bk", key, 1000, "etag", "STANDARD", time.Now()); err != nil {
			t.Fatalf("add file: %v", err)
		}
	}

	r := NewReporter(store)

	// 首次采样建立基线
	snap, err := r.Sample(ctx)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	if snap.Progress.TotalFiles != 4 || snap.Progress.CompletedFiles != 0 {
		t.Errorf("snapshot = %+v", snap.Progress)
	}

	// 完成两个文件后再采样，吞吐与 ETA 应为正
	for _, key := range []string{"a", "b"} {
		if err := store.UpdateState(ctx, "bk", key, model.StateDeleted, state.UpdateFields{}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	time.Sleep(20 * time.Millisecond)

	snap, err = r.Sample(ctx)
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}

	if snap.Progress.CompletedFiles != 2 || snap.Progress.CompletedBytes != 2000 {
		t.Errorf("snapshot = %+v", snap.Progress)
	}

	if snap.Throughput <= 0 {
		t.Errorf("throughput = %v", snap.Throughput)
	}

	if snap.ETA <= 0 {
		t.Errorf("eta = %v", snap.ETA)
	}
}

func TestTotalElapsedFromMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Now().Add(-2 * time.Hour)
	if err := store.SetMetadata(ctx, state.MetaMigrationStartTime, start.Format(time.RFC3339)); err != nil {
		t.Fatalf("set metadata: %v", err)
	}

	r := NewReporter(store)

	snap, err := r.Sample(ctx)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	if snap.TotalElapsed < 2*time.Hour-time.Minute {
		t.Errorf("total elapsed = %v, want ~2h", snap.TotalElapsed)
	}

	if snap.SessionTime > time.Minute {
		t.Errorf("session time = %v", snap.SessionTime)
	}
}

func TestWriteStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddFile(ctx, "bk", "a", 100, "etag", "GLACIER", time.Now()); err != nil {
		t.Fatalf("add file: %v", err)
	}

	if err := store.AddFile(ctx, "bk", "b", 200, "etag", "STANDARD", time.Now()); err != nil {
		t.Fatalf("add file: %v", err)
	}

	if err := store.UpdateState(ctx, "bk", "b", model.StateDeleted, state.UpdateFields{}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var buf bytes.Buffer

	r := NewReporter(store)
	if err := r.WriteStatus(ctx, &buf); err != nil {
		t.Fatalf("write status: %v", err)
	}

	out := buf.String()

	for _, want := range []string{
		"Files:     1 / 2 (50.0%)",
		"discovered",
		"deleted",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}
