// Package progress 聚合并展示迁移进度：耗时、吞吐、ETA 与分状态统计.
package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yeisme/bucketdrain/pkg/internal/model"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
	"github.com/yeisme/bucketdrain/pkg/log"
)

// Reporter 迁移进度报告器. 吞吐与 ETA 基于两次采样之间的增量.
type Reporter struct {
	store  *state.Store
	logger zerolog.Logger

	sessionStart time.Time
	lastSample   time.Time
	lastBytes    int64
}

// Snapshot 一次进度采样.
type Snapshot struct {
	Progress     state.Progress
	States       map[model.FileState]state.StateStat
	TotalElapsed time.Duration // 自迁移首次启动（持久化的起点）
	SessionTime  time.Duration // 本次进程运行时间
	Throughput   float64       // 当前区间吞吐，字节/秒
	ETA          time.Duration // 0 表示尚无法估算
}

// NewReporter 创建报告器，以当前时刻为会话起点.
func NewReporter(store *state.Store) *Reporter {
	now := time.Now()

	return &Reporter{
		store:        store,
		logger:       log.Logger().With().Str("component", "progress").Logger(),
		sessionStart: now,
		lastSample:   now,
	}
}

// Sample 采样当前进度并更新吞吐基线.
func (r *Reporter) Sample(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	p, err := r.store.GetProgress(ctx)
	if err != nil {
		return snap, err
	}

	stats, err := r.store.Statistics(ctx)
	if err != nil {
		return snap, err
	}

	now := time.Now()
	snap.Progress = p
	snap.States = stats
	snap.SessionTime = now.Sub(r.sessionStart)
	snap.TotalElapsed = snap.SessionTime

	// 持久化的迁移起点跨进程累计耗时
	startStr, err := r.store.GetMetadata(ctx, state.MetaMigrationStartTime)
	if err == nil && startStr != "" {
		if start, perr := time.Parse(time.RFC3339, startStr); perr == nil {
			snap.TotalElapsed = now.Sub(start)
		}
	}

	if dt := now.Sub(r.lastSample).Seconds(); dt > 0 {
		snap.Throughput = float64(p.CompletedBytes-r.lastBytes) / dt
	}

	if snap.Throughput > 0 && p.CompletedBytes < p.TotalBytes {
		remaining := float64(p.TotalBytes - p.CompletedBytes)
		snap.ETA = time.Duration(remaining / snap.Throughput * float64(time.Second))
	}

	r.lastSample = now
	r.lastBytes = p.CompletedBytes

	return snap, nil
}

// Report 采样并输出一条结构化进度日志.
func (r *Reporter) Report(ctx context.Context) error {
	snap, err := r.Sample(ctx)
	if err != nil {
		return err
	}

	ev := r.logger.Info().
		Int64("files_done", snap.Progress.CompletedFiles).
		Int64("files_total", snap.Progress.TotalFiles).
		Str("data_done", FormatSize(float64(snap.Progress.CompletedBytes))).
		Str("data_total", FormatSize(float64(snap.Progress.TotalBytes))).
		Str("throughput", FormatSize(snap.Throughput)+"/s").
		Str("elapsed", FormatDuration(snap.TotalElapsed))

	if snap.ETA > 0 {
		ev = ev.Str("eta", FormatDuration(snap.ETA))
	}

	ev.Msg("migration progress")

	return nil
}

// WriteStatus 输出人类可读的完整状态报告，供 status 命令使用.
func (r *Reporter) WriteStatus(ctx context.Context, w io.Writer) error {
	snap, err := r.Sample(ctx)
	if err != nil {
		return err
	}

	p := snap.Progress

	var filePct, bytePct float64
	if p.TotalFiles > 0 {
		filePct = float64(p.CompletedFiles) / float64(p.TotalFiles) * 100
	}

	if p.TotalBytes > 0 {
		bytePct = float64(p.CompletedBytes) / float64(p.TotalBytes) * 100
	}

	line := strings.Repeat("=", 70)

	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "MIGRATION PROGRESS")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Elapsed:   %s\n", FormatDuration(snap.TotalElapsed))

	if snap.ETA > 0 {
		fmt.Fprintf(w, "ETA:       %s\n", FormatDuration(snap.ETA))
	}

	fmt.Fprintf(w, "Files:     %d / %d (%.1f%%)\n", p.CompletedFiles, p.TotalFiles, filePct)
	fmt.Fprintf(w, "Data:      %s / %s (%.1f%%)\n",
		FormatSize(float64(p.CompletedBytes)), FormatSize(float64(p.TotalBytes)), bytePct)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Status breakdown:")

	for _, st := range model.AllStates {
		stat, ok := snap.States[st]
		if !ok {
			continue
		}

		fmt.Fprintf(w, "  %-20s %8d files  %12s\n",
			strings.ReplaceAll(string(st), "_", " "), stat.Count, FormatSize(float64(stat.Size)))
	}

	fmt.Fprintln(w, line)

	return nil
}

// FormatSize 字节数转人类可读（1024 进制）.
func FormatSize(size float64) string {
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}

		size /= 1024
	}

	return fmt.Sprintf("%.2f PB", size)
}

// FormatDuration 时长转人类可读.
func FormatDuration(d time.Duration) string {
	secs := int64(d.Seconds())

	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	case secs < 86400:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	default:
		return fmt.Sprintf("%dd %dh", secs/86400, (secs%86400)/3600)
	}
}
