// Package metrics 提供监控指标功能.
// 支持Prometheus标准，收集迁移过程中的文件与字节计数.
//
// Example:
//
//	import "github.com/yeisme/bucketdrain/pkg/metrics"
//
//	err := metrics.InitMetrics(config.Metrics)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// 记录指标
//	metrics.FilesMigrated.Inc()
//	metrics.BytesDownloaded.Add(float64(n))
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yeisme/bucketdrain/pkg/configs"
	nlog "github.com/yeisme/bucketdrain/pkg/log"
)

// 全局指标变量.
var (
	// FilesDiscovered 扫描发现的文件计数.
	FilesDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdrain_files_discovered_total",
			Help: "Total number of files discovered during scanning",
		},
	)

	// FilesMigrated 完成迁移（远端已删除）的文件计数.
	FilesMigrated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdrain_files_migrated_total",
			Help: "Total number of files fully migrated (remote copy deleted)",
		},
	)

	// FilesErrored 进入 error 状态的文件计数.
	FilesErrored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdrain_files_errored_total",
			Help: "Total number of files that entered the error state",
		},
	)

	// BytesDownloaded 已下载字节计数.
	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdrain_bytes_downloaded_total",
			Help: "Total number of bytes downloaded from source buckets",
		},
	)

	// RestoreRequests 发起的归档恢复请求计数.
	RestoreRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdrain_restore_requests_total",
			Help: "Total number of archival restore requests issued",
		},
	)

	// ThrottleEvents 识别到的限流事件计数.
	ThrottleEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketdrain_throttle_events_total",
			Help: "Total number of rate-limit responses from the object store",
		},
	)

	// ActiveWorkers 当前正在处理文件的 worker 数.
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bucketdrain_active_workers",
			Help: "Number of workers currently processing a file",
		},
	)

	// registry Prometheus注册表.
	registry = prometheus.NewRegistry()
)

// InitMetrics 初始化Metrics.
func InitMetrics(config configs.MetricsConfig) error {
	if !config.Enabled {
		return nil
	}

	// 注册标准收集器
	if config.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// 注册自定义指标
	registry.MustRegister(
		FilesDiscovered, FilesMigrated, FilesErrored,
		BytesDownloaded, RestoreRequests, ThrottleEvents, ActiveWorkers,
	)

	return nil
}

// Registry 返回内部注册表，供 GORM 插件等复用.
func Registry() *prometheus.Registry {
	return registry
}

// StartMetricsServer 启动Metrics HTTP服务器. 非阻塞，失败只记录日志，
// 指标暴露从不影响迁移本身.
func StartMetricsServer(config configs.MetricsConfig) {
	if !config.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              config.Endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		nlog.Logger().Info().Str("endpoint", config.Endpoint).Msg("metrics server listening")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nlog.Logger().Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
