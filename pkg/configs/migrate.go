package configs

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultLocalBasePath      = "./s3-archive"   // 下载目标根目录
	DefaultWorkers            = 8                // 并发下载 worker 数
	DefaultBatchSize          = 64               // 每轮派发的文件批大小
	DefaultMultipartThreshold = 64 * 1024 * 1024 // 超过该大小启用分段并发下载
	DefaultMultipartPartSize  = 16 * 1024 * 1024 // 分段大小
	DefaultMultipartWorkers   = 4                // 单对象分段并发数
	DefaultRestoreTier        = "Standard"       // Glacier 恢复速度（Expedited/Standard/Bulk）
	DefaultRestoreDays        = 7                // 恢复副本保留天数
	DefaultMaxRestoresPerRun  = 500              // 每轮最多发起的恢复请求数
	DefaultRestorePollSecs    = 60               // 恢复状态轮询间隔（秒）
	DefaultProgressSecs       = 5                // 进度打印间隔（秒）
	DefaultThrottleBaseSecs   = 1                // 限流退避基数（秒）
	DefaultThrottleMaxSecs    = 300              // 限流退避上限（秒）
	DefaultRequestsPerSecond  = 0                // 客户端请求速率上限，0 表示不限
	DefaultBatchUpdates       = false            // 状态更新是否批量提交（见 DESIGN.md）
	DefaultReloadConfig       = false            // 是否启用配置热重载
)

// MigrateConfig 迁移行为配置.
type MigrateConfig struct {
	LocalBasePath      string `mapstructure:"local_base_path"`
	Workers            int    `mapstructure:"workers"              rule:"min=1,max=256"`
	BatchSize          int    `mapstructure:"batch_size"           rule:"min=1"`
	MultipartThreshold int64  `mapstructure:"multipart_threshold"  rule:"min=1"`
	MultipartPartSize  int64  `mapstructure:"multipart_part_size"  rule:"min=1"`
	MultipartWorkers   int    `mapstructure:"multipart_workers"    rule:"min=1,max=64"`
	RestoreTier        string `mapstructure:"restore_tier"         rule:"oneof=Expedited Standard Bulk"`
	RestoreDays        int    `mapstructure:"restore_days"         rule:"min=1,max=365"`
	MaxRestoresPerRun  int    `mapstructure:"max_restores_per_run" rule:"min=1"`
	RestorePollSecs    int    `mapstructure:"restore_poll_secs"    rule:"min=1"`
	ProgressSecs       int    `mapstructure:"progress_secs"        rule:"min=1"`
	ThrottleBaseSecs   int    `mapstructure:"throttle_base_secs"   rule:"min=1"`
	ThrottleMaxSecs    int    `mapstructure:"throttle_max_secs"    rule:"min=1"`
	RequestsPerSecond  int    `mapstructure:"requests_per_second"  rule:"min=0"`
	BatchUpdates       bool   `mapstructure:"batch_updates"`
	ReloadConfig       bool   `mapstructure:"reload_config"`
}

// RestorePollInterval 恢复状态轮询间隔.
func (c *MigrateConfig) RestorePollInterval() time.Duration {
	return time.Duration(c.RestorePollSecs) * time.Second
}

// ProgressInterval 进度打印间隔.
func (c *MigrateConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressSecs) * time.Second
}

// ThrottleBase 限流退避基数.
func (c *MigrateConfig) ThrottleBase() time.Duration {
	return time.Duration(c.ThrottleBaseSecs) * time.Second
}

// ThrottleMax 限流退避上限.
func (c *MigrateConfig) ThrottleMax() time.Duration {
	return time.Duration(c.ThrottleMaxSecs) * time.Second
}

// setDefaults 设置迁移配置的默认值.
func (c *MigrateConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("migrate.local_base_path", DefaultLocalBasePath)
	v.SetDefault("migrate.workers", DefaultWorkers)
	v.SetDefault("migrate.batch_size", DefaultBatchSize)
	v.SetDefault("migrate.multipart_threshold", DefaultMultipartThreshold)
	v.SetDefault("migrate.multipart_part_size", DefaultMultipartPartSize)
	v.SetDefault("migrate.multipart_workers", DefaultMultipartWorkers)
	v.SetDefault("migrate.restore_tier", DefaultRestoreTier)
	v.SetDefault("migrate.restore_days", DefaultRestoreDays)
	v.SetDefault("migrate.max_restores_per_run", DefaultMaxRestoresPerRun)
	v.SetDefault("migrate.restore_poll_secs", DefaultRestorePollSecs)
	v.SetDefault("migrate.progress_secs", DefaultProgressSecs)
	v.SetDefault("migrate.throttle_base_secs", DefaultThrottleBaseSecs)
	v.SetDefault("migrate.throttle_max_secs", DefaultThrottleMaxSecs)
	v.SetDefault("migrate.requests_per_second", DefaultRequestsPerSecond)
	v.SetDefault("migrate.batch_updates", DefaultBatchUpdates)
	v.SetDefault("migrate.reload_config", DefaultReloadConfig)
}
