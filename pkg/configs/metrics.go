package configs

import (
	"github.com/spf13/viper"
)

// MetricsConfig 指标相关配置. 启用后 migrate 运行期间在 Endpoint
// 暴露 Prometheus 格式指标.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`         // 是否启用Metrics
	Endpoint       string `mapstructure:"endpoint"`        // 暴露端点
	RuntimeMetrics bool   `mapstructure:"runtime_metrics"` // 是否收集运行时指标
}

// setDefaults 设置Metrics配置的默认值.
func (c *MetricsConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.endpoint", "127.0.0.1:9090")
	v.SetDefault("metrics.runtime_metrics", true)
}
