package configs

import (
	"fmt"

	"github.com/spf13/viper"
)

// S3Config 对象存储（源端）配置.
type S3Config struct {
	Endpoint        string   `mapstructure:"endpoint"`
	AccessKeyID     string   `mapstructure:"access_key_id"`
	SecretAccessKey string   `mapstructure:"secret_access_key"`
	UseSSL          bool     `mapstructure:"use_ssl"`
	Region          string   `mapstructure:"region"`
	Buckets         []string `mapstructure:"buckets"`          // 要迁移的 bucket，空表示账号下全部
	ExcludedBuckets []string `mapstructure:"excluded_buckets"` // 永不迁移的 bucket
}

const (
	DefaultS3Endpoint        = "s3.amazonaws.com" // 默认S3端点
	DefaultS3AccessKeyID     = ""                 // 默认访问密钥ID（通常走环境变量）
	DefaultS3SecretAccessKey = ""                 // 默认秘密访问密钥
	DefaultS3UseSSL          = true               // 默认是否使用SSL
	DefaultS3Region          = "us-east-1"        // 默认区域
)

// GetEndpointURL 获取完整的端点URL.
func (c *S3Config) GetEndpointURL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s", scheme, c.Endpoint)
}

// IsExcluded 判断 bucket 是否在排除列表中.
func (c *S3Config) IsExcluded(bucket string) bool {
	for _, b := range c.ExcludedBuckets {
		if b == bucket {
			return true
		}
	}

	return false
}

// setDefaults 设置 S3 配置的默认值.
func (c *S3Config) setDefaults(v *viper.Viper) {
	v.SetDefault("s3.endpoint", DefaultS3Endpoint)
	v.SetDefault("s3.access_key_id", DefaultS3AccessKeyID)
	v.SetDefault("s3.secret_access_key", DefaultS3SecretAccessKey)
	v.SetDefault("s3.use_ssl", DefaultS3UseSSL)
	v.SetDefault("s3.region", DefaultS3Region)
	v.SetDefault("s3.buckets", []string{})
	v.SetDefault("s3.excluded_buckets", []string{})
}
