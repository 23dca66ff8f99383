// Package s3 处理对象存储操作，封装 MinIO 客户端并在此统一做错误分类.
package s3

import (
	"context"
	"io"
	"net/url"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yeisme/bucketdrain/pkg/configs"
	nlog "github.com/yeisme/bucketdrain/pkg/log"
)

// Client 包装 MinIO 客户端.
type Client struct {
	mc *minio.Client
}

// New 初始化 MinIO 客户端. 未配置静态密钥时走环境变量/共享凭证链.
func New(ctx context.Context, cfg *configs.S3Config) (*Client, error) {
	endpoint := cfg.Endpoint
	// 允许用户传完整 schema endpoint（http:// 或 https://）
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			cfg.UseSSL = true
		}
	}

	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
		})
	}

	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, classify("connect", err)
	}

	cli.SetAppInfo("bucketdrain", configs.AppVersion)

	nlog.Logger().Info().Str("endpoint", cfg.Endpoint).Msg("s3 connected")

	return &Client{mc: cli}, nil
}

// ListBuckets 列出账号下所有 bucket 名.
func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	infos, err := c.mc.ListBuckets(ctx)
	if err != nil {
		return nil, classify("list-buckets", err)
	}

	names := make([]string, 0, len(infos))
	for _, b := range infos {
		names = append(names, b.Name)
	}

	return names, nil
}

// ListObjects 递归列举 bucket 内全部对象. channel 中的 ObjectInfo.Err
// 由调用方检查，channel 在列举结束或 ctx 取消时关闭.
func (c *Client) ListObjects(ctx context.Context, bucket string) <-chan minio.ObjectInfo {
	return c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true})
}

// StatObject 查询对象元信息（含归档恢复进度）.
func (c *Client) StatObject(ctx context.Context, bucket, key string) (minio.ObjectInfo, error) {
	info, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return minio.ObjectInfo{}, classify("stat", err)
	}

	return info, nil
}

// GetObject 打开对象读取流，opts 可带 Range 用于分段下载.
func (c *Client) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, classify("get", err)
	}

	return obj, nil
}

// GetObjectRange 打开对象的 [start, end] 字节区间读取流，用于分段下载.
// minio 的 GetObject 是惰性的，真正的 HTTP 请求发生在首次 Read，
// 因此错误分类也要覆盖读取路径，返回的流在 Read 出错时同样产出 OpError.
func (c *Client) GetObjectRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, classify("get", err)
	}

	obj, err := c.mc.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, classify("get", err)
	}

	return &classifyReader{ReadCloser: obj, op: "get"}, nil
}

// classifyReader 在 Read 路径上做错误分类的流包装.
type classifyReader struct {
	io.ReadCloser
	op string
}

func (r *classifyReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, classify(r.op, err)
	}

	return n, err
}

// FGetObject 下载对象到本地文件.
func (c *Client) FGetObject(ctx context.Context, bucket, key, filePath string) error {
	return classify("download", c.mc.FGetObject(ctx, bucket, key, filePath, minio.GetObjectOptions{}))
}

// RemoveObject 删除远端对象.
func (c *Client) RemoveObject(ctx context.Context, bucket, key string) error {
	return classify("delete", c.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

// RestoreObject 发起归档恢复请求.
func (c *Client) RestoreObject(ctx context.Context, bucket, key string, days int, tier minio.TierType) error {
	req := minio.RestoreRequest{}
	req.SetDays(days)
	req.SetGlacierJobParameters(minio.GlacierJobParameters{Tier: tier})

	return classify("restore", c.mc.RestoreObject(ctx, bucket, key, "", req))
}

// HealthCheck 简单的健康检查，通过列出桶来验证连接.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.mc.ListBuckets(ctx)

	return classify("health", err)
}
