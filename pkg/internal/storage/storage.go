// Package storage 聚合状态数据库与对象存储客户端.
//
// Example:
//
// 初始化
//
//	 ctx := context.Background()
//	 mgr, err := storage.Init(ctx)
//
//		if err != nil {
//		    // 处理错误
//		}
//
// 获取存储客户端
//
//	s3Client := mgr.GetS3Client()
//	dbClient := mgr.GetDBClient()
package storage

import (
	"context"
	"sync"

	"github.com/yeisme/bucketdrain/pkg/configs"
	dbc "github.com/yeisme/bucketdrain/pkg/internal/storage/db"
	s3c "github.com/yeisme/bucketdrain/pkg/internal/storage/s3"
	nlog "github.com/yeisme/bucketdrain/pkg/log"
)

// Manager 聚合所有存储资源.
type Manager struct {
	S3 *s3c.Client
	DB *dbc.Client
}

var (
	mgr     *Manager
	mgrOnce sync.Once
)

// Init 初始化默认存储，使用全局配置. 重复调用只返回已初始化实例.
func Init(ctx context.Context) (*Manager, error) {
	var err error

	mgrOnce.Do(func() {
		cfg := configs.GetConfig()
		m := &Manager{}

		// DB
		dbi, e := dbc.New(ctx, &cfg.DB)
		if e != nil {
			err = e

			return
		}

		m.DB = dbi

		// S3
		s3i, e := s3c.New(ctx, &cfg.S3)
		if e != nil {
			err = e

			return
		}

		m.S3 = s3i

		mgr = m

		nlog.Logger().Info().Msg("storage manager initialized")
	})

	return mgr, err
}

// GetS3Client 获取 S3 客户端.
func (m *Manager) GetS3Client() *s3c.Client {
	return m.S3
}

// GetDBClient 获取 DB 客户端.
func (m *Manager) GetDBClient() *dbc.Client {
	return m.DB
}
