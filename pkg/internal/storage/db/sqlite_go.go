//go:build !no_sqlite

package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yeisme/bucketdrain/pkg/configs"
)

// createSQLiteDialector 创建SQLite dialector（纯Go实现）.
func createSQLiteDialector(dsn string) gorm.Dialector {
	return sqlite.Open(dsn)
}

// 注册SQLite dialector工厂函数.
func init() {
	RegisterDialectorFactory(configs.SQLite, createSQLiteDialector)
}
