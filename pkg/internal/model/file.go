// Package model 定义迁移状态数据库的 GORM 模型.
package model

import (
	"time"
)

// FileState 文件生命周期状态.
type FileState string

const (
	StateDiscovered       FileState = "discovered"        // 已发现，等待下载
	StateRestoreRequested FileState = "restore_requested" // 已发起归档恢复请求
	StateRestoring        FileState = "restoring"         // 归档恢复进行中
	StateDownloading      FileState = "downloading"       // 下载中
	StateDownloaded       FileState = "downloaded"        // 已下载，等待校验
	StateVerified         FileState = "verified"          // 校验通过，等待删除远端
	StateDeleted          FileState = "deleted"           // 远端已删除，迁移完成（终态）
	StateError            FileState = "error"             // 出错，需人工处理或重试
)

// AllStates 状态展示顺序.
var AllStates = []FileState{
	StateDiscovered,
	StateRestoreRequested,
	StateRestoring,
	StateDownloading,
	StateDownloaded,
	StateVerified,
	StateDeleted,
	StateError,
}

// IsTerminal 是否为终态. deleted 之后不再有任何状态转移.
func (s FileState) IsTerminal() bool {
	return s == StateDeleted
}

// FileRecord 每个远端对象一行，(bucket, key) 为主键.
// Size 在发现时写入后不可变更，是后续校验的唯一依据.
// 记录从不删除，deleted 终态行保留作审计.
type FileRecord struct {
	Bucket       string    `gorm:"primaryKey;size:255"             json:"bucket"`
	Key          string    `gorm:"primaryKey;size:1024"            json:"key"`
	Size         int64     `gorm:"not null"                        json:"size"`
	ETag         string    `gorm:"size:64"                         json:"etag"`
	StorageClass string    `gorm:"size:64;index:idx_storage_class" json:"storage_class"`
	// 来自对象存储的最后修改时间
	LastModified time.Time  `json:"last_modified"`
	LocalPath    string     `gorm:"size:2048"                json:"local_path"`
	State        FileState  `gorm:"size:32;index:idx_state;not null" json:"state"`
	ErrorMessage string     `gorm:"type:text"                json:"error_message"`
	Checksum     string     `gorm:"size:64"                  json:"checksum"`
	// 发起归档恢复请求的时间，未发起时为空
	RestoreRequestedAt *time.Time `json:"restore_requested_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName 指定表名.
func (FileRecord) TableName() string {
	return "files"
}

// ScannedBucket 标记一个 bucket 的完整列举已完成.
// 只有整个分页列举无错误结束后才写入，存在即表示后续运行可以跳过该 bucket.
type ScannedBucket struct {
	Bucket    string    `gorm:"primaryKey;size:255" json:"bucket"`
	FileCount int64     `gorm:"not null"            json:"file_count"`
	TotalSize int64     `gorm:"not null"            json:"total_size"`
	ScannedAt time.Time `gorm:"not null"            json:"scanned_at"`
}

// TableName 指定表名.
func (ScannedBucket) TableName() string {
	return "scanned_buckets"
}

// MigrationMetadata 进程级键值元数据（如 migration_start_time）.
type MigrationMetadata struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null"  json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名.
func (MigrationMetadata) TableName() string {
	return "migration_metadata"
}
