package model

import (
	"time"

	"gorm.io/gorm"
)

// User 记录每个聊天用户的流量统计和缩略图
type User struct {
	gorm.Model
	UserID     int64  `gorm:"uniqueIndex"` // Telegram user id
	Downloaded int64  // 累计下载字节
	Uploaded   int64  // 累计上传字节
	Thumbnail  []byte // 上传时使用的自定义缩略图 (JPEG)
}

// WatchHistory 观看进度，(user_id, anime) 唯一
type WatchHistory struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    int64  `gorm:"uniqueIndex:idx_user_anime"`
	Anime     string `gorm:"uniqueIndex:idx_user_anime"` // 解析出的番剧名
	LastEp    int    // 最近一次上传的集数
	UpdatedAt time.Time
}

// UploadLog 记录每个成功上传的文件
type UploadLog struct {
	gorm.Model
	UserID   int64 `gorm:"index"`
	FileName string
	Size     int64
	Anime    string // 解析失败时为空
	Episode  int
}
