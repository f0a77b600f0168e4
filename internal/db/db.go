package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/pokerjest/animeleech/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens (and migrates) the sqlite database at storagePath.
// ":memory:" is accepted for tests.
func InitDB(storagePath string) (*gorm.DB, error) {
	if storagePath != ":memory:" {
		// 确保存储目录存在
		dir := filepath.Dir(storagePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	conn, err := gorm.Open(sqlite.Open(storagePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// sqlite 只允许一个写连接，内存库多连接会各自独立
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	// 自动迁移模式
	if err := conn.AutoMigrate(&model.User{}, &model.WatchHistory{}, &model.UploadLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return conn, nil
}

func CloseDB(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
