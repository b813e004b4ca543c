package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config BadgerDB 引擎参数
//
// overlay 快照只有几 KB，表与缓存按浏览器扩展的数据量取小值。
type Config struct {
	// Dir 数据目录，InMemory 为 false 时必需
	Dir string

	// InMemory 不落盘（模拟器与测试）
	InMemory bool

	// SyncWrites 每次提交都 fsync
	SyncWrites bool

	MemTableSize     int64
	ValueLogFileSize int64
	BlockCacheSize   int64

	// GCInterval 值日志回收间隔，0 表示不回收
	GCInterval time.Duration

	// GCDiscardRatio 值日志文件可回收比例阈值
	GCDiscardRatio float64
}

// DefaultConfig 落盘模式的默认参数
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:              dir,
		MemTableSize:     8 << 20,
		ValueLogFileSize: 64 << 20,
		BlockCacheSize:   16 << 20,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
	}
}

// InMemoryConfig 内存模式参数
func InMemoryConfig() *Config {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	cfg.GCInterval = 0
	return cfg
}

// Validate 校验参数
func (c *Config) Validate() error {
	if c.Dir == "" && !c.InMemory {
		return fmt.Errorf("%w: data dir required", ErrInvalidConfig)
	}
	if c.MemTableSize < 1<<20 || c.ValueLogFileSize < 1<<20 {
		return fmt.Errorf("%w: table sizes below 1MB", ErrInvalidConfig)
	}
	if c.GCInterval > 0 && (c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1) {
		return fmt.Errorf("%w: gc discard ratio must be in (0,1)", ErrInvalidConfig)
	}
	return nil
}

// PrepareDir 把数据目录转为绝对路径并创建
func (c *Config) PrepareDir() error {
	if c.InMemory {
		return nil
	}
	abs, err := filepath.Abs(c.Dir)
	if err != nil {
		return err
	}
	c.Dir = abs
	return os.MkdirAll(abs, 0o755)
}
