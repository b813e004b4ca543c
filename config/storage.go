package config

import (
	"fmt"
	"time"
)

// StorageConfig 持久化存储适配器配置
type StorageConfig struct {
	// DataDir BadgerDB 数据目录，为空且 InMemory=false 时无效
	DataDir string `json:"data_dir"`

	// InMemory 使用内存模式的 BadgerDB（模拟器与测试）
	InMemory bool `json:"in_memory"`

	// SaveGrace 自写入抑制的宽限窗口
	// 默认值: 100ms
	SaveGrace Duration `json:"save_grace"`

	// ChangeDebounce 存储变更通知合并窗口
	// 默认值: 50ms
	ChangeDebounce Duration `json:"change_debounce"`

	// WriteFailureThreshold 写断路器打开前的连续失败次数
	// 默认值: 10
	WriteFailureThreshold int `json:"write_failure_threshold"`

	// WriteCooldown 写断路器冷却时间
	// 默认值: 5s
	WriteCooldown Duration `json:"write_cooldown"`

	// WriteSuccessThreshold 半开状态下关闭所需的连续成功次数
	// 默认值: 2
	WriteSuccessThreshold int `json:"write_success_threshold"`

	// TransactionFailureThreshold 事务断路器跳闸所需的连续失败次数
	// 默认值: 5
	TransactionFailureThreshold int `json:"transaction_failure_threshold"`

	// TransactionTimeoutBackoff 连续超时的退避序列，长度即跳闸所需的连续超时次数
	// 默认值: [1s, 3s, 5s]
	TransactionTimeoutBackoff []Duration `json:"transaction_timeout_backoff"`

	// TransactionResetAfter 因连续失败跳闸后允许再次探测协调器的时间
	// （因超时跳闸时使用退避序列的最后一档）
	// 默认值: 30s
	TransactionResetAfter Duration `json:"transaction_reset_after"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:                     "./data/quicktabs.db",
		SaveGrace:                   Duration(100 * time.Millisecond),
		ChangeDebounce:              Duration(50 * time.Millisecond),
		WriteFailureThreshold:       10,
		WriteCooldown:               Duration(5 * time.Second),
		WriteSuccessThreshold:       2,
		TransactionFailureThreshold: 5,
		TransactionTimeoutBackoff: []Duration{
			Duration(1 * time.Second),
			Duration(3 * time.Second),
			Duration(5 * time.Second),
		},
		TransactionResetAfter: Duration(30 * time.Second),
	}
}

// Validate 验证存储配置
func (c *StorageConfig) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("storage: data_dir is required unless in_memory is set")
	}
	if c.SaveGrace <= 0 {
		return fmt.Errorf("storage: save_grace must be > 0")
	}
	if c.ChangeDebounce < 0 {
		return fmt.Errorf("storage: change_debounce must be >= 0")
	}
	if c.WriteFailureThreshold < 1 || c.WriteSuccessThreshold < 1 {
		return fmt.Errorf("storage: write breaker thresholds must be >= 1")
	}
	if c.TransactionFailureThreshold < 1 {
		return fmt.Errorf("storage: transaction_failure_threshold must be >= 1")
	}
	if len(c.TransactionTimeoutBackoff) == 0 {
		return fmt.Errorf("storage: transaction_timeout_backoff must not be empty")
	}
	for i := 1; i < len(c.TransactionTimeoutBackoff); i++ {
		if c.TransactionTimeoutBackoff[i] < c.TransactionTimeoutBackoff[i-1] {
			return fmt.Errorf("storage: transaction_timeout_backoff must be non-decreasing")
		}
	}
	return nil
}
