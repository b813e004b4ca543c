// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 都提供 DefaultXxxConfig() 与 Validate()。
//
// 所有阈值（去抖窗口、退避序列、队列容量）都是经验值，可以调整；
// 真正的约束是它们之间的相对顺序，例如高频消息（位置/尺寸）的去抖
// 窗口必须短于低频消息（创建/关闭）的窗口，Validate 会检查这些约束。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Resilience.QueueCapacity = 500
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Config 是 Quick Tabs 同步核心的完整配置
//
//   - State: 状态表
//   - Storage: 持久化存储适配器
//   - Broadcast: 跨上下文广播
//   - Resilience: 与协调器通信的弹性层
//   - Diagnostics: 日志与指标
type Config struct {
	// State 状态表配置
	State StateConfig `json:"state"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Broadcast 广播配置
	Broadcast BroadcastConfig `json:"broadcast"`

	// Resilience 弹性层配置
	Resilience ResilienceConfig `json:"resilience"`

	// Diagnostics 诊断配置
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		State:       DefaultStateConfig(),
		Storage:     DefaultStorageConfig(),
		Broadcast:   DefaultBroadcastConfig(),
		Resilience:  DefaultResilienceConfig(),
		Diagnostics: DefaultDiagnosticsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.State.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Broadcast.Validate(); err != nil {
		return err
	}
	if err := c.Resilience.Validate(); err != nil {
		return err
	}
	return c.Diagnostics.Validate()
}

// FromJSON 从 JSON 加载配置，未出现的字段保留默认值
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ValidateAndFix 验证配置并修复可修复的问题
//
//   - 去抖窗口顺序颠倒 -> 交换
//   - 退避序列为空 -> 使用默认值
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	b := &c.Broadcast
	if b.HighFrequencyDebounce > b.LowFrequencyDebounce {
		b.HighFrequencyDebounce, b.LowFrequencyDebounce = b.LowFrequencyDebounce, b.HighFrequencyDebounce
	}
	if len(c.Storage.TransactionTimeoutBackoff) == 0 {
		c.Storage.TransactionTimeoutBackoff = DefaultStorageConfig().TransactionTimeoutBackoff
	}
	if c.Resilience.HeartbeatMaxInterval < c.Resilience.HeartbeatInterval {
		c.Resilience.HeartbeatMaxInterval = c.Resilience.HeartbeatInterval
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}
	return c, nil
}
