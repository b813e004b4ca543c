package config

import (
	"fmt"
	"time"
)

// BroadcastConfig 跨上下文广播配置
type BroadcastConfig struct {
	// ChannelPrefix 通道名前缀，完整名称为 <prefix>-<containerID>
	ChannelPrefix string `json:"channel_prefix"`

	// HighFrequencyDebounce 位置/尺寸消息的去抖窗口
	// 默认值: 50ms
	HighFrequencyDebounce Duration `json:"high_frequency_debounce"`

	// LowFrequencyDebounce 其它消息的去抖窗口
	// 默认值: 200ms
	LowFrequencyDebounce Duration `json:"low_frequency_debounce"`

	// SendFailureThreshold 触发重连的连续发送失败次数
	// 默认值: 3
	SendFailureThreshold int `json:"send_failure_threshold"`

	// ReconnectBaseDelay 重连退避基础时间
	// 默认值: 1s
	ReconnectBaseDelay Duration `json:"reconnect_base_delay"`

	// ReconnectMaxDelay 重连退避上限
	// 默认值: 30s
	ReconnectMaxDelay Duration `json:"reconnect_max_delay"`

	// MaxReconnectAttempts 永久切换到存储回退前的最大重连次数
	// 默认值: 5
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`

	// HealthProbeInterval 通道健康探测间隔
	// 默认值: 30s
	HealthProbeInterval Duration `json:"health_probe_interval"`

	// FallbackTTL 回退记录存活时间
	// 默认值: 5s
	FallbackTTL Duration `json:"fallback_ttl"`

	// FallbackSweepInterval 回退记录清扫间隔
	// 默认值: 10s
	FallbackSweepInterval Duration `json:"fallback_sweep_interval"`

	// FallbackRateLimit 回退传输每秒最大写入数
	// 默认值: 50
	FallbackRateLimit float64 `json:"fallback_rate_limit"`

	// FallbackBurst 回退传输突发写入数
	// 默认值: 20
	FallbackBurst int `json:"fallback_burst"`

	// SequenceTableSize 每发送者序列号表容量
	// 默认值: 1024
	SequenceTableSize int `json:"sequence_table_size"`

	// DebounceTableSize 去抖表容量
	// 默认值: 4096
	DebounceTableSize int `json:"debounce_table_size"`
}

// DefaultBroadcastConfig 返回默认的广播配置
func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		ChannelPrefix:         "quick-tabs-sync",
		HighFrequencyDebounce: Duration(50 * time.Millisecond),
		LowFrequencyDebounce:  Duration(200 * time.Millisecond),
		SendFailureThreshold:  3,
		ReconnectBaseDelay:    Duration(1 * time.Second),
		ReconnectMaxDelay:     Duration(30 * time.Second),
		MaxReconnectAttempts:  5,
		HealthProbeInterval:   Duration(30 * time.Second),
		FallbackTTL:           Duration(5 * time.Second),
		FallbackSweepInterval: Duration(10 * time.Second),
		FallbackRateLimit:     50,
		FallbackBurst:         20,
		SequenceTableSize:     1024,
		DebounceTableSize:     4096,
	}
}

// Validate 验证广播配置
func (c *BroadcastConfig) Validate() error {
	if c.ChannelPrefix == "" {
		return fmt.Errorf("broadcast: channel_prefix must not be empty")
	}
	if c.HighFrequencyDebounce < 0 || c.LowFrequencyDebounce < 0 {
		return fmt.Errorf("broadcast: debounce windows must be >= 0")
	}
	if c.HighFrequencyDebounce > c.LowFrequencyDebounce {
		return fmt.Errorf("broadcast: high_frequency_debounce (%s) must not exceed low_frequency_debounce (%s)",
			c.HighFrequencyDebounce, c.LowFrequencyDebounce)
	}
	if c.SendFailureThreshold < 1 || c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("broadcast: failure thresholds must be >= 1")
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("broadcast: reconnect delays invalid")
	}
	if c.FallbackTTL <= 0 {
		return fmt.Errorf("broadcast: fallback_ttl must be > 0")
	}
	if c.FallbackRateLimit <= 0 || c.FallbackBurst < 1 {
		return fmt.Errorf("broadcast: fallback rate limit invalid")
	}
	if c.SequenceTableSize < 1 || c.DebounceTableSize < 1 {
		return fmt.Errorf("broadcast: table sizes must be >= 1")
	}
	return nil
}
