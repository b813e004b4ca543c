package config

import (
	"fmt"
	"time"
)

// ResilienceConfig 与协调器通信的弹性层配置
type ResilienceConfig struct {
	// QueueCapacity 全部待处理队列的总容量
	// 默认值: 300
	QueueCapacity int `json:"queue_capacity"`

	// OperationTimeout 单个操作的超时上限
	// 默认值: 5s
	OperationTimeout Duration `json:"operation_timeout"`

	// HeartbeatInterval 心跳基础间隔
	// 默认值: 15s
	HeartbeatInterval Duration `json:"heartbeat_interval"`

	// HeartbeatMaxInterval 心跳退避上限
	// 默认值: 120s
	HeartbeatMaxInterval Duration `json:"heartbeat_max_interval"`

	// HeartbeatFailureThreshold 心跳断路器打开所需的连续失败次数
	// 默认值: 10
	HeartbeatFailureThreshold int `json:"heartbeat_failure_threshold"`

	// HeartbeatCooldown 心跳断路器打开后允许再次探测的时间
	// 默认值: 5m
	HeartbeatCooldown Duration `json:"heartbeat_cooldown"`

	// DefaultResponseTimeout 自适应超时的下限与样本不足时的默认值
	// 默认值: 5s
	DefaultResponseTimeout Duration `json:"default_response_timeout"`

	// MaxResponseTimeout 自适应超时的上限
	// 默认值: 30s
	MaxResponseTimeout Duration `json:"max_response_timeout"`

	// LatencySamples 延迟滚动样本数
	// 默认值: 10
	LatencySamples int `json:"latency_samples"`

	// MinLatencySamples 计算自适应超时所需的最少样本数
	// 默认值: 3
	MinLatencySamples int `json:"min_latency_samples"`

	// LatencyMultiplier p90 延迟的放大倍数
	// 默认值: 4
	LatencyMultiplier float64 `json:"latency_multiplier"`

	// RecoveryWindow 检测到协调器重启后的恢复窗口（期间超时翻倍）
	// 默认值: 30s
	RecoveryWindow Duration `json:"recovery_window"`

	// IDMaxRetries 消息 ID 冲突时的最大后缀重试次数
	// 默认值: 10
	IDMaxRetries int `json:"id_max_retries"`

	// KnownIDCapacity 已知消息 ID 集合容量
	// 默认值: 10000
	KnownIDCapacity int `json:"known_id_capacity"`
}

// DefaultResilienceConfig 返回默认的弹性层配置
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		QueueCapacity:             300,
		OperationTimeout:          Duration(5 * time.Second),
		HeartbeatInterval:         Duration(15 * time.Second),
		HeartbeatMaxInterval:      Duration(120 * time.Second),
		HeartbeatFailureThreshold: 10,
		HeartbeatCooldown:         Duration(5 * time.Minute),
		DefaultResponseTimeout:    Duration(5 * time.Second),
		MaxResponseTimeout:        Duration(30 * time.Second),
		LatencySamples:            10,
		MinLatencySamples:         3,
		LatencyMultiplier:         4,
		RecoveryWindow:            Duration(30 * time.Second),
		IDMaxRetries:              10,
		KnownIDCapacity:           10000,
	}
}

// Validate 验证弹性层配置
func (c *ResilienceConfig) Validate() error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("resilience: queue_capacity must be >= 1")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("resilience: operation_timeout must be > 0")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatMaxInterval < c.HeartbeatInterval {
		return fmt.Errorf("resilience: heartbeat intervals invalid")
	}
	if c.HeartbeatFailureThreshold < 1 {
		return fmt.Errorf("resilience: heartbeat_failure_threshold must be >= 1")
	}
	if c.DefaultResponseTimeout <= 0 || c.MaxResponseTimeout < c.DefaultResponseTimeout {
		return fmt.Errorf("resilience: response timeouts invalid")
	}
	if c.LatencySamples < 1 || c.MinLatencySamples < 1 || c.MinLatencySamples > c.LatencySamples {
		return fmt.Errorf("resilience: latency sample sizes invalid")
	}
	if c.LatencyMultiplier <= 0 {
		return fmt.Errorf("resilience: latency_multiplier must be > 0")
	}
	if c.IDMaxRetries < 0 || c.KnownIDCapacity < 1 {
		return fmt.Errorf("resilience: id generator settings invalid")
	}
	return nil
}
