package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// DiagnosticsConfig 日志与指标配置
type DiagnosticsConfig struct {
	// EnableMetrics 是否注册 Prometheus 指标
	EnableMetrics bool `json:"enable_metrics"`

	// LogLevel 日志级别
	// 默认值: info
	LogLevel string `json:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat 日志格式
	// 默认值: text
	LogFormat string `json:"log_format" validate:"oneof=text json"`
}

// DefaultDiagnosticsConfig 返回默认的诊断配置
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		EnableMetrics: false,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Validate 验证诊断配置
func (c *DiagnosticsConfig) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}
	return nil
}
