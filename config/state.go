package config

import "fmt"

// StateConfig 状态表配置
type StateConfig struct {
	// DefaultContainer 未指定容器时使用的容器 ID
	// 默认值: firefox-default
	DefaultContainer string `json:"default_container"`
}

// DefaultStateConfig 返回默认的状态表配置
func DefaultStateConfig() StateConfig {
	return StateConfig{
		DefaultContainer: "firefox-default",
	}
}

// Validate 验证状态表配置
func (c *StateConfig) Validate() error {
	if c.DefaultContainer == "" {
		return fmt.Errorf("state: default_container must not be empty")
	}
	return nil
}
