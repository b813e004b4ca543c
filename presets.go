package quicktabs

import (
	"fmt"
	"time"

	"github.com/dep2p/go-quicktabs/config"
)

// ════════════════════════════════════════════════════════════════════════════
//                              预设配置
// ════════════════════════════════════════════════════════════════════════════

// 预设名称常量
const (
	// PresetNameBrowser 浏览器预设名称
	PresetNameBrowser = "browser"

	// PresetNameSimulator 模拟器预设名称
	PresetNameSimulator = "simulator"

	// PresetNameTest 测试预设名称
	PresetNameTest = "test"
)

// Preset 预设配置
type Preset struct {
	Name        string
	Description string
	apply       func(*config.Config)
}

// Apply 将预设应用到配置
func (p *Preset) Apply(cfg *config.Config) {
	if p != nil && p.apply != nil {
		p.apply(cfg)
	}
}

var (
	// PresetBrowser 默认预设：持久化 BadgerDB，默认时序
	PresetBrowser = &Preset{
		Name:        PresetNameBrowser,
		Description: "持久化存储，默认时序",
		apply:       func(*config.Config) {},
	}

	// PresetSimulator 模拟器预设：内存存储，启用指标
	PresetSimulator = &Preset{
		Name:        PresetNameSimulator,
		Description: "内存存储，启用指标",
		apply: func(cfg *config.Config) {
			cfg.Storage.InMemory = true
			cfg.Diagnostics.EnableMetrics = true
		},
	}

	// PresetTest 测试预设：内存存储，缩短清扫与探测周期
	//
	// 去抖窗口与默认值一致，保证高频类型短于低频类型。
	PresetTest = &Preset{
		Name:        PresetNameTest,
		Description: "内存存储，缩短后台周期",
		apply: func(cfg *config.Config) {
			cfg.Storage.InMemory = true
			cfg.Broadcast.HealthProbeInterval = config.Duration(time.Second)
			cfg.Broadcast.FallbackSweepInterval = config.Duration(time.Second)
		},
	}
)

// PresetByName 根据名称获取预设
func PresetByName(name string) (*Preset, error) {
	switch name {
	case PresetNameBrowser, "":
		return PresetBrowser, nil
	case PresetNameSimulator:
		return PresetSimulator, nil
	case PresetNameTest:
		return PresetTest, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
}

// PresetInfo 预设信息
type PresetInfo struct {
	Name        string
	Description string
}

// ListPresets 列出所有预设
func ListPresets() []PresetInfo {
	presets := []*Preset{PresetBrowser, PresetSimulator, PresetTest}
	out := make([]PresetInfo, 0, len(presets))
	for _, p := range presets {
		out = append(out, PresetInfo{Name: p.Name, Description: p.Description})
	}
	return out
}
