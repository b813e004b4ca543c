package quicktabs

import (
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-quicktabs/config"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 预设配置
	preset *Preset

	// 完整配置（覆盖预设）
	config *config.Config

	// 身份
	contextID   string
	senderID    string
	containerID string

	// 外部依赖
	store       SharedStore
	factory     pkgif.ChannelFactory
	coordinator pkgif.CoordinatorTransport
	clock       clock.Clock
	registerer  prometheus.Registerer

	// 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{}
}

// toInternalConfig 转换为内部配置
func (o *options) toInternalConfig() *config.Config {
	cfg := o.config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if o.preset != nil {
		o.preset.Apply(cfg)
	}
	return cfg
}

// identity 生成 Tab 身份，未指定的字段随机生成或取默认值
func (o *options) identity(cfg *config.Config) types.TabIdentity {
	id := types.TabIdentity{
		ContextID:   o.contextID,
		SenderID:    o.senderID,
		ContainerID: o.containerID,
	}
	if id.ContextID == "" {
		id.ContextID = "tab-" + uuid.NewString()[:8]
	}
	if id.SenderID == "" {
		id.SenderID = uuid.NewString()
	}
	if id.ContainerID == "" {
		id.ContainerID = cfg.State.DefaultContainer
	}
	return id
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置选项
// ════════════════════════════════════════════════════════════════════════════

// WithPreset 使用预设配置
func WithPreset(p *Preset) Option {
	return func(o *options) error {
		o.preset = p
		return nil
	}
}

// WithConfig 使用完整配置，预设在其之上应用
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		o.config = cfg
		return nil
	}
}

// WithContextID 设置上下文（标签页）ID
func WithContextID(id string) Option {
	return func(o *options) error {
		o.contextID = id
		return nil
	}
}

// WithSenderID 设置广播发送者 ID（默认每个 Tab 随机生成）
func WithSenderID(id string) Option {
	return func(o *options) error {
		o.senderID = id
		return nil
	}
}

// WithContainer 设置初始容器
func WithContainer(id string) Option {
	return func(o *options) error {
		o.containerID = id
		return nil
	}
}

// WithSharedStore 使用多个 Tab 共享的存储，由调用方负责关闭
func WithSharedStore(s SharedStore) Option {
	return func(o *options) error {
		o.store = s
		return nil
	}
}

// WithChannelFactory 设置广播通道工厂
func WithChannelFactory(f pkgif.ChannelFactory) Option {
	return func(o *options) error {
		o.factory = f
		return nil
	}
}

// WithCoordinator 设置协调器传输
func WithCoordinator(t pkgif.CoordinatorTransport) Option {
	return func(o *options) error {
		o.coordinator = t
		return nil
	}
}

// WithClock 设置时钟（测试中注入 clock.Mock）
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithRegisterer 设置 Prometheus Registerer，配合 Diagnostics.EnableMetrics 使用
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
