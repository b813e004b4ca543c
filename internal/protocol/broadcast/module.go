package broadcast

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	"github.com/dep2p/go-quicktabs/internal/core/storage"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// ModuleInput 广播模块依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Identity   types.TabIdentity
	Factory    pkgif.ChannelFactory
	Storage    *storage.Manager `optional:"true"`
	Bus        pkgif.EventBus
	Clock      clock.Clock
	Metrics    *metrics.Metrics `optional:"true"`
}

type lifecycleInput struct {
	fx.In

	LC      fx.Lifecycle
	Manager *Manager
}

// Module 返回 Broadcast Fx 模块
//
// 提供:
//   - *Manager: 广播管理器
//
// 生命周期:
//   - OnStart: 打开通道，订阅回退记录
//   - OnStop: 关闭通道，停止后台任务
func Module() fx.Option {
	return fx.Module("broadcast",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideManager 提供广播管理器
func ProvideManager(in ModuleInput) (*Manager, error) {
	cfg := config.DefaultBroadcastConfig()
	if in.UnifiedCfg != nil {
		cfg = in.UnifiedCfg.Broadcast
	}
	var store FallbackStore
	if in.Storage != nil {
		store = in.Storage
	}
	return NewManager(cfg, in.Factory, store, in.Bus, in.Identity.SenderID, in.Identity.ContainerID, in.Clock, in.Metrics)
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return in.Manager.Start()
		},
		OnStop: func(_ context.Context) error {
			if err := in.Manager.Stop(); err != nil {
				logger.Warn("广播管理器停止失败", "error", err)
				return err
			}
			return nil
		},
	})
}
