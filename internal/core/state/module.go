package state

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-quicktabs/config"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// ============================================================================
//                              模块输入依赖
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config   *config.Config `optional:"true"`
	Identity types.TabIdentity
	Bus      pkgif.EventBus
	Clock    clock.Clock
}

// ProvideManager 提供状态表
func ProvideManager(input ModuleInput) *Manager {
	defaultContainer := types.DefaultContainerID
	if input.Config != nil {
		defaultContainer = input.Config.State.DefaultContainer
	}
	if input.Identity.ContainerID != "" {
		defaultContainer = input.Identity.ContainerID
	}
	return NewManager(input.Bus, input.Identity.ContextID, defaultContainer, input.Clock)
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("state",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC      fx.Lifecycle
	Manager *Manager
}

// registerLifecycle 注册生命周期
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			logger.Debug("状态表已停止", "overlays", input.Manager.Count())
			return nil
		},
	})
}
