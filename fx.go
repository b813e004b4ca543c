package quicktabs

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/eventbus"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	"github.com/dep2p/go-quicktabs/internal/core/resilience"
	"github.com/dep2p/go-quicktabs/internal/core/state"
	"github.com/dep2p/go-quicktabs/internal/core/storage"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/internal/protocol/broadcast"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 基础：Config → Identity → Clock → Metrics → EventBus
//  2. 核心：State → Storage → Resilience
//  3. 协议：Broadcast（依赖 Storage 作为回退传输）
//  4. 接线：存储变更与广播消息 → 状态表
func buildFxApp(o *options, cfg *config.Config, id types.TabIdentity, tab *Tab) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if o.factory == nil {
		return nil, ErrNoChannelFactory
	}
	if o.coordinator == nil {
		return nil, ErrNoCoordinator
	}

	clk := o.clock
	if clk == nil {
		clk = clock.New()
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 基础组件
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(cfg),
		fx.Supply(id),
		fx.Provide(func() clock.Clock { return clk }),
		fx.Provide(func() pkgif.ChannelFactory { return o.factory }),
		fx.Provide(func() pkgif.CoordinatorTransport { return o.coordinator }),

		metrics.Module,
		eventbus.Module(),
	}
	if o.registerer != nil {
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return o.registerer }))
	}
	if o.store != nil {
		store := o.store
		modules = append(modules, fx.Provide(
			fx.Annotate(
				func() engine.InternalEngine { return store },
				fx.ResultTags(`name:"shared_engine"`),
			),
		))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 核心与协议模块
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		state.Module(),
		storage.Module(),
		resilience.Module(),
		broadcast.Module(),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 用户扩展
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 5. 接线与组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Invoke(wireSync),
		fx.Invoke(injectTabComponents(tab)),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 6. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build tab: %w", err)
	}
	return app, nil
}

// ════════════════════════════════════════════════════════════════════════════
// 事件接线
// ════════════════════════════════════════════════════════════════════════════

type syncParams struct {
	fx.In

	LC      fx.Lifecycle
	Bus     pkgif.EventBus
	State   *state.Manager
	Storage *storage.Manager
	Client  *resilience.Client
	Gate    *resilience.HydrationGate
}

// wireSync 把存储变更和广播消息接到状态表
//
// 水合完成前到达的变更由 HydrationGate 暂存，水合后按到达顺序应用。
func wireSync(p syncParams) {
	p.Storage.SetStateSource(p.Client)

	cancelStorage := p.Bus.Handle(types.EventStorageChanged, func(ev types.Event) {
		change, ok := ev.Payload.(types.StorageChangedEvent)
		if !ok {
			return
		}
		p.Gate.Run(func() {
			if err := p.State.Hydrate(change.Overlays); err != nil {
				logger.Warn("存储变更水合失败", "container", change.ContainerID, "error", err)
			}
		})
	})

	cancelBroadcast := p.Bus.Handle(types.EventBroadcastReceived, func(ev types.Event) {
		msg, ok := ev.Payload.(*types.SyncMessage)
		if !ok {
			return
		}
		p.Gate.Run(func() {
			if err := p.State.Apply(msg); err != nil {
				if errors.Is(err, types.ErrOverlayNotFound) {
					logger.Debug("增量目标不存在，等待存储对齐", "type", msg.Type, "overlay", msg.OverlayID())
					return
				}
				logger.Warn("应用广播增量失败", "type", msg.Type, "sender", msg.SenderID, "error", err)
			}
		})
	})

	p.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cancelStorage()
			cancelBroadcast()
			return nil
		},
	})
}

// ════════════════════════════════════════════════════════════════════════════
// 组件注入
// ════════════════════════════════════════════════════════════════════════════

// tabInjectParams Tab 组件注入参数
type tabInjectParams struct {
	fx.In

	Bus        *eventbus.Bus
	Metrics    *metrics.Metrics
	State      *state.Manager
	Storage    *storage.Manager
	Broadcast  *broadcast.Manager
	Client     *resilience.Client
	Gate       *resilience.HydrationGate
	Heartbeat  *resilience.Heartbeat
	Shedder    *resilience.LoadShedder
	Adaptive   *resilience.AdaptiveTimeout
	Dispatcher *resilience.Dispatcher
	IDs        *resilience.IDGenerator
}

func injectTabComponents(tab *Tab) interface{} {
	return func(p tabInjectParams) {
		tab.bus = p.Bus
		tab.metrics = p.Metrics
		tab.state = p.State
		tab.storage = p.Storage
		tab.broadcast = p.Broadcast
		tab.client = p.Client
		tab.gate = p.Gate
		tab.heartbeat = p.Heartbeat
		tab.shedder = p.Shedder
		tab.adaptive = p.Adaptive
		tab.dispatcher = p.Dispatcher
		tab.ids = p.IDs
	}
}
