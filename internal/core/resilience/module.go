package resilience

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// ModuleInput 弹性层依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock
	Metrics    *metrics.Metrics `optional:"true"`
}

// ModuleOutput 弹性层组件
type ModuleOutput struct {
	fx.Out

	Shedder    *LoadShedder
	Adaptive   *AdaptiveTimeout
	Dispatcher *Dispatcher
	Gate       *HydrationGate
	IDs        *IDGenerator
}

type clientInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Transport  pkgif.CoordinatorTransport
	Dispatcher *Dispatcher
	Adaptive   *AdaptiveTimeout
	IDs        *IDGenerator
	Clock      clock.Clock
	Metrics    *metrics.Metrics `optional:"true"`
}

type clientOutput struct {
	fx.Out

	Client    *Client
	Heartbeat *Heartbeat
}

type lifecycleInput struct {
	fx.In

	LC         fx.Lifecycle
	Dispatcher *Dispatcher
	Heartbeat  *Heartbeat
}

// Module 返回 Resilience Fx 模块
//
// 提供:
//   - *LoadShedder, *AdaptiveTimeout, *Dispatcher, *HydrationGate, *IDGenerator
//   - *Client, *Heartbeat（需要 interfaces.CoordinatorTransport）
//
// 生命周期:
//   - OnStart: 启动分发器与心跳
//   - OnStop: 停止心跳，关闭分发器
func Module() fx.Option {
	return fx.Module("resilience",
		fx.Provide(ProvideComponents, ProvideClient),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideComponents 提供与传输无关的弹性组件
func ProvideComponents(in ModuleInput) (ModuleOutput, error) {
	cfg := resolveConfig(in.UnifiedCfg)

	shedder := NewLoadShedder(cfg.QueueCapacity, in.Metrics)
	adaptive := NewAdaptiveTimeout(cfg, in.Clock)
	dispatcher := NewDispatcher(shedder, OperationLimit(cfg.OperationTimeout.Duration(), adaptive.Timeout), in.Clock, in.Metrics)

	ids, err := NewIDGenerator(cfg.KnownIDCapacity, cfg.IDMaxRetries, in.Clock)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{
		Shedder:    shedder,
		Adaptive:   adaptive,
		Dispatcher: dispatcher,
		Gate:       NewHydrationGate(shedder),
		IDs:        ids,
	}, nil
}

// ProvideClient 提供协调器客户端和心跳
func ProvideClient(in clientInput) clientOutput {
	cfg := resolveConfig(in.UnifiedCfg)
	client := NewClient(in.Transport, in.Dispatcher, in.Adaptive, in.IDs, in.Clock)
	return clientOutput{
		Client:    client,
		Heartbeat: NewHeartbeat(cfg, client.Ping, in.Clock, in.Metrics),
	}
}

func resolveConfig(unified *config.Config) config.ResilienceConfig {
	if unified != nil {
		return unified.Resilience
	}
	return config.DefaultResilienceConfig()
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			in.Dispatcher.Start()
			in.Heartbeat.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			in.Heartbeat.Stop()
			in.Dispatcher.Stop()
			return nil
		},
	})
}
