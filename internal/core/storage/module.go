package storage

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine/badger"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// EngineParams 存储引擎依赖参数
type EngineParams struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`

	// Shared 多个 Tab 共享的引擎，由外部持有并负责关闭
	Shared engine.InternalEngine `name:"shared_engine" optional:"true"`
}

// EngineResult 存储引擎提供结果
type EngineResult struct {
	fx.Out

	Engine engine.InternalEngine
	Owned  bool `name:"engine_owned"`
}

// ModuleInput 存储管理器依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Identity   types.TabIdentity
	Engine     engine.InternalEngine
	Bus        pkgif.EventBus
	Clock      clock.Clock
	Metrics    *metrics.Metrics `optional:"true"`
}

type lifecycleInput struct {
	fx.In

	LC      fx.Lifecycle
	Engine  engine.InternalEngine
	Owned   bool `name:"engine_owned"`
	Manager *Manager
}

// Module 返回 Storage Fx 模块
//
// 提供:
//   - engine.InternalEngine: 共享引擎，或按配置打开的 BadgerDB
//   - *Manager: 存储管理器
//
// 生命周期:
//   - OnStart: 启动自有引擎，开始观察变更
//   - OnStop: 停止观察，关闭自有引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			ProvideEngine,
			ProvideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideEngine 提供存储引擎
func ProvideEngine(p EngineParams) (EngineResult, error) {
	if p.Shared != nil {
		return EngineResult{Engine: p.Shared}, nil
	}

	cfg := config.DefaultStorageConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Storage
	}
	eng, err := NewEngine(cfg)
	if err != nil {
		return EngineResult{}, err
	}
	return EngineResult{Engine: eng, Owned: true}, nil
}

// ProvideManager 提供存储管理器
func ProvideManager(in ModuleInput) *Manager {
	cfg := config.DefaultStorageConfig()
	if in.UnifiedCfg != nil {
		cfg = in.UnifiedCfg.Storage
	}
	return NewManager(cfg, in.Engine, in.Bus, in.Identity.ContainerID, in.Clock, in.Metrics)
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if in.Owned {
				if err := in.Engine.Start(); err != nil {
					logger.Error("存储引擎启动失败", "error", err)
					return err
				}
			}
			return in.Manager.Start()
		},
		OnStop: func(_ context.Context) error {
			err := in.Manager.Stop()
			if in.Owned {
				if cerr := in.Engine.Close(); cerr != nil {
					logger.Warn("存储引擎关闭失败", "error", cerr)
					err = multierr.Append(err, cerr)
				}
			}
			return err
		},
	})
}

// NewEngine 根据存储配置打开 BadgerDB 引擎
func NewEngine(cfg config.StorageConfig) (engine.InternalEngine, error) {
	var engineCfg *engine.Config
	if cfg.InMemory {
		engineCfg = engine.InMemoryConfig()
	} else {
		engineCfg = engine.DefaultConfig(cfg.DataDir)
	}
	logger.Debug("创建存储引擎", "dir", engineCfg.Dir, "inMemory", engineCfg.InMemory)
	eng, err := badger.New(engineCfg)
	if err != nil {
		logger.Error("创建存储引擎失败", "error", err)
		return nil, err
	}
	return eng, nil
}
