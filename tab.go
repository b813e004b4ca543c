package quicktabs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/eventbus"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	"github.com/dep2p/go-quicktabs/internal/core/resilience"
	"github.com/dep2p/go-quicktabs/internal/core/state"
	"github.com/dep2p/go-quicktabs/internal/core/storage"
	"github.com/dep2p/go-quicktabs/internal/protocol/broadcast"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

var logger = log.Logger("quicktabs")

const (
	// startTimeout Fx App 启动超时
	startTimeout = 30 * time.Second

	// stopTimeout Close 使用的停止超时
	stopTimeout = 10 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              Tab
// ════════════════════════════════════════════════════════════════════════════

// Tab 一个浏览器上下文的同步核心
//
// 每个 Tab 持有自己的状态表、存储管理器、广播管理器和弹性层，
// 与其他 Tab 只通过共享存储、广播通道和协调器交互。
type Tab struct {
	mu      sync.Mutex
	app     *fx.App
	cfg     *config.Config
	id      types.TabIdentity
	log     *slog.Logger
	started bool
	closed  bool

	// localSeq 本地增量的序号（只用于走同一条 Apply 路径，不上线）
	localSeq atomic.Uint64

	bus        *eventbus.Bus
	metrics    *metrics.Metrics
	state      *state.Manager
	storage    *storage.Manager
	broadcast  *broadcast.Manager
	client     *resilience.Client
	gate       *resilience.HydrationGate
	heartbeat  *resilience.Heartbeat
	shedder    *resilience.LoadShedder
	adaptive   *resilience.AdaptiveTimeout
	dispatcher *resilience.Dispatcher
	ids        *resilience.IDGenerator
}

// New 创建 Tab（未启动）
func New(opts ...Option) (*Tab, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	cfg := o.toInternalConfig()
	id := o.identity(cfg)
	tab := &Tab{
		cfg: cfg,
		id:  id,
		log: logger.With("tab", id.ContextID, "sender", log.TruncateID(id.SenderID, 8)),
	}

	app, err := buildFxApp(o, cfg, id, tab)
	if err != nil {
		return nil, err
	}
	tab.app = app
	return tab, nil
}

// Start 创建并启动 Tab
func Start(ctx context.Context, opts ...Option) (*Tab, error) {
	tab, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := tab.Start(ctx); err != nil {
		return nil, err
	}
	return tab, nil
}

// Start 启动所有组件并完成首次水合
//
// 水合失败不会导致启动失败：LoadAll 总是返回（可能为空的）列表。
func (t *Tab) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTabClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := t.app.Start(startCtx); err != nil {
		t.mu.Unlock()
		t.log.Error("Tab 启动失败", "error", err)
		return fmt.Errorf("start tab: %w", err)
	}
	t.started = true
	t.mu.Unlock()

	if err := t.Hydrate(ctx); err != nil {
		t.log.Warn("首次水合失败", "error", err)
	}
	t.log.Info("Tab 已启动", "container", t.storage.ContainerID(), "overlays", t.state.Count())
	return nil
}

// Stop 停止所有组件
func (t *Tab) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.started = false
	if err := t.app.Stop(ctx); err != nil {
		t.log.Warn("Tab 停止失败", "error", err)
		return err
	}
	t.log.Info("Tab 已停止")
	return nil
}

// Close 停止并关闭 Tab，之后不能再启动
func (t *Tab) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := t.Stop(ctx)

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return err
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ContextID 上下文 ID
func (t *Tab) ContextID() string { return t.id.ContextID }

// SenderID 广播发送者 ID
func (t *Tab) SenderID() string { return t.id.SenderID }

// ContainerID 当前容器
func (t *Tab) ContainerID() string { return t.storage.ContainerID() }

// Config 生效的配置
func (t *Tab) Config() *config.Config { return t.cfg }

// Subscribe 订阅事件总线（渲染层使用 state:* 事件）
func (t *Tab) Subscribe(topics []string, opts ...pkgif.SubscriptionOpt) (pkgif.Subscription, error) {
	return t.bus.Subscribe(topics, opts...)
}

// Overlay 查询单个 overlay
func (t *Tab) Overlay(id string) (*types.Overlay, bool) {
	return t.state.Get(id)
}

// Overlays 当前状态表中的全部 overlay
func (t *Tab) Overlays() []*types.Overlay {
	return t.state.GetAll()
}

// Visible 在本上下文可见的 overlay
func (t *Tab) Visible() []*types.Overlay {
	return t.state.GetVisible()
}

// Minimized 最小化的 overlay
func (t *Tab) Minimized() []*types.Overlay {
	return t.state.GetMinimized()
}

func (t *Tab) checkRunning() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTabClosed
	}
	if !t.started {
		return ErrNotStarted
	}
	return nil
}
