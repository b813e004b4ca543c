// Package eventbus 实现事件总线
//
// 每个 Tab 拥有一个独立的 Bus，StateManager / StorageManager /
// BroadcastManager 通过它发射生命周期与诊断事件。
//
// 两种消费方式：
//   - Handle: 同步处理器，在 Emit 调用方 goroutine 中按注册顺序执行，
//     用于组件之间的管线连接（storage:changed -> StateManager）
//   - Subscribe: 带缓冲通道，缓冲区满时丢弃，用于渲染层与诊断
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

var logger = log.Logger("core/eventbus")

var (
	// ErrClosed 事件总线已关闭
	ErrClosed = errors.New("eventbus closed")
	// ErrNoTopics 订阅时未指定主题
	ErrNoTopics = errors.New("eventbus: no topics")
)

// ════════════════════════════════════════════════════════════════════════════
//                              Bus
// ════════════════════════════════════════════════════════════════════════════

// Bus 事件总线
type Bus struct {
	mu     sync.RWMutex
	clock  clock.Clock
	closed bool

	topics map[string]*topicState

	nextHandlerID atomic.Uint64
}

// topicState 一个主题的处理器与通道订阅
type topicState struct {
	mu       sync.Mutex
	name     string
	subs     []*Subscription
	handlers []handlerEntry
	dropped  atomic.Int64
}

type handlerEntry struct {
	id uint64
	fn func(types.Event)
}

// NewBus 创建新的事件总线
func NewBus(clk clock.Clock) *Bus {
	if clk == nil {
		clk = clock.New()
	}
	return &Bus{
		clock:  clk,
		topics: make(map[string]*topicState),
	}
}

// Emit 发射事件
func (b *Bus) Emit(topic string, payload any) {
	b.mu.RLock()
	n, ok := b.topics[topic]
	closed := b.closed
	b.mu.RUnlock()
	if !ok || closed {
		return
	}

	ev := types.Event{Topic: topic, Payload: payload, At: b.clock.Now()}

	n.mu.Lock()
	handlers := make([]handlerEntry, len(n.handlers))
	copy(handlers, n.handlers)
	n.mu.Unlock()

	// 处理器在锁外执行，可以在处理器内再次 Emit
	for _, h := range handlers {
		h.fn(ev)
	}

	n.deliver(ev)
}

// Subscribe 订阅主题
func (b *Bus) Subscribe(topics []string, opts ...pkgif.SubscriptionOpt) (pkgif.Subscription, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}

	settings := &pkgif.SubscriptionSettings{Buffer: 16}
	for _, opt := range opts {
		opt(settings)
	}

	sub := &Subscription{
		bus:    b,
		topics: topics,
		out:    make(chan types.Event, settings.Buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	for _, topic := range topics {
		n := b.topicLocked(topic)
		n.mu.Lock()
		n.subs = append(n.subs, sub)
		n.mu.Unlock()
	}
	return sub, nil
}

// Handle 注册同步处理器
func (b *Bus) Handle(topic string, fn func(types.Event)) (cancel func()) {
	id := b.nextHandlerID.Add(1)

	b.mu.Lock()
	n := b.topicLocked(topic)
	n.mu.Lock()
	n.handlers = append(n.handlers, handlerEntry{id: id, fn: fn})
	n.mu.Unlock()
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, h := range n.handlers {
				if h.id == id {
					n.handlers = append(n.handlers[:i], n.handlers[i+1:]...)
					break
				}
			}
		})
	}
}

// DroppedEvents 返回指定主题因慢消费者丢弃的事件数
func (b *Bus) DroppedEvents(topic string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n, ok := b.topics[topic]; ok {
		return n.dropped.Load()
	}
	return 0
}

// Close 关闭事件总线，关闭所有订阅
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*Subscription
	for _, n := range b.topics {
		n.mu.Lock()
		subs = append(subs, n.subs...)
		n.mu.Unlock()
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              内部
// ════════════════════════════════════════════════════════════════════════════

// topicLocked 获取或创建主题，调用方持有 b.mu 写锁
func (b *Bus) topicLocked(topic string) *topicState {
	n, ok := b.topics[topic]
	if !ok {
		n = &topicState{name: topic}
		b.topics[topic] = n
	}
	return n
}

// detach 把订阅从它的全部主题上摘除
func (b *Bus) detach(sub *Subscription) {
	b.mu.RLock()
	states := make([]*topicState, 0, len(sub.topics))
	for _, topic := range sub.topics {
		if n, ok := b.topics[topic]; ok {
			states = append(states, n)
		}
	}
	b.mu.RUnlock()

	for _, n := range states {
		n.mu.Lock()
		for i, s := range n.subs {
			if s == sub {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
		n.mu.Unlock()
	}
}

// deliver 非阻塞地投递到通道订阅者，缓冲区满时丢弃
//
// 投递持有主题锁；Subscription.Close 先摘除再关闭通道。
func (n *topicState) deliver(ev types.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		select {
		case sub.out <- ev:
		default:
			dropped := n.dropped.Add(1)
			if dropped%100 == 1 {
				logger.Warn("订阅者缓冲区已满，丢弃事件", "topic", n.name, "dropped", dropped)
			}
		}
	}
}

var _ pkgif.EventBus = (*Bus)(nil)
