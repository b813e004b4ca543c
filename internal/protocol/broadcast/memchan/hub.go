// Package memchan 提供进程内的广播通道实现
//
// Hub 模拟浏览器的同名广播通道：同名通道上发布的消息投递给除发送者以外的
// 所有订阅者，投递不保证成功。Hub 支持故障注入，用于测试与模拟器。
package memchan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
)

var logger = log.Logger("protocol/memchan")

var (
	// ErrChannelClosed 通道已关闭
	ErrChannelClosed = errors.New("memchan: channel closed")

	// ErrHubClosed Hub 已关闭
	ErrHubClosed = errors.New("memchan: hub closed")
)

// Stats Hub 投递统计
type Stats struct {
	Published int64
	Delivered int64
	Dropped   int64
}

// Hub 进程内广播中心，实现 interfaces.ChannelFactory
type Hub struct {
	mu       sync.RWMutex
	closed   bool
	channels map[string]map[uint64]*Channel
	nextID   uint64

	// 故障注入
	publishErr atomic.Pointer[error]
	pingErr    atomic.Pointer[error]
	openErr    atomic.Pointer[error]
	dropNext   atomic.Int64

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

var _ pkgif.ChannelFactory = (*Hub)(nil)

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[uint64]*Channel)}
}

// Open 打开（加入）一个具名通道
func (h *Hub) Open(name string, handler func(data []byte)) (pkgif.Channel, error) {
	if err := loadErr(&h.openErr); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	ch := &Channel{hub: h, id: h.nextID, name: name, handler: handler}
	peers, ok := h.channels[name]
	if !ok {
		peers = make(map[uint64]*Channel)
		h.channels[name] = peers
	}
	peers[ch.id] = ch
	logger.Debug("打开通道", "name", name, "id", ch.id)
	return ch, nil
}

// Subscribers 返回某通道名的当前订阅者数量
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[name])
}

// Stats 返回投递统计
func (h *Hub) Stats() Stats {
	return Stats{
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close 关闭 Hub 及其全部通道
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, peers := range h.channels {
		for _, ch := range peers {
			ch.closed.Store(true)
		}
	}
	h.channels = make(map[string]map[uint64]*Channel)
	return nil
}

// ============================================================================
//                              故障注入
// ============================================================================

// FailPublish 之后的 Publish 返回 err（nil 表示恢复）
func (h *Hub) FailPublish(err error) { storeErr(&h.publishErr, err) }

// FailPing 之后的 Ping 返回 err（nil 表示恢复）
func (h *Hub) FailPing(err error) { storeErr(&h.pingErr, err) }

// FailOpen 之后的 Open 返回 err（nil 表示恢复）
func (h *Hub) FailOpen(err error) { storeErr(&h.openErr, err) }

// DropNext 静默丢弃接下来 n 条消息（发布成功但不投递）
func (h *Hub) DropNext(n int) { h.dropNext.Store(int64(n)) }

func storeErr(p *atomic.Pointer[error], err error) {
	if err == nil {
		p.Store(nil)
		return
	}
	p.Store(&err)
}

func loadErr(p *atomic.Pointer[error]) error {
	if e := p.Load(); e != nil {
		return *e
	}
	return nil
}

// ============================================================================
//                              内部
// ============================================================================

// deliver 投递给同名通道上除 from 外的订阅者，回调在锁外执行
func (h *Hub) deliver(from *Channel, data []byte) {
	h.published.Add(1)
	if h.dropNext.Load() > 0 && h.dropNext.Add(-1) >= 0 {
		h.dropped.Add(1)
		return
	}

	h.mu.RLock()
	targets := make([]*Channel, 0, len(h.channels[from.name]))
	for id, ch := range h.channels[from.name] {
		if id != from.id {
			targets = append(targets, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		if ch.closed.Load() || ch.handler == nil {
			continue
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		ch.handler(buf)
		h.delivered.Add(1)
	}
}

func (h *Hub) remove(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peers, ok := h.channels[ch.name]; ok {
		delete(peers, ch.id)
		if len(peers) == 0 {
			delete(h.channels, ch.name)
		}
	}
}

// ============================================================================
//                              Channel
// ============================================================================

// Channel Hub 上的一个通道端点
type Channel struct {
	hub     *Hub
	id      uint64
	name    string
	handler func(data []byte)
	closed  atomic.Bool
}

var _ pkgif.Channel = (*Channel)(nil)

// Name 通道名
func (c *Channel) Name() string { return c.name }

// Publish 发布消息
func (c *Channel) Publish(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := loadErr(&c.hub.publishErr); err != nil {
		return err
	}
	c.hub.deliver(c, data)
	return nil
}

// Ping 健康探测
func (c *Channel) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return loadErr(&c.hub.pingErr)
}

// Close 关闭通道
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.hub.remove(c)
	return nil
}
