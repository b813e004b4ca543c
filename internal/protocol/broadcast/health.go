package broadcast

import (
	"context"
	"time"

	"github.com/dep2p/go-quicktabs/internal/core/circuit"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// ============================================================================
//                              重连
// ============================================================================

// scheduleReconnectLocked 关闭当前通道并安排一次退避重连
//
// 返回需要在锁外发出的回退事件（已在重连或已永久回退时返回 nil）。
func (m *Manager) scheduleReconnectLocked(cause error) *types.BroadcastFallbackEvent {
	if m.reconnecting || m.permanentFallback || !m.running {
		return nil
	}
	m.reconnecting = true
	m.closeChannelLocked()
	delay := m.backoffLocked()
	m.reconnectTimer = m.clock.AfterFunc(delay, m.reconnect)
	m.metrics.SetBreakerState(ResourceChannel, int(circuit.StateOpen))

	logger.Info("安排广播通道重连", "delay", delay, "attempt", m.reconnectAttempts+1)
	reason := "channel unavailable"
	if cause != nil {
		reason = cause.Error()
	}
	return &types.BroadcastFallbackEvent{Permanent: false, Reason: reason}
}

// backoffLocked 第 n 次重连前的等待时间：base * 2^n，不超过上限
func (m *Manager) backoffLocked() time.Duration {
	d := m.cfg.ReconnectBaseDelay.Duration()
	limit := m.cfg.ReconnectMaxDelay.Duration()
	for i := 0; i < m.reconnectAttempts; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}

// reconnect 重连定时器回调
func (m *Manager) reconnect() {
	m.mu.Lock()
	if !m.running || !m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	err := m.openChannelLocked()
	ch := m.channel
	m.mu.Unlock()

	if err == nil {
		ctx, cancel := m.clock.WithTimeout(context.Background(), probeTimeout)
		err = ch.Ping(ctx)
		cancel()
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if err == nil {
		m.reconnecting = false
		m.reconnectAttempts = 0
		m.consecutiveFailures = 0
		m.mu.Unlock()
		logger.Info("广播通道已重连", "attempt", attempt)
		return
	}

	m.closeChannelLocked()
	if attempt >= m.cfg.MaxReconnectAttempts {
		m.reconnecting = false
		m.permanentFallback = true
		m.metrics.SetBreakerState(ResourceChannel, int(circuit.StateOpen))
		m.mu.Unlock()

		logger.Warn("广播通道重连失败次数过多，永久切换到存储回退", "attempts", attempt, "error", err)
		m.emit(types.EventBroadcastFallback, types.BroadcastFallbackEvent{Permanent: true, Reason: err.Error()})
		return
	}
	delay := m.backoffLocked()
	m.reconnectTimer = m.clock.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	logger.Warn("广播通道重连失败", "attempt", attempt, "next", delay, "error", err)
}

// ============================================================================
//                              恢复与容器切换
// ============================================================================

// Resume 上下文从冻结中恢复后校验通道，失效时立即重建
//
// 已永久回退或正在退避重连时不做任何事。
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.permanentFallback || m.reconnecting {
		m.mu.Unlock()
		return nil
	}
	ch := m.channel
	m.mu.Unlock()

	if ch != nil {
		pctx, cancel := m.clock.WithTimeout(ctx, probeTimeout)
		err := ch.Ping(pctx)
		cancel()
		if err == nil {
			return nil
		}
		logger.Info("恢复后通道失效，重建", "error", err)
	}

	m.mu.Lock()
	if m.channel != ch || m.reconnecting || m.permanentFallback {
		m.mu.Unlock()
		return nil
	}
	m.closeChannelLocked()
	err := m.openChannelLocked()
	var fallbackEv *types.BroadcastFallbackEvent
	if err != nil {
		fallbackEv = m.scheduleReconnectLocked(err)
	} else {
		m.consecutiveFailures = 0
	}
	m.mu.Unlock()

	if fallbackEv != nil {
		m.emit(types.EventBroadcastFallback, *fallbackEv)
	}
	return err
}

// UpdateContainer 切换容器并为新容器重建通道
func (m *Manager) UpdateContainer(containerID string) error {
	if containerID == "" {
		containerID = types.DefaultContainerID
	}

	m.mu.Lock()
	if containerID == m.containerID {
		m.mu.Unlock()
		return nil
	}
	old := m.containerID
	m.containerID = containerID
	m.recent.Purge()
	if !m.running || m.reconnecting || m.permanentFallback {
		m.mu.Unlock()
		return nil
	}
	m.closeChannelLocked()
	err := m.openChannelLocked()
	var fallbackEv *types.BroadcastFallbackEvent
	if err != nil {
		fallbackEv = m.scheduleReconnectLocked(err)
	}
	m.mu.Unlock()

	logger.Info("广播容器已切换", "from", old, "to", containerID)
	if fallbackEv != nil {
		m.emit(types.EventBroadcastFallback, *fallbackEv)
	}
	return err
}

// ============================================================================
//                              后台任务
// ============================================================================

// probe 周期性通道探测
func (m *Manager) probe() {
	m.mu.Lock()
	ch := m.channel
	skip := ch == nil || m.reconnecting || m.permanentFallback || !m.running
	ctx := m.ctx
	m.mu.Unlock()
	if skip {
		return
	}

	pctx, cancel := m.clock.WithTimeout(ctx, probeTimeout)
	err := ch.Ping(pctx)
	cancel()
	if err == nil {
		return
	}

	logger.Warn("广播通道探测失败", "error", err)
	m.mu.Lock()
	var fallbackEv *types.BroadcastFallbackEvent
	if m.channel == ch {
		fallbackEv = m.scheduleReconnectLocked(err)
	}
	m.mu.Unlock()
	if fallbackEv != nil {
		m.emit(types.EventBroadcastFallback, *fallbackEv)
	}
}

// sweep 清扫过期回退记录
func (m *Manager) sweep() {
	n, err := m.store.SweepBroadcastRecords(m.cfg.FallbackTTL.Duration())
	if err != nil {
		logger.Debug("清扫回退记录失败", "error", err)
		return
	}
	if n > 0 {
		logger.Debug("已清扫回退记录", "count", n)
	}
}
