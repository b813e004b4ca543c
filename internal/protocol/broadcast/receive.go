package broadcast

import (
	"time"

	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// ============================================================================
//                              接收管线
// ============================================================================

// receive 处理一条来自通道或回退记录的原始消息
func (m *Manager) receive(data []byte, transport string) {
	msg, err := types.DecodeMessage(data)
	if err != nil {
		m.reject(metrics.ReasonMalformed)
		logger.Debug("丢弃无法解析的广播消息", "transport", transport, "error", err)
		return
	}
	if err := m.admit(msg); err != nil {
		return
	}
	m.metrics.RecordReceived()
	m.emit(types.EventBroadcastReceived, msg)
}

// admit 依次执行自回声、序列号、容器、去抖检查
func (m *Manager) admit(msg *types.SyncMessage) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotStarted
	}

	if msg.SenderID == m.senderID {
		m.stats.Rejected++
		m.mu.Unlock()
		m.metrics.RecordRejected(metrics.ReasonSelfEcho)
		return ErrSelfEcho
	}

	if last, ok := m.lastSeq.Get(msg.SenderID); ok && msg.Sequence <= last {
		m.stats.Rejected++
		m.mu.Unlock()

		logger.Warn("广播序列号异常", "sender", msg.SenderID, "sequence", msg.Sequence, "last", last, "type", msg.Type)
		m.metrics.RecordRejected(metrics.ReasonSequence)
		m.emit(types.EventBroadcastAnomaly, types.SequenceAnomalyEvent{
			SenderID: msg.SenderID,
			Sequence: msg.Sequence,
			LastSeen: last,
			Type:     msg.Type,
		})
		return ErrSequenceAnomaly
	}
	m.lastSeq.Add(msg.SenderID, msg.Sequence)

	if msg.ContainerID != "" && msg.ContainerID != m.containerID {
		expected := m.containerID
		m.stats.Rejected++
		m.mu.Unlock()

		logger.Warn("广播容器不匹配", "sender", msg.SenderID, "expected", expected, "got", msg.ContainerID)
		m.metrics.RecordRejected(metrics.ReasonContainer)
		m.emit(types.EventBroadcastViolation, types.ContainerViolationEvent{
			SenderID: msg.SenderID,
			Expected: expected,
			Got:      msg.ContainerID,
			Type:     msg.Type,
		})
		return ErrContainerViolation
	}

	key := msg.SenderID + "|" + string(msg.Type) + "|" + msg.OverlayID()
	now := m.clock.Now()
	if last, ok := m.recent.Get(key); ok && now.Sub(last) < m.debounceWindow(msg.Type) {
		m.stats.Rejected++
		m.mu.Unlock()
		m.metrics.RecordRejected(metrics.ReasonDebounce)
		return ErrDebounced
	}
	m.recent.Add(key, now)
	m.stats.Received++
	m.mu.Unlock()
	return nil
}

// debounceWindow 位置/尺寸使用高频窗口，其余使用低频窗口
func (m *Manager) debounceWindow(t types.MessageType) time.Duration {
	if t.HighFrequency() {
		return m.cfg.HighFrequencyDebounce.Duration()
	}
	return m.cfg.LowFrequencyDebounce.Duration()
}

func (m *Manager) reject(reason string) {
	m.mu.Lock()
	m.stats.Rejected++
	m.mu.Unlock()
	m.metrics.RecordRejected(reason)
}
