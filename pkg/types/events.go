package types

import "time"

// ============================================================================
//                              事件主题
// ============================================================================

// 状态生命周期事件（渲染层订阅）
const (
	EventStateAdded    = "state:added"
	EventStateUpdated  = "state:updated"
	EventStateDeleted  = "state:deleted"
	EventStateCleared  = "state:cleared"
	EventStateHydrated = "state:hydrated"
	EventStateZOrder   = "state:zorder"
)

// 存储与广播事件
const (
	EventStorageChanged     = "storage:changed"
	EventBroadcastReceived  = "broadcast:received"
	EventBroadcastAnomaly   = "broadcast:anomaly"
	EventBroadcastViolation = "broadcast:violation"
	EventBroadcastError     = "broadcast:error"
	EventBroadcastFallback  = "broadcast:fallback"
	EventCircuitChanged     = "circuit:changed"
)

// Event 事件总线上的事件
type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

// ============================================================================
//                              事件 Payload
// ============================================================================

// StateEvent 状态生命周期事件 payload
type StateEvent struct {
	Overlay  *Overlay
	Overlays []*Overlay
}

// StorageChangedEvent 去抖后的存储变更，只携带最新快照
type StorageChangedEvent struct {
	ContainerID string
	Overlays    []*Overlay
	LastUpdate  int64
	SaveID      string
}

// SequenceAnomalyEvent 序列号非递增
type SequenceAnomalyEvent struct {
	SenderID string
	Sequence uint64
	LastSeen uint64
	Type     MessageType
}

// ContainerViolationEvent 跨容器信封
type ContainerViolationEvent struct {
	SenderID string
	Expected string
	Got      string
	Type     MessageType
}

// BroadcastErrorEvent 通道发送失败
type BroadcastErrorEvent struct {
	Err                 error
	ConsecutiveFailures int
}

// BroadcastFallbackEvent 切换到存储回退传输
type BroadcastFallbackEvent struct {
	Permanent bool
	Reason    string
}

// CircuitChangedEvent 断路器状态变化
type CircuitChangedEvent struct {
	Resource string
	From     string
	To       string
}
