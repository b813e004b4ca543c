package quicktabs

import (
	"time"

	"github.com/dep2p/go-quicktabs/pkg/types"
)

// BroadcastStats 广播统计
type BroadcastStats struct {
	Sequence            uint64 `json:"sequence" yaml:"sequence"`
	SentChannel         int64  `json:"sentChannel" yaml:"sentChannel"`
	SentFallback        int64  `json:"sentFallback" yaml:"sentFallback"`
	SendFailures        int64  `json:"sendFailures" yaml:"sendFailures"`
	Received            int64  `json:"received" yaml:"received"`
	Rejected            int64  `json:"rejected" yaml:"rejected"`
	ConsecutiveFailures int    `json:"consecutiveFailures" yaml:"consecutiveFailures"`
	ReconnectAttempts   int    `json:"reconnectAttempts" yaml:"reconnectAttempts"`
	Reconnecting        bool   `json:"reconnecting" yaml:"reconnecting"`
	PermanentFallback   bool   `json:"permanentFallback" yaml:"permanentFallback"`
	UsingFallback       bool   `json:"usingFallback" yaml:"usingFallback"`
}

// Diagnostics Tab 诊断快照
type Diagnostics struct {
	ContextID   string `json:"contextId" yaml:"contextId"`
	SenderID    string `json:"senderId" yaml:"senderId"`
	ContainerID string `json:"containerId" yaml:"containerId"`

	Overlays  int `json:"overlays" yaml:"overlays"`
	Visible   int `json:"visible" yaml:"visible"`
	Minimized int `json:"minimized" yaml:"minimized"`

	Hydrated         bool `json:"hydrated" yaml:"hydrated"`
	PendingHydration int  `json:"pendingHydration" yaml:"pendingHydration"`

	Broadcast BroadcastStats `json:"broadcast" yaml:"broadcast"`

	WriteBreaker    string `json:"writeBreaker" yaml:"writeBreaker"`
	TransactionMode string `json:"transactionMode" yaml:"transactionMode"`
	PendingSaves    int    `json:"pendingSaves" yaml:"pendingSaves"`

	HeartbeatState    string        `json:"heartbeatState" yaml:"heartbeatState"`
	HeartbeatFailures int           `json:"heartbeatFailures" yaml:"heartbeatFailures"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval"`

	QueueDepth      int           `json:"queueDepth" yaml:"queueDepth"`
	QueueCapacity   int           `json:"queueCapacity" yaml:"queueCapacity"`
	ResponseTimeout time.Duration `json:"responseTimeout" yaml:"responseTimeout"`

	CoordinatorInstance string `json:"coordinatorInstance,omitempty" yaml:"coordinatorInstance,omitempty"`
	CoordinatorRestarts int    `json:"coordinatorRestarts" yaml:"coordinatorRestarts"`
	InvalidResponses    int    `json:"invalidResponses" yaml:"invalidResponses"`

	DroppedEvents int64 `json:"droppedEvents" yaml:"droppedEvents"`
}

// Diagnostics 返回当前诊断快照
func (t *Tab) Diagnostics() (Diagnostics, error) {
	if err := t.checkRunning(); err != nil {
		return Diagnostics{}, err
	}

	bs := t.broadcast.Stats()
	var dropped int64
	for _, topic := range []string{
		types.EventStateAdded, types.EventStateUpdated, types.EventStateDeleted,
		types.EventStateCleared, types.EventStateHydrated, types.EventStateZOrder,
		types.EventStorageChanged, types.EventBroadcastReceived,
	} {
		dropped += t.bus.DroppedEvents(topic)
	}

	return Diagnostics{
		ContextID:   t.id.ContextID,
		SenderID:    t.id.SenderID,
		ContainerID: t.storage.ContainerID(),

		Overlays:  t.state.Count(),
		Visible:   len(t.state.GetVisible()),
		Minimized: len(t.state.GetMinimized()),

		Hydrated:         t.gate.Hydrated(),
		PendingHydration: t.gate.Pending(),

		Broadcast: BroadcastStats{
			Sequence:            bs.Sequence,
			SentChannel:         bs.SentChannel,
			SentFallback:        bs.SentFallback,
			SendFailures:        bs.SendFailures,
			Received:            bs.Received,
			Rejected:            bs.Rejected,
			ConsecutiveFailures: bs.ConsecutiveFailures,
			ReconnectAttempts:   bs.ReconnectAttempts,
			Reconnecting:        bs.Reconnecting,
			PermanentFallback:   bs.PermanentFallback,
			UsingFallback:       t.broadcast.UsingFallback(),
		},

		WriteBreaker:    t.storage.WriteBreakerState().String(),
		TransactionMode: t.storage.TransactionMode().String(),
		PendingSaves:    t.storage.PendingSaves(),

		HeartbeatState:    t.heartbeat.State().String(),
		HeartbeatFailures: t.heartbeat.Failures(),
		HeartbeatInterval: t.heartbeat.Interval(),

		QueueDepth:      t.shedder.Depth(),
		QueueCapacity:   t.shedder.Capacity(),
		ResponseTimeout: t.adaptive.Timeout(),

		CoordinatorInstance: t.client.InstanceID(),
		CoordinatorRestarts: t.client.Restarts(),
		InvalidResponses:    t.client.InvalidResponses(),

		DroppedEvents: dropped,
	}, nil
}
