// Package metrics 提供 Prometheus 监控指标
//
// 所有方法对 nil *Metrics 安全（空操作），组件可以无条件调用。
//
//	m := metrics.NewMetrics(prometheus.NewRegistry())
//	m.RecordRejected(metrics.ReasonSequence)
//	m.SetBreakerState("storage-write", circuit.StateOpen)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "quicktabs"
)

// 广播拒绝原因
const (
	ReasonMalformed = "malformed"
	ReasonSelfEcho  = "self_echo"
	ReasonSequence  = "sequence"
	ReasonContainer = "container"
	ReasonDebounce  = "debounce"
)

// 广播传输方式
const (
	TransportChannel  = "channel"
	TransportFallback = "fallback"
)

// ============================================================================
//                              Metrics
// ============================================================================

// Metrics Quick Tabs 同步核心指标
type Metrics struct {
	// BroadcastSent 已发送的信封数（按传输方式）
	BroadcastSent *prometheus.CounterVec

	// BroadcastReceived 通过全部检查的信封数
	BroadcastReceived prometheus.Counter

	// BroadcastRejected 被拒绝的信封数（按原因）
	BroadcastRejected *prometheus.CounterVec

	// StorageWriteFailures 存储写入失败数
	StorageWriteFailures prometheus.Counter

	// StorageChangesSuppressed 被识别为自写入而忽略的存储变更数
	StorageChangesSuppressed prometheus.Counter

	// BreakerState 断路器状态（0=CLOSED, 1=OPEN, 2=HALF_OPEN）
	BreakerState *prometheus.GaugeVec

	// OperationsShed 被负载削减拒绝的操作数（按优先级）
	OperationsShed *prometheus.CounterVec

	// OperationTimeouts 超时被放弃的操作数
	OperationTimeouts prometheus.Counter

	// HeartbeatFailures 心跳失败数
	HeartbeatFailures prometheus.Counter

	// QueueDepth 当前队列深度
	QueueDepth prometheus.Gauge
}

// NewMetrics 创建并注册指标
//
// reg 为 nil 时只创建不注册（测试与禁用指标时使用）。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BroadcastSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "sent_total",
			Help:      "Total number of sync envelopes sent by transport",
		}, []string{"transport"}),
		BroadcastReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "received_total",
			Help:      "Total number of sync envelopes accepted",
		}),
		BroadcastRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "rejected_total",
			Help:      "Total number of sync envelopes rejected by reason",
		}, []string{"reason"}),
		StorageWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_failures_total",
			Help:      "Total number of failed storage writes",
		}),
		StorageChangesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "self_changes_suppressed_total",
			Help:      "Total number of storage changes ignored as self writes",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per resource (0=closed, 1=open, 2=half-open)",
		}, []string{"resource"}),
		OperationsShed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "shed_total",
			Help:      "Total number of operations rejected by load shedding",
		}, []string{"priority"}),
		OperationTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "operation_timeouts_total",
			Help:      "Total number of operations abandoned after timeout",
		}),
		HeartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "heartbeat_failures_total",
			Help:      "Total number of failed coordinator heartbeats",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "queue_depth",
			Help:      "Current combined depth of pending queues",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BroadcastSent,
			m.BroadcastReceived,
			m.BroadcastRejected,
			m.StorageWriteFailures,
			m.StorageChangesSuppressed,
			m.BreakerState,
			m.OperationsShed,
			m.OperationTimeouts,
			m.HeartbeatFailures,
			m.QueueDepth,
		)
	}

	return m
}

// RecordSent 记录一次发送
func (m *Metrics) RecordSent(transport string) {
	if m == nil {
		return
	}
	m.BroadcastSent.WithLabelValues(transport).Inc()
}

// RecordReceived 记录一次接受
func (m *Metrics) RecordReceived() {
	if m == nil {
		return
	}
	m.BroadcastReceived.Inc()
}

// RecordRejected 记录一次拒绝
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.BroadcastRejected.WithLabelValues(reason).Inc()
}

// RecordStorageWriteFailure 记录一次存储写入失败
func (m *Metrics) RecordStorageWriteFailure() {
	if m == nil {
		return
	}
	m.StorageWriteFailures.Inc()
}

// RecordSuppressedChange 记录一次被忽略的自写入
func (m *Metrics) RecordSuppressedChange() {
	if m == nil {
		return
	}
	m.StorageChangesSuppressed.Inc()
}

// SetBreakerState 设置断路器状态
//
// state 使用 circuit.State 的数值（避免循环依赖，这里只要求 int）。
func (m *Metrics) SetBreakerState(resource string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(resource).Set(float64(state))
}

// RecordShed 记录一次负载削减
func (m *Metrics) RecordShed(priority string) {
	if m == nil {
		return
	}
	m.OperationsShed.WithLabelValues(priority).Inc()
}

// RecordOperationTimeout 记录一次操作超时
func (m *Metrics) RecordOperationTimeout() {
	if m == nil {
		return
	}
	m.OperationTimeouts.Inc()
}

// RecordHeartbeatFailure 记录一次心跳失败
func (m *Metrics) RecordHeartbeatFailure() {
	if m == nil {
		return
	}
	m.HeartbeatFailures.Inc()
}

// SetQueueDepth 设置队列深度
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
