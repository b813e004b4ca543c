package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-quicktabs/config"
	"github.com/dep2p/go-quicktabs/internal/core/circuit"
	"github.com/dep2p/go-quicktabs/internal/core/metrics"
)

// ResourceHeartbeat 心跳断路器资源名
const ResourceHeartbeat = "heartbeat"

// Heartbeat 协调器存活探测
//
// 失败时间隔指数退避（15s -> 30s -> 60s -> 120s 封顶），连续失败达到阈值
// 打开断路器并暂停探测直到冷却结束；任意一次成功把失败计数、间隔和断路器恢复到初始状态。
type Heartbeat struct {
	mu      sync.Mutex
	clock   clock.Clock
	metrics *metrics.Metrics
	ping    func(ctx context.Context) error

	base        time.Duration
	maxInterval time.Duration
	timeout     time.Duration

	interval time.Duration
	failures int
	lastErr  error
	breaker  *circuit.Breaker
	timer    *clock.Timer
	running  bool
}

// NewHeartbeat 创建心跳
func NewHeartbeat(cfg config.ResilienceConfig, ping func(ctx context.Context) error, clk clock.Clock, m *metrics.Metrics) *Heartbeat {
	if clk == nil {
		clk = clock.New()
	}
	h := &Heartbeat{
		clock:       clk,
		metrics:     m,
		ping:        ping,
		base:        cfg.HeartbeatInterval.Duration(),
		maxInterval: cfg.HeartbeatMaxInterval.Duration(),
		timeout:     cfg.OperationTimeout.Duration(),
		interval:    cfg.HeartbeatInterval.Duration(),
		breaker: circuit.New(circuit.Config{
			Name:             ResourceHeartbeat,
			FailureThreshold: cfg.HeartbeatFailureThreshold,
			SuccessThreshold: 1,
			Cooldown:         cfg.HeartbeatCooldown.Duration(),
			HalfOpenProbes:   1,
		}, clk),
	}
	h.breaker.OnStateChange(func(_, to circuit.State) {
		m.SetBreakerState(ResourceHeartbeat, int(to))
	})
	return h
}

// Start 开始周期探测
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.scheduleLocked(h.interval)
}

// Stop 停止探测
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// Beat 执行一次探测
func (h *Heartbeat) Beat(ctx context.Context) error {
	if err := h.breaker.Allow(); err != nil {
		return ErrHeartbeatOpen
	}

	pctx, cancel := h.clock.WithTimeout(ctx, h.timeout)
	err := h.ping(pctx)
	cancel()

	if err == nil {
		h.mu.Lock()
		recovered := h.failures > 0
		h.failures = 0
		h.interval = h.base
		h.lastErr = nil
		h.mu.Unlock()
		h.breaker.Reset()
		if recovered {
			logger.Info("心跳恢复")
		}
		return nil
	}

	h.mu.Lock()
	h.failures++
	h.interval = min(h.interval*2, h.maxInterval)
	h.lastErr = err
	failures, next := h.failures, h.interval
	h.mu.Unlock()

	h.breaker.RecordFailure()
	h.metrics.RecordHeartbeatFailure()
	logger.Warn("心跳失败", "failures", failures, "next", next, "error", err)
	return err
}

// Failures 连续失败次数
func (h *Heartbeat) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

// Interval 当前探测间隔
func (h *Heartbeat) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

// State 心跳断路器状态
func (h *Heartbeat) State() circuit.State {
	return h.breaker.State()
}

// LastError 最近一次失败原因
func (h *Heartbeat) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Heartbeat) tick() {
	_ = h.Beat(context.Background())

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	delay := h.interval
	if h.breaker.State() == circuit.StateOpen {
		// 断路器打开期间暂停探测，冷却结束后再试
		delay = max(h.breaker.RetryAt().Sub(h.clock.Now()), h.base)
	}
	h.scheduleLocked(delay)
}

func (h *Heartbeat) scheduleLocked(d time.Duration) {
	h.timer = h.clock.AfterFunc(d, h.tick)
}
