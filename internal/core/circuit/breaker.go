// Package circuit 提供通用断路器
//
// 三态状态机：
//
//	CLOSED --连续失败达到阈值--> OPEN --冷却结束--> HALF_OPEN
//	HALF_OPEN --连续成功达到阈值--> CLOSED
//	HALF_OPEN --任一失败--> OPEN
//
// 冷却期在查询时惰性计算（基于注入的 clock），不依赖后台 goroutine。
// 存储写入、广播通道、心跳各自持有一个独立的 Breaker。
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-quicktabs/pkg/lib/log"
)

var logger = log.Logger("core/circuit")

// ErrOpen 断路器处于打开状态，请求被拒绝
var ErrOpen = errors.New("circuit: breaker open")

// ============================================================================
//                              State
// ============================================================================

// State 断路器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 拒绝所有请求
	StateOpen
	// StateHalfOpen 允许有限探测
	StateHalfOpen
)

// String 返回状态字符串
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ============================================================================
//                              Config
// ============================================================================

// Config 断路器配置
type Config struct {
	// Name 资源名称（日志与事件中使用）
	Name string

	// FailureThreshold 打开所需的连续失败次数
	FailureThreshold int

	// SuccessThreshold 半开状态下关闭所需的连续成功次数
	// 默认值: 1
	SuccessThreshold int

	// Cooldown 打开后进入半开的等待时间
	Cooldown time.Duration

	// HalfOpenProbes 半开状态下允许同时进行的探测数
	// 默认值: 1
	HalfOpenProbes int
}

func (c *Config) normalize() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 1
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 1
	}
	if c.HalfOpenProbes < 1 {
		c.HalfOpenProbes = 1
	}
}

// ============================================================================
//                              Breaker
// ============================================================================

// Breaker 断路器
type Breaker struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock

	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time

	callbacksMu sync.RWMutex
	callbacks   []func(from, to State)
}

type transition struct {
	from, to State
}

// New 创建断路器
func New(cfg Config, clk clock.Clock) *Breaker {
	cfg.normalize()
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{
		cfg:   cfg,
		clock: clk,
		state: StateClosed,
	}
}

// Name 资源名称
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// OnStateChange 注册状态变化回调
//
// 回调在锁外、触发状态变化的 goroutine 中执行。
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.callbacksMu.Lock()
	defer b.callbacksMu.Unlock()
	b.callbacks = append(b.callbacks, fn)
}

// State 返回当前状态（会惰性推进 OPEN -> HALF_OPEN）
func (b *Breaker) State() State {
	b.mu.Lock()
	tr := b.advanceLocked()
	s := b.state
	b.mu.Unlock()
	b.notify(tr)
	return s
}

// Failures 返回当前连续失败次数
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow 请求放行
//
// OPEN 且冷却未结束时返回 ErrOpen；HALF_OPEN 下探测名额用尽时同样返回 ErrOpen。
// 放行后调用方必须调用 RecordSuccess 或 RecordFailure 之一。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	tr := b.advanceLocked()
	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			err = ErrOpen
		} else {
			b.probes++
		}
	}
	b.mu.Unlock()
	b.notify(tr)
	return err
}

// RecordSuccess 记录一次成功
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var tr *transition
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			tr = b.setStateLocked(StateClosed)
		}
	}
	b.mu.Unlock()
	b.notify(tr)
}

// RecordFailure 记录一次失败
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var tr *transition
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			tr = b.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		b.failures++
		tr = b.setStateLocked(StateOpen)
	case StateOpen:
		b.failures++
	}
	b.mu.Unlock()
	b.notify(tr)
}

// Execute 在断路器保护下执行 fn
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Trip 强制打开
func (b *Breaker) Trip() {
	b.mu.Lock()
	tr := b.setStateLocked(StateOpen)
	b.mu.Unlock()
	b.notify(tr)
}

// Reset 强制关闭并清空计数
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.setStateLocked(StateClosed)
	b.mu.Unlock()
	b.notify(tr)
}

// RetryAt 打开状态下允许探测的时间点，非打开状态返回零值
func (b *Breaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return time.Time{}
	}
	return b.openedAt.Add(b.cfg.Cooldown)
}

// ============================================================================
//                              内部方法
// ============================================================================

// advanceLocked 冷却结束时 OPEN -> HALF_OPEN
func (b *Breaker) advanceLocked() *transition {
	if b.state == StateOpen && !b.clock.Now().Before(b.openedAt.Add(b.cfg.Cooldown)) {
		return b.setStateLocked(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) setStateLocked(to State) *transition {
	from := b.state
	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
		b.probes = 0
	case StateOpen:
		b.openedAt = b.clock.Now()
		b.successes = 0
		b.probes = 0
	case StateHalfOpen:
		b.successes = 0
		b.probes = 0
	}
	b.state = to
	if from == to {
		return nil
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(tr *transition) {
	if tr == nil {
		return
	}
	if tr.to == StateOpen {
		logger.Warn("断路器打开", "resource", b.cfg.Name, "from", tr.from.String())
	} else {
		logger.Info("断路器状态变化", "resource", b.cfg.Name, "from", tr.from.String(), "to", tr.to.String())
	}

	b.callbacksMu.RLock()
	callbacks := make([]func(from, to State), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.callbacksMu.RUnlock()

	for _, cb := range callbacks {
		cb(tr.from, tr.to)
	}
}
