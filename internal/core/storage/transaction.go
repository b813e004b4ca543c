package storage

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TxMode 事务断路器模式
type TxMode int

const (
	// TxNormal 正常访问协调器
	TxNormal TxMode = iota
	// TxBackoff 超时退避中，暂时直接读存储
	TxBackoff
	// TxTripped 已跳闸，回退模式
	TxTripped
)

// String 返回模式字符串
func (m TxMode) String() string {
	switch m {
	case TxNormal:
		return "NORMAL"
	case TxBackoff:
		return "BACKOFF"
	case TxTripped:
		return "TRIPPED"
	default:
		return "UNKNOWN"
	}
}

// TransactionBreaker 协调器往返断路器
//
//   - 连续失败达到 failureThreshold -> TRIPPED
//   - 第 k 次连续超时进入 backoff[k-1] 的退避窗口，第 len(backoff) 次 TRIPPED
//   - 因失败跳闸时等待 resetAfter，因超时跳闸时等待 backoff 最后一档，之后允许一次探测
//   - 探测成功恢复 NORMAL
//   - 任意一次成功清零所有计数
type TransactionBreaker struct {
	mu    sync.Mutex
	clock clock.Clock

	failureThreshold int
	backoff          []time.Duration
	resetAfter       time.Duration

	failures  int
	timeouts  int
	retryAt   time.Time
	trippedAt time.Time
	cooldown  time.Duration
	tripped   bool
	probing   bool

	onChange func(from, to TxMode)
}

// NewTransactionBreaker 创建事务断路器
func NewTransactionBreaker(failureThreshold int, backoff []time.Duration, resetAfter time.Duration, clk clock.Clock) *TransactionBreaker {
	if clk == nil {
		clk = clock.New()
	}
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if len(backoff) == 0 {
		backoff = []time.Duration{time.Second}
	}
	return &TransactionBreaker{
		clock:            clk,
		failureThreshold: failureThreshold,
		backoff:          backoff,
		resetAfter:       resetAfter,
	}
}

// OnChange 设置模式变化回调（在锁外调用）
func (b *TransactionBreaker) OnChange(fn func(from, to TxMode)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Mode 当前模式
func (b *TransactionBreaker) Mode() TxMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modeLocked()
}

// Allow 是否应当访问协调器
//
// TRIPPED 且 resetAfter 已过时放行一次探测。
func (b *TransactionBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if b.tripped {
		if b.probing || now.Before(b.trippedAt.Add(b.cooldown)) {
			return false
		}
		b.probing = true
		return true
	}
	return !now.Before(b.retryAt)
}

// RecordSuccess 记录一次成功往返
func (b *TransactionBreaker) RecordSuccess() {
	b.mu.Lock()
	from := b.modeLocked()
	b.failures = 0
	b.timeouts = 0
	b.retryAt = time.Time{}
	b.tripped = false
	b.probing = false
	cb := b.onChange
	b.mu.Unlock()

	b.fire(cb, from, TxNormal)
}

// RecordFailure 记录一次非超时失败
func (b *TransactionBreaker) RecordFailure() {
	b.mu.Lock()
	from := b.modeLocked()
	b.failures++
	b.timeouts = 0
	if b.probing || b.failures >= b.failureThreshold {
		b.tripLocked(b.resetAfter)
	}
	to := b.modeLocked()
	cb := b.onChange
	b.mu.Unlock()

	b.fire(cb, from, to)
}

// RecordTimeout 记录一次超时
func (b *TransactionBreaker) RecordTimeout() {
	b.mu.Lock()
	from := b.modeLocked()
	b.failures++
	b.timeouts++
	step := b.backoff[min(b.timeouts, len(b.backoff))-1]
	switch {
	case b.failures >= b.failureThreshold:
		b.tripLocked(b.resetAfter)
	case b.probing || b.timeouts >= len(b.backoff):
		b.tripLocked(step)
	default:
		b.retryAt = b.clock.Now().Add(step)
	}
	to := b.modeLocked()
	cb := b.onChange
	b.mu.Unlock()

	b.fire(cb, from, to)
}

// ConsecutiveTimeouts 当前连续超时次数
func (b *TransactionBreaker) ConsecutiveTimeouts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeouts
}

// RetryAt 退避结束时间（NORMAL 时为零值）
func (b *TransactionBreaker) RetryAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return b.trippedAt.Add(b.cooldown)
	}
	return b.retryAt
}

func (b *TransactionBreaker) tripLocked(cooldown time.Duration) {
	b.tripped = true
	b.cooldown = cooldown
	b.probing = false
	b.trippedAt = b.clock.Now()
	b.retryAt = time.Time{}
}

func (b *TransactionBreaker) modeLocked() TxMode {
	if b.tripped {
		return TxTripped
	}
	if b.clock.Now().Before(b.retryAt) {
		return TxBackoff
	}
	return TxNormal
}

func (b *TransactionBreaker) fire(cb func(from, to TxMode), from, to TxMode) {
	if cb == nil || from == to {
		return
	}
	cb(from, to)
}
