package resilience

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-quicktabs/config"
)

// AdaptiveTimeout 根据最近的往返延迟计算响应超时
//
// timeout = max(default, min(max, p90 × multiplier))，样本不足时取 default；
// 恢复窗口内结果翻倍（不超过 max）。
type AdaptiveTimeout struct {
	mu    sync.Mutex
	clock clock.Clock

	def        time.Duration
	max        time.Duration
	multiplier float64
	window     int
	minSamples int
	recovery   time.Duration

	samples       []time.Duration
	recoveryUntil time.Time
}

// NewAdaptiveTimeout 创建自适应超时
func NewAdaptiveTimeout(cfg config.ResilienceConfig, clk clock.Clock) *AdaptiveTimeout {
	if clk == nil {
		clk = clock.New()
	}
	return &AdaptiveTimeout{
		clock:      clk,
		def:        cfg.DefaultResponseTimeout.Duration(),
		max:        cfg.MaxResponseTimeout.Duration(),
		multiplier: cfg.LatencyMultiplier,
		window:     max(cfg.LatencySamples, 1),
		minSamples: max(cfg.MinLatencySamples, 1),
		recovery:   cfg.RecoveryWindow.Duration(),
	}
}

// Record 记录一次成功往返的延迟
func (a *AdaptiveTimeout) Record(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, d)
	if n := len(a.samples); n > a.window {
		a.samples = slices.Delete(a.samples, 0, n-a.window)
	}
}

// Samples 当前样本数
func (a *AdaptiveTimeout) Samples() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// EnterRecovery 打开协调器重启恢复窗口
func (a *AdaptiveTimeout) EnterRecovery() {
	a.mu.Lock()
	a.recoveryUntil = a.clock.Now().Add(a.recovery)
	a.mu.Unlock()
}

// InRecovery 是否处于恢复窗口
func (a *AdaptiveTimeout) InRecovery() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clock.Now().Before(a.recoveryUntil)
}

// Timeout 当前应使用的超时
func (a *AdaptiveTimeout) Timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.def
	if len(a.samples) >= a.minSamples {
		scaled := time.Duration(float64(p90(a.samples)) * a.multiplier)
		t = max(a.def, min(a.max, scaled))
	}
	if a.clock.Now().Before(a.recoveryUntil) {
		t = min(a.max, t*2)
	}
	return t
}

// p90 最近邻秩法的 90 分位
func p90(samples []time.Duration) time.Duration {
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	idx := int(math.Ceil(0.9*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
