package resilience

import (
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-quicktabs/config"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// ============================================================================
//                              LoadShedder
// ============================================================================

// TestLoadShedder_Tiers 各优先级在阈值两侧的放行结果
func TestLoadShedder_Tiers(t *testing.T) {
	tests := []struct {
		depth    int
		low      bool
		medium   bool
		high     bool
		critical bool
	}{
		{depth: 0, low: true, medium: true, high: true, critical: true},
		{depth: 149, low: true, medium: true, high: true, critical: true},
		{depth: 150, low: false, medium: true, high: true, critical: true},
		{depth: 224, low: false, medium: true, high: true, critical: true},
		{depth: 225, low: false, medium: false, high: true, critical: true},
		{depth: 269, low: false, medium: false, high: true, critical: true},
		{depth: 270, low: false, medium: false, high: false, critical: true},
		{depth: 299, low: false, medium: false, high: false, critical: true},
		{depth: 300, low: false, medium: false, high: false, critical: true},
		{depth: 301, low: false, medium: false, high: false, critical: true},
		{depth: 360, low: false, medium: false, high: false, critical: true},
	}

	for _, tt := range tests {
		s := NewLoadShedder(300, nil)
		s.SetDepth("q", tt.depth)

		assert.Equal(t, tt.low, s.Admit("op", PriorityLow) == nil, "low at %d", tt.depth)
		assert.Equal(t, tt.medium, s.Admit("op", PriorityMedium) == nil, "medium at %d", tt.depth)
		assert.Equal(t, tt.high, s.Admit("op", PriorityHigh) == nil, "high at %d", tt.depth)
		assert.Equal(t, tt.critical, s.Admit("op", PriorityCritical) == nil, "critical at %d", tt.depth)
	}
}

func TestLoadShedder_ShedErrorDetails(t *testing.T) {
	s := NewLoadShedder(300, nil)
	s.SetDepth("dispatch", 200)
	s.SetDepth("hydration", 30)
	assert.Equal(t, 230, s.Depth())

	err := s.Admit("position", PriorityMedium)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShed)

	var shed *ShedError
	require.ErrorAs(t, err, &shed)
	assert.True(t, shed.Retryable())
	assert.Equal(t, 230, shed.Depth)
	assert.Equal(t, 300, shed.Capacity)
	assert.InDelta(t, 0.75, shed.Threshold, 0.0001)
	assert.Equal(t, PriorityMedium, shed.Priority)
}

func TestLoadShedder_SetDepthZeroRemovesQueue(t *testing.T) {
	s := NewLoadShedder(10, nil)
	s.SetDepth("a", 4)
	s.SetDepth("b", 3)
	s.SetDepth("a", 0)
	assert.Equal(t, 3, s.Depth())
	assert.InDelta(t, 0.3, s.Load(), 0.0001)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityCritical, PriorityFor(pkgif.ActionCreateOverlay))
	assert.Equal(t, PriorityHigh, PriorityFor(pkgif.ActionCloseOverlay))
	assert.Equal(t, PriorityHigh, PriorityFor(pkgif.ActionMinimizeOverlay))
	assert.Equal(t, PriorityHigh, PriorityFor(pkgif.ActionRestoreOverlay))
	assert.Equal(t, PriorityHigh, PriorityFor(pkgif.ActionGetFullState))
	assert.Equal(t, PriorityLow, PriorityFor(pkgif.ActionPing))
	assert.Equal(t, "critical", PriorityCritical.String())
}

// ============================================================================
//                              AdaptiveTimeout
// ============================================================================

func TestAdaptiveTimeout_Formula(t *testing.T) {
	clk := clock.NewMock()
	a := NewAdaptiveTimeout(config.DefaultResilienceConfig(), clk)

	// 样本不足取默认值
	assert.Equal(t, 5*time.Second, a.Timeout())
	a.Record(10 * time.Second)
	a.Record(10 * time.Second)
	assert.Equal(t, 5*time.Second, a.Timeout())

	// p90 × 4 低于默认值时取默认值
	b := NewAdaptiveTimeout(config.DefaultResilienceConfig(), clk)
	for _i := 0; _i < 3; _i++ {
		b.Record(time.Second)
	}
	assert.Equal(t, 5*time.Second, b.Timeout())

	c := NewAdaptiveTimeout(config.DefaultResilienceConfig(), clk)
	for _i := 0; _i < 3; _i++ {
		c.Record(2 * time.Second)
	}
	assert.Equal(t, 8*time.Second, c.Timeout())

	// 超过上限取上限
	a.Record(10 * time.Second)
	assert.Equal(t, 30*time.Second, a.Timeout())
}

func TestAdaptiveTimeout_RollingWindow(t *testing.T) {
	a := NewAdaptiveTimeout(config.DefaultResilienceConfig(), clock.NewMock())
	for _i := 0; _i < 10; _i++ {
		a.Record(7 * time.Second)
	}
	for _i := 0; _i < 10; _i++ {
		a.Record(2 * time.Second)
	}
	assert.Equal(t, 10, a.Samples())
	assert.Equal(t, 8*time.Second, a.Timeout())
}

func TestAdaptiveTimeout_RecoveryWindowDoubles(t *testing.T) {
	clk := clock.NewMock()
	a := NewAdaptiveTimeout(config.DefaultResilienceConfig(), clk)
	for _i := 0; _i < 3; _i++ {
		a.Record(2 * time.Second)
	}

	a.EnterRecovery()
	assert.True(t, a.InRecovery())
	assert.Equal(t, 16*time.Second, a.Timeout())

	clk.Add(31 * time.Second)
	assert.False(t, a.InRecovery())
	assert.Equal(t, 8*time.Second, a.Timeout())

	// 翻倍同样受上限约束
	for _i := 0; _i < 3; _i++ {
		a.Record(6 * time.Second)
	}
	a.EnterRecovery()
	assert.Equal(t, 30*time.Second, a.Timeout())
}

func TestP90(t *testing.T) {
	var samples []time.Duration
	for i := 10; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Second)
	}
	assert.Equal(t, 9*time.Second, p90(samples))
	assert.Equal(t, 10*time.Second, samples[0], "input must not be reordered")
	assert.Equal(t, 5*time.Second, p90([]time.Duration{5 * time.Second}))
}

// ============================================================================
//                              HydrationGate
// ============================================================================

func TestHydrationGate_QueuesUntilHydrated(t *testing.T) {
	shedder := NewLoadShedder(300, nil)
	g := NewHydrationGate(shedder)

	var ran atomic.Int32
	for _i := 0; _i < 5; _i++ {
		assert.False(t, g.Run(func() { ran.Add(1) }))
	}
	assert.Equal(t, 5, g.Pending())
	assert.Equal(t, 5, shedder.Depth())
	assert.Equal(t, int32(0), ran.Load())

	require.NoError(t, g.MarkHydrated())
	assert.True(t, g.Hydrated())
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, 0, shedder.Depth())

	assert.True(t, g.Run(func() { ran.Add(1) }))
	assert.Equal(t, int32(6), ran.Load())
}

func TestHydrationGate_ConcurrentMarkDrainsOnce(t *testing.T) {
	g := NewHydrationGate(nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		g.Run(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 2 {
				// 排空过程中追加的操作同样被处理
				g.Run(func() {
					mu.Lock()
					order = append(order, 100)
					mu.Unlock()
				})
			}
		})
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = g.MarkHydrated()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 100}, order)
	assert.Equal(t, 0, g.Pending())

	require.NoError(t, g.MarkHydrated())
	assert.Len(t, order, 6)
}

func TestHydrationGate_Reset(t *testing.T) {
	g := NewHydrationGate(nil)
	require.NoError(t, g.MarkHydrated())
	g.Reset()
	assert.False(t, g.Hydrated())
	assert.False(t, g.Run(func() {}))
	assert.Equal(t, 1, g.Pending())
}

// ============================================================================
//                              IDGenerator
// ============================================================================

func TestIDGenerator_CollisionSuffixes(t *testing.T) {
	g, err := NewIDGenerator(100, 2, clock.NewMock())
	require.NoError(t, err)

	assert.Equal(t, "qt-1", g.Claim("qt-1"))
	assert.Equal(t, "qt-1-1", g.Claim("qt-1"))
	assert.Equal(t, "qt-1-2", g.Claim("qt-1"))
	assert.Equal(t, "qt-1-c1", g.Claim("qt-1"))
	assert.Equal(t, "qt-1-c2", g.Claim("qt-1"))
	assert.True(t, g.Known("qt-1-c2"))
}

func TestIDGenerator_CounterSkipsTaken(t *testing.T) {
	g, err := NewIDGenerator(100, 0, clock.NewMock())
	require.NoError(t, err)

	g.Claim("x-c1")
	g.Claim("x")
	assert.Equal(t, "x-c2", g.Claim("x"))
}

func TestIDGenerator_Next(t *testing.T) {
	g, err := NewIDGenerator(100, 10, clock.NewMock())
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^req-0-[0-9a-f]{8}$`)
	seen := map[string]bool{}
	for _i := 0; _i < 50; _i++ {
		id := g.Next("req")
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestIDGenerator_InvalidCapacity(t *testing.T) {
	_, err := NewIDGenerator(0, 1, nil)
	assert.Error(t, err)
}

// ============================================================================
//                              错误类型
// ============================================================================

func TestTimeoutError(t *testing.T) {
	err := error(&TimeoutError{Operation: "CLOSE_OVERLAY", After: 5 * time.Second})
	assert.Contains(t, err.Error(), "CLOSE_OVERLAY")

	var te interface{ Timeout() bool }
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout())
}
