package resilience

import (
	"sync"

	"github.com/dep2p/go-quicktabs/internal/core/metrics"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// Priority 操作优先级
type Priority int

const (
	// PriorityLow 心跳、后台同步
	PriorityLow Priority = iota
	// PriorityMedium 位置、尺寸更新
	PriorityMedium
	// PriorityHigh 关闭、最小化、还原、全量查询
	PriorityHigh
	// PriorityCritical 创建 overlay，永不卸载
	PriorityCritical
)

// String 返回优先级字符串
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PriorityFor 协调器动作对应的优先级
func PriorityFor(action string) Priority {
	switch action {
	case pkgif.ActionCreateOverlay:
		return PriorityCritical
	case pkgif.ActionCloseOverlay, pkgif.ActionMinimizeOverlay, pkgif.ActionRestoreOverlay, pkgif.ActionGetFullState:
		return PriorityHigh
	default:
		return PriorityLow
	}
}

// 负载阈值（百分比）
const (
	tierLow      = 50
	tierMedium   = 75
	tierCritical = 90
)

// ============================================================================
//                              LoadShedder
// ============================================================================

// LoadShedder 按所有待处理队列的合计深度分级卸载
//
//	负载 < 50%        全部放行
//	50% <= 负载 < 75% 拒绝 LOW
//	75% <= 负载 < 90% 拒绝 LOW、MEDIUM
//	负载 >= 90%       只放行 CRITICAL
type LoadShedder struct {
	mu       sync.Mutex
	capacity int
	depths   map[string]int
	metrics  *metrics.Metrics
}

// NewLoadShedder 创建卸载器
func NewLoadShedder(capacity int, m *metrics.Metrics) *LoadShedder {
	if capacity < 1 {
		capacity = 1
	}
	return &LoadShedder{
		capacity: capacity,
		depths:   make(map[string]int),
		metrics:  m,
	}
}

// SetDepth 更新某个队列的当前深度
func (s *LoadShedder) SetDepth(queue string, depth int) {
	s.mu.Lock()
	if depth <= 0 {
		delete(s.depths, queue)
	} else {
		s.depths[queue] = depth
	}
	total := s.totalLocked()
	s.mu.Unlock()
	s.metrics.SetQueueDepth(total)
}

// Depth 合计深度
func (s *LoadShedder) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

// Capacity 容量
func (s *LoadShedder) Capacity() int {
	return s.capacity
}

// Load 当前负载比例
func (s *LoadShedder) Load() float64 {
	return float64(s.Depth()) / float64(s.capacity)
}

// Admit 判断某优先级的操作能否进入队列
func (s *LoadShedder) Admit(op string, p Priority) error {
	depth := s.Depth()
	threshold, ok := s.check(depth, p)
	if ok {
		return nil
	}
	s.metrics.RecordShed(p.String())
	logger.Warn("负载过高，卸载操作", "op", op, "priority", p.String(), "depth", depth, "capacity", s.capacity)
	return &ShedError{
		Operation: op,
		Priority:  p,
		Depth:     depth,
		Capacity:  s.capacity,
		Threshold: threshold,
	}
}

// check 返回触发拒绝的阈值与是否放行
func (s *LoadShedder) check(depth int, p Priority) (float64, bool) {
	if p >= PriorityCritical {
		return 0, true
	}
	// 整数比较，避免边界处的浮点误差
	pct := depth * 100
	switch {
	case pct >= tierCritical*s.capacity:
		return tierCritical / 100.0, false
	case pct >= tierMedium*s.capacity && p <= PriorityMedium:
		return tierMedium / 100.0, false
	case pct >= tierLow*s.capacity && p <= PriorityLow:
		return tierLow / 100.0, false
	}
	return 0, true
}

func (s *LoadShedder) totalLocked() int {
	total := 0
	for _, d := range s.depths {
		total += d
	}
	return total
}
