package resilience

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

const hydrationQueue = "hydration"

// HydrationGate 启动水合完成前暂存操作
//
// MarkHydrated 循环排空队列直到为空（包括排空过程中新加入的操作），
// 并发或重复调用只执行一次排空，所有调用都成功返回。
type HydrationGate struct {
	mu       sync.Mutex
	hydrated bool
	queue    []func()
	shedder  *LoadShedder
	group    singleflight.Group
}

// NewHydrationGate 创建水合闸门，shedder 可为 nil
func NewHydrationGate(shedder *LoadShedder) *HydrationGate {
	return &HydrationGate{shedder: shedder}
}

// Run 已水合时立即执行 fn 并返回 true，否则排队并返回 false
func (g *HydrationGate) Run(fn func()) bool {
	g.mu.Lock()
	if g.hydrated {
		g.mu.Unlock()
		fn()
		return true
	}
	g.queue = append(g.queue, fn)
	n := len(g.queue)
	g.mu.Unlock()

	g.reportDepth(n)
	return false
}

// MarkHydrated 标记水合完成并排空队列
func (g *HydrationGate) MarkHydrated() error {
	g.mu.Lock()
	done := g.hydrated
	g.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := g.group.Do("drain", func() (any, error) {
		drained := 0
		for {
			g.mu.Lock()
			if g.hydrated {
				g.mu.Unlock()
				return drained, nil
			}
			if len(g.queue) == 0 {
				g.hydrated = true
				g.mu.Unlock()
				g.reportDepth(0)
				logger.Debug("水合完成，排队操作已处理", "count", drained)
				return drained, nil
			}
			fn := g.queue[0]
			g.queue[0] = nil
			g.queue = g.queue[1:]
			n := len(g.queue)
			g.mu.Unlock()

			g.reportDepth(n)
			fn()
			drained++
		}
	})
	return err
}

// Hydrated 是否已完成水合
func (g *HydrationGate) Hydrated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hydrated
}

// Pending 排队中的操作数
func (g *HydrationGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Reset 回到未水合状态（容器切换后重新水合）
func (g *HydrationGate) Reset() {
	g.mu.Lock()
	g.hydrated = false
	g.mu.Unlock()
}

func (g *HydrationGate) reportDepth(n int) {
	if g.shedder != nil {
		g.shedder.SetDepth(hydrationQueue, n)
	}
}
