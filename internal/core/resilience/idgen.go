package resilience

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// IDGenerator 生成不冲突的 ID
//
// 冲突时迭代追加数字后缀，超过重试上限后使用计数器后缀。
type IDGenerator struct {
	mu         sync.Mutex
	clock      clock.Clock
	known      *lru.Cache[string, struct{}]
	maxRetries int
	counter    uint64
}

// NewIDGenerator 创建 ID 生成器
func NewIDGenerator(capacity, maxRetries int, clk clock.Clock) (*IDGenerator, error) {
	if clk == nil {
		clk = clock.New()
	}
	known, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("resilience: known id set: %w", err)
	}
	return &IDGenerator{clock: clk, known: known, maxRetries: maxRetries}, nil
}

// Next 生成新 ID：<prefix>-<unixMilli>-<random>
func (g *IDGenerator) Next(prefix string) string {
	base := prefix + "-" + strconv.FormatInt(g.clock.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8]
	return g.Claim(base)
}

// Claim 登记 id，冲突时返回带后缀的新 id
func (g *IDGenerator) Claim(id string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.known.Contains(id) {
		g.known.Add(id, struct{}{})
		return id
	}
	for i := 1; i <= g.maxRetries; i++ {
		candidate := id + "-" + strconv.Itoa(i)
		if !g.known.Contains(candidate) {
			g.known.Add(candidate, struct{}{})
			return candidate
		}
	}
	for {
		g.counter++
		candidate := id + "-c" + strconv.FormatUint(g.counter, 10)
		if !g.known.Contains(candidate) {
			g.known.Add(candidate, struct{}{})
			return candidate
		}
	}
}

// Known 是否已登记
func (g *IDGenerator) Known(id string) bool {
	return g.known.Contains(id)
}
