// Package coordinator 提供进程内的参考协调器
//
// Coordinator 实现 interfaces.CoordinatorTransport，直接读写共享存储中的
// 容器记录（不带 saveId，即裸变更），并支持注入延迟、失败和重启，
// 供测试与模拟器使用。
//
// 写入在持有内部锁时进行，存储 Watch 回调同步触发，
// 因此回调中不得同步调用 Coordinator。
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-quicktabs/internal/core/storage"
	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/internal/core/storage/kv"
	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

var logger = log.Logger("coordinator")

// ErrInjected 注入的传输失败
var ErrInjected = errors.New("coordinator: injected failure")

type response struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	OverlayID  string `json:"overlayId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
}

type fullStateResponse struct {
	Success  bool             `json:"success"`
	Overlays []*types.Overlay `json:"overlays"`
}

type payload struct {
	ContainerID string         `json:"containerId"`
	OverlayID   string         `json:"overlayId"`
	Overlay     *types.Overlay `json:"overlay"`
}

// Coordinator 参考协调器
type Coordinator struct {
	mu         sync.Mutex
	containers *kv.Store
	clock      clock.Clock
	instanceID string

	latency  time.Duration
	failNext int
	requests map[string]int
}

// New 创建协调器
func New(eng engine.InternalEngine, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		containers: kv.New(eng, []byte(storage.ContainerPrefix)),
		clock:      clk,
		instanceID: uuid.NewString(),
		requests:   make(map[string]int),
	}
}

// ============================================================================
//                              故障注入
// ============================================================================

// SetLatency 每个请求在响应前等待的时间
func (c *Coordinator) SetLatency(d time.Duration) {
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
}

// FailNext 让接下来 n 个请求返回 ErrInjected
func (c *Coordinator) FailNext(n int) {
	c.mu.Lock()
	c.failNext = n
	c.mu.Unlock()
}

// Restart 模拟协调器重启：实例 ID 变化
func (c *Coordinator) Restart() {
	c.mu.Lock()
	c.instanceID = uuid.NewString()
	id := c.instanceID
	c.mu.Unlock()
	logger.Info("协调器重启", "instance", id)
}

// InstanceID 当前实例 ID
func (c *Coordinator) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

// Requests 某动作收到的请求数
func (c *Coordinator) Requests(action string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[action]
}

// ============================================================================
//                              请求处理
// ============================================================================

// Send 处理一个请求
func (c *Coordinator) Send(ctx context.Context, req *pkgif.CoordinatorRequest) (json.RawMessage, error) {
	c.mu.Lock()
	latency := c.latency
	c.requests[req.Action]++
	fail := c.failNext > 0
	if fail {
		c.failNext--
	}
	c.mu.Unlock()

	if latency > 0 {
		timer := c.clock.Timer(latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, fmt.Errorf("%w: %s", ErrInjected, req.Action)
	}

	var p payload
	if len(req.Payload) > 0 {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("coordinator: encode payload: %w", err)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return reply(&response{Error: "malformed payload"})
		}
	}
	if p.ContainerID == "" {
		p.ContainerID = types.DefaultContainerID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Action {
	case pkgif.ActionPing:
		return reply(&response{Success: true, InstanceID: c.instanceID})
	case pkgif.ActionGetFullState:
		rec, err := c.loadLocked(p.ContainerID)
		if err != nil {
			return nil, err
		}
		if rec.Overlays == nil {
			rec.Overlays = []*types.Overlay{}
		}
		return json.Marshal(&fullStateResponse{Success: true, Overlays: rec.Overlays})
	case pkgif.ActionCreateOverlay:
		return c.createLocked(p)
	case pkgif.ActionCloseOverlay:
		return c.mutateLocked(p, func(rec *storage.ContainerRecord, i int) {
			rec.Overlays = slices.Delete(rec.Overlays, i, i+1)
		})
	case pkgif.ActionMinimizeOverlay:
		return c.mutateLocked(p, func(rec *storage.ContainerRecord, i int) {
			rec.Overlays[i].Minimized = true
		})
	case pkgif.ActionRestoreOverlay:
		return c.mutateLocked(p, func(rec *storage.ContainerRecord, i int) {
			rec.Overlays[i].Minimized = false
		})
	default:
		return reply(&response{Error: "unknown action " + req.Action})
	}
}

func (c *Coordinator) createLocked(p payload) (json.RawMessage, error) {
	if p.Overlay == nil {
		return reply(&response{Error: "missing overlay"})
	}
	o := p.Overlay.Clone()
	if o.ID == "" {
		o.ID = "qt-" + uuid.NewString()[:8]
	}
	o.ContainerID = p.ContainerID

	rec, err := c.loadLocked(p.ContainerID)
	if err != nil {
		return nil, err
	}
	if indexOf(rec.Overlays, o.ID) >= 0 {
		return reply(&response{Error: "overlay exists: " + o.ID})
	}
	rec.Overlays = append(rec.Overlays, o)
	if err := c.storeLocked(p.ContainerID, rec); err != nil {
		return nil, err
	}
	return reply(&response{Success: true, OverlayID: o.ID})
}

func (c *Coordinator) mutateLocked(p payload, fn func(rec *storage.ContainerRecord, i int)) (json.RawMessage, error) {
	rec, err := c.loadLocked(p.ContainerID)
	if err != nil {
		return nil, err
	}
	i := indexOf(rec.Overlays, p.OverlayID)
	if i < 0 {
		return reply(&response{Error: "overlay not found: " + p.OverlayID})
	}
	fn(rec, i)
	if err := c.storeLocked(p.ContainerID, rec); err != nil {
		return nil, err
	}
	return reply(&response{Success: true})
}

func (c *Coordinator) loadLocked(containerID string) (*storage.ContainerRecord, error) {
	data, err := c.containers.Get([]byte(containerID))
	if engine.IsNotFound(err) {
		return &storage.ContainerRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("coordinator: load %s: %w", containerID, err)
	}
	return storage.DecodeContainerRecord(data)
}

// storeLocked 写入不带 saveId 的记录
func (c *Coordinator) storeLocked(containerID string, rec *storage.ContainerRecord) error {
	rec.SaveID = ""
	rec.LastUpdate = c.clock.Now().UnixMilli()
	data, err := storage.EncodeContainerRecord(rec)
	if err != nil {
		return err
	}
	if err := c.containers.Put([]byte(containerID), data); err != nil {
		return fmt.Errorf("coordinator: store %s: %w", containerID, err)
	}
	return nil
}

func indexOf(list []*types.Overlay, id string) int {
	return slices.IndexFunc(list, func(o *types.Overlay) bool { return o.ID == id })
}

func reply(r *response) (json.RawMessage, error) {
	return json.Marshal(r)
}

var _ pkgif.CoordinatorTransport = (*Coordinator)(nil)
