package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	pkgif "github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// requiredFields 各动作响应的必填字段
var requiredFields = map[string][]string{
	pkgif.ActionCreateOverlay:   {"success", "overlayId"},
	pkgif.ActionCloseOverlay:    {"success"},
	pkgif.ActionMinimizeOverlay: {"success"},
	pkgif.ActionRestoreOverlay:  {"success"},
	pkgif.ActionGetFullState:    {"success", "overlays"},
}

// Response 协调器响应
type Response struct {
	Success    *bool            `json:"success"`
	Error      string           `json:"error,omitempty"`
	OverlayID  string           `json:"overlayId,omitempty"`
	Overlays   []*types.Overlay `json:"overlays,omitempty"`
	InstanceID string           `json:"instanceId,omitempty"`
}

// Rejected 协调器显式返回 success=false
func (r *Response) Rejected() bool {
	return r.Success != nil && !*r.Success
}

// ValidateResponse 检查响应是否包含动作要求的字段，齐全时返回 nil
func ValidateResponse(action string, raw json.RawMessage) *ValidationError {
	fields, ok := requiredFields[action]
	if !ok {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &ValidationError{Action: action, Missing: fields}
	}
	var missing []string
	for _, f := range fields {
		if v, ok := obj[f]; !ok || string(v) == "null" {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Action: action, Missing: missing}
}

// ============================================================================
//                              Client
// ============================================================================

// Client 经过卸载、分发和自适应超时的协调器客户端
type Client struct {
	transport  pkgif.CoordinatorTransport
	dispatcher *Dispatcher
	adaptive   *AdaptiveTimeout
	ids        *IDGenerator
	clock      clock.Clock

	mu           sync.Mutex
	instanceID   string
	restarts     int
	invalidCount int
}

// NewClient 创建客户端
func NewClient(transport pkgif.CoordinatorTransport, d *Dispatcher, a *AdaptiveTimeout, ids *IDGenerator, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		transport:  transport,
		dispatcher: d,
		adaptive:   a,
		ids:        ids,
		clock:      clk,
	}
}

// Call 按动作默认优先级发送请求
func (c *Client) Call(ctx context.Context, action string, payload map[string]any) (*Response, error) {
	return c.CallPriority(ctx, action, PriorityFor(action), payload)
}

// CallPriority 以指定优先级发送请求
//
// 缺少必填字段只记录警告，响应照常处理；success=false 返回 ErrRejected。
func (c *Client) CallPriority(ctx context.Context, action string, p Priority, payload map[string]any) (*Response, error) {
	req := &pkgif.CoordinatorRequest{
		ID:      c.ids.Next("req"),
		Action:  action,
		Payload: payload,
	}

	out := make(chan json.RawMessage, 1)
	err := c.dispatcher.Do(ctx, Operation{
		Name:     action,
		Priority: p,
		Run: func(opCtx context.Context) error {
			start := c.clock.Now()
			raw, err := c.transport.Send(opCtx, req)
			if err != nil {
				return err
			}
			c.adaptive.Record(c.clock.Since(start))
			out <- raw
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	raw := <-out

	if verr := ValidateResponse(action, raw); verr != nil {
		c.mu.Lock()
		c.invalidCount++
		c.mu.Unlock()
		logger.Warn("协调器响应缺少必需字段", "action", action, "request", req.ID, "missing", verr.Missing)
	}

	resp := &Response{}
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("resilience: decode %s response: %w", action, err)
	}
	if resp.Rejected() {
		return resp, fmt.Errorf("%w: %s %s", ErrRejected, action, resp.Error)
	}
	return resp, nil
}

// CreateOverlay 请求协调器创建 overlay，返回协调器确认的 ID
func (c *Client) CreateOverlay(ctx context.Context, o *types.Overlay) (string, error) {
	resp, err := c.Call(ctx, pkgif.ActionCreateOverlay, map[string]any{
		"overlay":     o,
		"containerId": o.ContainerID,
	})
	if err != nil {
		return "", err
	}
	if resp.OverlayID == "" {
		return o.ID, nil
	}
	return resp.OverlayID, nil
}

// CloseOverlay 请求关闭 overlay
func (c *Client) CloseOverlay(ctx context.Context, containerID, id string) error {
	_, err := c.Call(ctx, pkgif.ActionCloseOverlay, overlayPayload(containerID, id))
	return err
}

// MinimizeOverlay 请求最小化 overlay
func (c *Client) MinimizeOverlay(ctx context.Context, containerID, id string) error {
	_, err := c.Call(ctx, pkgif.ActionMinimizeOverlay, overlayPayload(containerID, id))
	return err
}

// RestoreOverlay 请求还原 overlay
func (c *Client) RestoreOverlay(ctx context.Context, containerID, id string) error {
	_, err := c.Call(ctx, pkgif.ActionRestoreOverlay, overlayPayload(containerID, id))
	return err
}

// FullState 查询容器的权威全量状态（实现 interfaces.StateSource）
func (c *Client) FullState(ctx context.Context, containerID string) ([]*types.Overlay, error) {
	resp, err := c.Call(ctx, pkgif.ActionGetFullState, map[string]any{"containerId": containerID})
	if err != nil {
		return nil, err
	}
	return resp.Overlays, nil
}

// Ping 存活探测；instanceId 变化说明协调器重启过，进入恢复窗口
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, pkgif.ActionPing, nil)
	if err != nil {
		return err
	}
	if resp.InstanceID == "" {
		return nil
	}

	c.mu.Lock()
	prev := c.instanceID
	c.instanceID = resp.InstanceID
	restarted := prev != "" && prev != resp.InstanceID
	if restarted {
		c.restarts++
	}
	c.mu.Unlock()

	if restarted {
		c.adaptive.EnterRecovery()
		logger.Info("检测到协调器重启，进入恢复窗口", "previous", prev, "current", resp.InstanceID)
	}
	return nil
}

// InstanceID 最近一次看到的协调器实例 ID
func (c *Client) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

// Restarts 检测到的协调器重启次数
func (c *Client) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// InvalidResponses 缺少必填字段的响应数
func (c *Client) InvalidResponses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidCount
}

func overlayPayload(containerID, id string) map[string]any {
	return map[string]any{"containerId": containerID, "overlayId": id}
}

var _ pkgif.StateSource = (*Client)(nil)
