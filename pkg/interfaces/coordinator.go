package interfaces

import (
	"context"
	"encoding/json"

	"github.com/dep2p/go-quicktabs/pkg/types"
)

// 协调器动作
const (
	ActionCreateOverlay   = "CREATE_OVERLAY"
	ActionCloseOverlay    = "CLOSE_OVERLAY"
	ActionMinimizeOverlay = "MINIMIZE_OVERLAY"
	ActionRestoreOverlay  = "RESTORE_OVERLAY"
	ActionGetFullState    = "GET_FULL_STATE"
	ActionPing            = "PING"
)

// CoordinatorRequest 发往协调器的请求
type CoordinatorRequest struct {
	ID      string         `json:"id"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CoordinatorTransport 到后台协调器的异步请求/响应
//
// 响应以原始 JSON 返回，由调用方按动作校验必填字段。
type CoordinatorTransport interface {
	Send(ctx context.Context, req *CoordinatorRequest) (json.RawMessage, error)
}

// StateSource 权威全量状态查询
//
// StorageManager.LoadAll 优先使用它，失败时回退到直接读取存储。
type StateSource interface {
	FullState(ctx context.Context, containerID string) ([]*types.Overlay, error)
}
