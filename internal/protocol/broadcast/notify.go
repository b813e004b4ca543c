package broadcast

import (
	"context"

	"github.com/dep2p/go-quicktabs/pkg/types"
)

// NotifyCreate 广播新建 overlay
func (m *Manager) NotifyCreate(ctx context.Context, o *types.Overlay) error {
	return m.Broadcast(ctx, types.MessageCreate, o)
}

// NotifyClose 广播关闭 overlay
func (m *Manager) NotifyClose(ctx context.Context, id string) error {
	return m.Broadcast(ctx, types.MessageClose, types.OverlayRef{ID: id})
}

// NotifyPositionUpdate 广播位置变化
func (m *Manager) NotifyPositionUpdate(ctx context.Context, id string, left, top int) error {
	return m.Broadcast(ctx, types.MessageUpdatePosition, types.PositionPayload{ID: id, Left: left, Top: top})
}

// NotifySizeUpdate 广播尺寸变化
func (m *Manager) NotifySizeUpdate(ctx context.Context, id string, width, height int) error {
	return m.Broadcast(ctx, types.MessageUpdateSize, types.SizePayload{ID: id, Width: width, Height: height})
}

// NotifyMinimize 广播最小化
func (m *Manager) NotifyMinimize(ctx context.Context, id string) error {
	return m.Broadcast(ctx, types.MessageMinimize, types.OverlayRef{ID: id})
}

// NotifyRestore 广播还原
func (m *Manager) NotifyRestore(ctx context.Context, id string) error {
	return m.Broadcast(ctx, types.MessageRestore, types.OverlayRef{ID: id})
}

// NotifySolo 广播完整的 solo 集合
func (m *Manager) NotifySolo(ctx context.Context, id string, contextIDs []string) error {
	return m.Broadcast(ctx, types.MessageSolo, types.VisibilityPayload{ID: id, ContextIDs: nonNil(contextIDs)})
}

// NotifyMute 广播完整的 mute 集合
func (m *Manager) NotifyMute(ctx context.Context, id string, contextIDs []string) error {
	return m.Broadcast(ctx, types.MessageMute, types.VisibilityPayload{ID: id, ContextIDs: nonNil(contextIDs)})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
