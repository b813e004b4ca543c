package quicktabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dep2p/go-quicktabs/internal/core/resilience"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

// OverlayOptions 创建 overlay 的可选参数
type OverlayOptions struct {
	// ID 为空时自动生成
	ID     string
	Left   int
	Top    int
	Width  int
	Height int
}

// ════════════════════════════════════════════════════════════════════════════
//                              水合
// ════════════════════════════════════════════════════════════════════════════

// Hydrate 从协调器（失败时从存储）加载全量状态并替换状态表
//
// 水合完成后处理期间暂存的远端增量。
func (t *Tab) Hydrate(ctx context.Context) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	overlays := t.storage.LoadAll(ctx)
	if err := t.state.Hydrate(overlays); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	return t.gate.MarkHydrated()
}

// ════════════════════════════════════════════════════════════════════════════
//                              overlay 操作
// ════════════════════════════════════════════════════════════════════════════

// CreateOverlay 创建 overlay
//
// 先应用到本地状态表，再广播并交给协调器持久化；协调器不可用时直接写存储。
func (t *Tab) CreateOverlay(ctx context.Context, url string, opts OverlayOptions) (*types.Overlay, error) {
	if err := t.checkRunning(); err != nil {
		return nil, err
	}
	id := opts.ID
	if id == "" {
		id = t.ids.Next("qt")
	}
	o := &types.Overlay{
		ID:          id,
		URL:         url,
		Position:    types.Position{Left: opts.Left, Top: opts.Top},
		Size:        types.Size{Width: opts.Width, Height: opts.Height},
		ContainerID: t.storage.ContainerID(),
	}
	if err := t.applyLocal(types.MessageCreate, o); err != nil {
		return nil, err
	}
	created, ok := t.state.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrOverlayNotFound, id)
	}

	t.announce(types.MessageCreate, t.broadcast.NotifyCreate(ctx, created))
	if _, err := t.client.CreateOverlay(ctx, created); err != nil {
		t.persistFallback(ctx, "create", err)
	}
	return created, nil
}

// CloseOverlay 关闭 overlay
func (t *Tab) CloseOverlay(ctx context.Context, id string) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.applyLocal(types.MessageClose, types.OverlayRef{ID: id}); err != nil {
		return err
	}
	t.announce(types.MessageClose, t.broadcast.NotifyClose(ctx, id))
	if err := t.client.CloseOverlay(ctx, t.storage.ContainerID(), id); err != nil {
		t.persistFallback(ctx, "close", err)
	}
	return nil
}

// MoveOverlay 更新位置
func (t *Tab) MoveOverlay(ctx context.Context, id string, left, top int) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.applyLocal(types.MessageUpdatePosition, types.PositionPayload{ID: id, Left: left, Top: top}); err != nil {
		return err
	}
	t.announce(types.MessageUpdatePosition, t.broadcast.NotifyPositionUpdate(ctx, id, left, top))
	t.persist()
	return nil
}

// ResizeOverlay 更新尺寸
func (t *Tab) ResizeOverlay(ctx context.Context, id string, width, height int) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.applyLocal(types.MessageUpdateSize, types.SizePayload{ID: id, Width: width, Height: height}); err != nil {
		return err
	}
	t.announce(types.MessageUpdateSize, t.broadcast.NotifySizeUpdate(ctx, id, width, height))
	t.persist()
	return nil
}

// MinimizeOverlay 最小化
func (t *Tab) MinimizeOverlay(ctx context.Context, id string) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.applyLocal(types.MessageMinimize, types.OverlayRef{ID: id}); err != nil {
		return err
	}
	t.announce(types.MessageMinimize, t.broadcast.NotifyMinimize(ctx, id))
	if err := t.client.MinimizeOverlay(ctx, t.storage.ContainerID(), id); err != nil {
		t.persistFallback(ctx, "minimize", err)
	}
	return nil
}

// RestoreOverlay 还原
func (t *Tab) RestoreOverlay(ctx context.Context, id string) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.applyLocal(types.MessageRestore, types.OverlayRef{ID: id}); err != nil {
		return err
	}
	t.announce(types.MessageRestore, t.broadcast.NotifyRestore(ctx, id))
	if err := t.client.RestoreOverlay(ctx, t.storage.ContainerID(), id); err != nil {
		t.persistFallback(ctx, "restore", err)
	}
	return nil
}

// SetSolo 设置 solo 集合（完整集合，空集合表示取消 solo）
func (t *Tab) SetSolo(ctx context.Context, id string, contextIDs []string) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.applyLocal(types.MessageSolo, types.VisibilityPayload{ID: id, ContextIDs: contextIDs}); err != nil {
		return err
	}
	t.announce(types.MessageSolo, t.broadcast.NotifySolo(ctx, id, contextIDs))
	t.persist()
	return nil
}

// SetMute 设置 mute 集合（完整集合）
func (t *Tab) SetMute(ctx context.Context, id string, contextIDs []string) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.applyLocal(types.MessageMute, types.VisibilityPayload{ID: id, ContextIDs: contextIDs}); err != nil {
		return err
	}
	t.announce(types.MessageMute, t.broadcast.NotifyMute(ctx, id, contextIDs))
	t.persist()
	return nil
}

// BringToFront 置顶，返回新的 z-index
//
// z-order 没有独立的广播类型，经存储变更传播到其他 Tab。
func (t *Tab) BringToFront(ctx context.Context, id string) (int64, error) {
	if err := t.checkRunning(); err != nil {
		return 0, err
	}
	z, err := t.state.BringToFront(id)
	if err != nil {
		return 0, err
	}
	t.persist()
	return z, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              上下文管理
// ════════════════════════════════════════════════════════════════════════════

// SwitchContainer 切换容器：重建广播通道并重新水合
func (t *Tab) SwitchContainer(ctx context.Context, containerID string) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if containerID == "" {
		containerID = types.DefaultContainerID
	}
	if containerID == t.storage.ContainerID() {
		return nil
	}

	t.gate.Reset()
	t.storage.SetContainer(containerID)
	if err := t.broadcast.UpdateContainer(containerID); err != nil {
		t.log.Warn("切换容器时重建通道失败，使用存储回退", "container", containerID, "error", err)
	}
	t.log.Info("切换容器", "container", containerID)
	return t.Hydrate(ctx)
}

// Resume 上下文从冻结中恢复：校验通道并重新水合
func (t *Tab) Resume(ctx context.Context) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	if err := t.broadcast.Resume(ctx); err != nil {
		t.log.Warn("恢复时通道不可用", "error", err)
	}
	return t.Hydrate(ctx)
}

// CleanupDeadTabs 从所有 solo/mute 集合中移除已关闭的上下文，返回受影响的 overlay 数
func (t *Tab) CleanupDeadTabs(ctx context.Context, live []string) (int, error) {
	if err := t.checkRunning(); err != nil {
		return 0, err
	}
	n := t.state.CleanupDeadTabs(live)
	if n > 0 {
		t.persist()
	}
	return n, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              内部方法
// ════════════════════════════════════════════════════════════════════════════

// applyLocal 本地操作与远端增量走同一条 Apply 路径
func (t *Tab) applyLocal(mt types.MessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", mt, err)
	}
	return t.state.Apply(&types.SyncMessage{
		Type:        mt,
		Payload:     data,
		SenderID:    t.id.SenderID,
		Sequence:    t.localSeq.Add(1),
		ContainerID: t.storage.ContainerID(),
	})
}

// announce 记录广播结果；广播失败不影响本地操作，存储变更最终对齐
func (t *Tab) announce(mt types.MessageType, err error) {
	if err != nil {
		t.log.Warn("广播失败", "type", mt, "error", err)
	}
}

// persist 把当前容器的快照写入存储
func (t *Tab) persist() {
	container := t.storage.ContainerID()
	if _, err := t.storage.Save(t.state.GetByContainer(container)); err != nil {
		t.log.Warn("保存快照失败", "container", container, "error", err)
	}
}

// persistFallback 协调器未确认时直接写存储
//
// 被负载卸载的操作同样回退，保证本地结果最终落盘。
func (t *Tab) persistFallback(_ context.Context, op string, cause error) {
	var shed *resilience.ShedError
	switch {
	case errors.As(cause, &shed):
		t.log.Warn("协调器操作被卸载，直接写存储", "op", op, "depth", shed.Depth)
	case errors.Is(cause, resilience.ErrRejected):
		t.log.Debug("协调器拒绝操作，直接写存储", "op", op, "error", cause)
	default:
		t.log.Warn("协调器操作失败，直接写存储", "op", op, "error", cause)
	}
	t.persist()
}
