package state

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dep2p/go-quicktabs/pkg/types"
)

// Apply 应用一条跨上下文增量
//
// 本地操作与远端消息走同一条路径，保证所有上下文得到相同结果。
// 消息幂等：重复的 CREATE 视为更新，CLOSE 不存在的 overlay 视为成功。
// SOLO / MUTE 携带完整集合，直接替换，结果与应用顺序无关。
func (m *Manager) Apply(msg *types.SyncMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	switch msg.Type {
	case types.MessageCreate:
		var o types.Overlay
		if err := msg.DecodePayload(&o); err != nil {
			return err
		}
		if o.ContainerID == "" {
			o.ContainerID = msg.ContainerID
		}
		if m.Has(o.ID) {
			return m.Update(&o)
		}
		err := m.Add(&o)
		if errors.Is(err, ErrDuplicateOverlay) {
			return m.Update(&o)
		}
		return err

	case types.MessageClose:
		var ref types.OverlayRef
		if err := msg.DecodePayload(&ref); err != nil {
			return err
		}
		if err := m.Delete(ref.ID); err != nil && !errors.Is(err, types.ErrOverlayNotFound) {
			return err
		}
		return nil

	case types.MessageUpdatePosition:
		var p types.PositionPayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		return m.mutate(p.ID, func(o *types.Overlay) {
			o.Position = types.Position{Left: p.Left, Top: p.Top}
		})

	case types.MessageUpdateSize:
		var p types.SizePayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		return m.mutate(p.ID, func(o *types.Overlay) {
			o.Size = types.Size{Width: p.Width, Height: p.Height}
		})

	case types.MessageMinimize, types.MessageRestore:
		var ref types.OverlayRef
		if err := msg.DecodePayload(&ref); err != nil {
			return err
		}
		minimized := msg.Type == types.MessageMinimize
		return m.mutate(ref.ID, func(o *types.Overlay) {
			o.Minimized = minimized
		})

	case types.MessageSolo:
		var p types.VisibilityPayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		return m.mutate(p.ID, func(o *types.Overlay) {
			o.SoloedOn = normalizeSet(p.ContextIDs)
		})

	case types.MessageMute:
		var p types.VisibilityPayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		return m.mutate(p.ID, func(o *types.Overlay) {
			o.MutedOn = normalizeSet(p.ContextIDs)
		})
	}

	return fmt.Errorf("%w: %s", types.ErrUnknownMessageType, msg.Type)
}

// mutate 原子地修改一个已有 overlay
func (m *Manager) mutate(id string, fn func(*types.Overlay)) error {
	return m.modify(id, func(o *types.Overlay) error {
		fn(o)
		return nil
	})
}

// normalizeSet 去重并排序，空集合返回 nil
func normalizeSet(ids []string) []string {
	out := slices.Clone(ids)
	out = slices.DeleteFunc(out, func(s string) bool { return s == "" })
	slices.Sort(out)
	out = slices.Compact(out)
	return nilIfEmpty(out)
}
