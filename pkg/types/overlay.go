package types

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultContainerID 未启用容器隔离时使用的默认容器
const DefaultContainerID = "firefox-default"

// validate 结构体校验器（validator 内部缓存结构体元数据，只需一个实例）
var validate = validator.New(validator.WithRequiredStructEnabled())

// Position overlay 左上角坐标
type Position struct {
	Left int `json:"left"`
	Top  int `json:"top"`
}

// Size overlay 尺寸
type Size struct {
	Width  int `json:"width" validate:"gte=0"`
	Height int `json:"height" validate:"gte=0"`
}

// Overlay 浮动窗口
//
// 一个 Overlay 在所有同容器上下文中只有一个逻辑状态。
// SoloedOn / MutedOn 以上下文 ID 为键控制可见性：
//   - 上下文在 MutedOn 中：隐藏（优先级最高）
//   - SoloedOn 为空或上下文在 SoloedOn 中：可见
//   - 否则：隐藏
//
// 最小化的 overlay 永远不在可见集合中。
type Overlay struct {
	ID          string    `json:"id" validate:"required"`
	URL         string    `json:"url" validate:"required"`
	Position    Position  `json:"position"`
	Size        Size      `json:"size"`
	ZIndex      int64     `json:"zIndex" validate:"gte=0"`
	Minimized   bool      `json:"minimized"`
	SoloedOn    []string  `json:"soloedOnTabs,omitempty" validate:"dive,required"`
	MutedOn     []string  `json:"mutedOnTabs,omitempty" validate:"dive,required"`
	Slot        int       `json:"slot" validate:"gte=0"`
	ContainerID string    `json:"containerId" validate:"required"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate 校验 overlay 结构
//
// 失败时返回包装了 ErrInvalidOverlay 的错误。
func (o *Overlay) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil overlay", ErrInvalidOverlay)
	}
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOverlay, err)
	}
	return nil
}

// VisibleIn 判断 overlay 在指定上下文中是否可见（不考虑最小化）
func (o *Overlay) VisibleIn(contextID string) bool {
	if slices.Contains(o.MutedOn, contextID) {
		return false
	}
	if len(o.SoloedOn) == 0 {
		return true
	}
	return slices.Contains(o.SoloedOn, contextID)
}

// Clone 深拷贝
func (o *Overlay) Clone() *Overlay {
	if o == nil {
		return nil
	}
	c := *o
	c.SoloedOn = slices.Clone(o.SoloedOn)
	c.MutedOn = slices.Clone(o.MutedOn)
	return &c
}

// CloneOverlays 深拷贝 overlay 列表
func CloneOverlays(list []*Overlay) []*Overlay {
	out := make([]*Overlay, 0, len(list))
	for _, o := range list {
		out = append(out, o.Clone())
	}
	return out
}
