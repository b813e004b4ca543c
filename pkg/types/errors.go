package types

import "errors"

// ============================================================================
//                              Overlay 相关错误
// ============================================================================

var (
	// ErrInvalidOverlay overlay 结构不合法（类型错误）
	ErrInvalidOverlay = errors.New("types: invalid overlay")

	// ErrOverlayNotFound overlay 不存在
	ErrOverlayNotFound = errors.New("types: overlay not found")
)

// ============================================================================
//                              信封相关错误
// ============================================================================

var (
	// ErrMalformedMessage 信封缺少必要字段或无法解析
	ErrMalformedMessage = errors.New("types: malformed sync message")

	// ErrUnknownMessageType 未知的消息类型
	ErrUnknownMessageType = errors.New("types: unknown message type")
)
