package types

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
//                              MessageType
// ============================================================================

// MessageType 跨上下文消息类型
type MessageType string

const (
	MessageCreate         MessageType = "CREATE"
	MessageClose          MessageType = "CLOSE"
	MessageUpdatePosition MessageType = "UPDATE_POSITION"
	MessageUpdateSize     MessageType = "UPDATE_SIZE"
	MessageMinimize       MessageType = "MINIMIZE"
	MessageRestore        MessageType = "RESTORE"
	MessageSolo           MessageType = "SOLO"
	MessageMute           MessageType = "MUTE"
)

// AllMessageTypes 全部合法的消息类型
var AllMessageTypes = []MessageType{
	MessageCreate, MessageClose, MessageUpdatePosition, MessageUpdateSize,
	MessageMinimize, MessageRestore, MessageSolo, MessageMute,
}

// Valid 是否为已知类型
func (t MessageType) Valid() bool {
	switch t {
	case MessageCreate, MessageClose, MessageUpdatePosition, MessageUpdateSize,
		MessageMinimize, MessageRestore, MessageSolo, MessageMute:
		return true
	}
	return false
}

// HighFrequency 是否为高频类型（拖拽/缩放过程中连续产生）
func (t MessageType) HighFrequency() bool {
	return t == MessageUpdatePosition || t == MessageUpdateSize
}

// String 返回类型字符串
func (t MessageType) String() string {
	return string(t)
}

// ============================================================================
//                              SyncMessage
// ============================================================================

// SyncMessage 跨上下文信封
//
// 这是上下文之间唯一的线上格式。Sequence 对同一 SenderID 严格递增。
// ContainerID 为空的信封为兼容旧版本而被接受。
type SyncMessage struct {
	Type        MessageType     `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	SenderID    string          `json:"senderId"`
	Sequence    uint64          `json:"sequence"`
	ContainerID string          `json:"containerId,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

// Validate 校验信封必要字段
func (m *SyncMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	if m.Type == "" || m.SenderID == "" || m.Sequence == 0 || len(m.Payload) == 0 {
		return fmt.Errorf("%w: missing required fields", ErrMalformedMessage)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, m.Type)
	}
	return nil
}

// OverlayID 从 payload 中提取 overlay id，无法提取时返回空字符串
func (m *SyncMessage) OverlayID() string {
	var ref OverlayRef
	if err := json.Unmarshal(m.Payload, &ref); err != nil {
		return ""
	}
	return ref.ID
}

// DecodePayload 将 payload 解码到 v
func (m *SyncMessage) DecodePayload(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedMessage, err)
	}
	return nil
}

// EncodeMessage 编码信封
func EncodeMessage(m *SyncMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage 解码并校验信封
func DecodeMessage(data []byte) (*SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ============================================================================
//                              Payload
// ============================================================================

// OverlayRef 只携带 overlay id 的 payload（CLOSE / MINIMIZE / RESTORE）
type OverlayRef struct {
	ID string `json:"id"`
}

// PositionPayload UPDATE_POSITION payload
type PositionPayload struct {
	ID   string `json:"id"`
	Left int    `json:"left"`
	Top  int    `json:"top"`
}

// SizePayload UPDATE_SIZE payload
type SizePayload struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// VisibilityPayload SOLO / MUTE payload，携带完整的上下文集合
type VisibilityPayload struct {
	ID         string   `json:"id"`
	ContextIDs []string `json:"contextIds"`
}
