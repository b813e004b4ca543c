package types

// TabIdentity 一个上下文（浏览器标签页）的身份
//
//   - ContextID: 标签页 ID，出现在 overlay 的 solo/mute 集合中
//   - SenderID:  广播信封中的发送者 ID，每次上下文创建时随机生成
//   - ContainerID: 初始容器，之后可通过 SwitchContainer 变更
type TabIdentity struct {
	ContextID   string
	SenderID    string
	ContainerID string
}
