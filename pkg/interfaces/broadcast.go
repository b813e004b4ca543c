package interfaces

import "context"

// Channel 不可靠的跨上下文发布/订阅通道
//
// 投递语义：至多一次、无序、可能丢失。发送者不会收到自己的消息，
// 但接收方仍必须自行过滤自回声。
type Channel interface {
	// Name 通道名称（按容器划分）
	Name() string

	// Publish 向同名通道的其它句柄发送数据
	Publish(ctx context.Context, data []byte) error

	// Ping 探测通道是否仍然可用
	Ping(ctx context.Context) error

	// Close 关闭句柄
	Close() error
}

// ChannelFactory 打开通道句柄
type ChannelFactory interface {
	// Open 打开指定名称的通道，收到的每条消息都会调用 handler
	Open(name string, handler func(data []byte)) (Channel, error)
}
