package interfaces

import "github.com/dep2p/go-quicktabs/pkg/types"

// EventBus 定义事件总线接口
//
// 主题为字符串（见 types.Event* 常量）。Handle 注册的处理器在 Emit
// 调用方的 goroutine 中同步执行；Subscribe 返回带缓冲的通道订阅，
// 缓冲区满时丢弃事件而不阻塞发射者。
type EventBus interface {
	// Emit 发射事件
	Emit(topic string, payload any)

	// Subscribe 订阅一个或多个主题
	Subscribe(topics []string, opts ...SubscriptionOpt) (Subscription, error)

	// Handle 注册同步处理器，返回取消函数
	Handle(topic string, fn func(types.Event)) (cancel func())
}

// Subscription 定义事件订阅接口
type Subscription interface {
	// Out 返回接收事件的通道
	Out() <-chan types.Event

	// Close 取消订阅
	Close() error
}

// SubscriptionOpt 订阅选项函数类型
type SubscriptionOpt func(*SubscriptionSettings)

// SubscriptionSettings 订阅设置
type SubscriptionSettings struct {
	Buffer int
}

// BufSize 设置订阅缓冲区大小
func BufSize(size int) SubscriptionOpt {
	return func(s *SubscriptionSettings) {
		s.Buffer = size
	}
}
