package eventbus

import (
	"sync"

	"github.com/dep2p/go-quicktabs/pkg/types"
)

// Subscription 通道订阅
type Subscription struct {
	bus       *Bus
	topics    []string
	out       chan types.Event
	closeOnce sync.Once
}

// Out 返回事件通道
func (s *Subscription) Out() <-chan types.Event {
	return s.out
}

// Close 取消订阅并关闭通道，可重复调用
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.detach(s)
		close(s.out)
	})
	return nil
}
