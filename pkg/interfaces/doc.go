// Package interfaces 定义 Quick Tabs 同步核心的公共接口
//
// 组件之间只通过这些接口交互，具体实现位于 internal/ 下：
//
//   - Engine             持久化共享键值存储（badger 实现）
//   - Channel            不可靠发布/订阅通道（memchan 实现）
//   - CoordinatorTransport  到后台协调器的异步请求/响应
//   - EventBus           组件事件总线
package interfaces
