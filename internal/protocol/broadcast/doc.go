// Package broadcast 实现上下文之间的增量广播
//
// # 发送
//
// Broadcast 为每条消息加上 senderId、单调递增的 sequence 与 containerId，
// 优先通过广播通道发布；通道不可用时写入自过期的存储回退记录。
//
// # 接收管线
//
//  1. 解码失败：拒绝并计数
//  2. 自己的回声：丢弃
//  3. 序列号未递增：拒绝，发出 broadcast:anomaly
//  4. 容器不匹配：拒绝，发出 broadcast:violation（不带容器的消息放行）
//  5. 去抖：同一 (sender, type, overlay) 在窗口内只接受第一条
//  6. 发出 broadcast:received
//
// # 通道健康
//
// 连续发送失败发出 broadcast:error，达到阈值后按指数退避重连；
// 连续重连失败达到上限后永久切换到存储回退。后台周期性探测通道并清扫过期回退记录。
package broadcast
