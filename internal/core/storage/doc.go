// Package storage 实现 Quick Tabs 的持久化共享存储适配器
//
// Manager 在共享 KV 引擎之上搬运 overlay 快照，自身不保留 overlay 状态。
//
// # 架构
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                   Manager (本包)                            │
//	│  Save / LoadAll / Delete / Clear                            │
//	│  PendingSave 自写入抑制 | 变更去抖 | 写断路器 | 事务断路器   │
//	└─────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────┐
//	│  kv.Store（前缀隔离） -> engine/badger（BadgerDB + Watch）   │
//	└─────────────────────────────────────────────────────────────┘
//
// # 键空间设计
//
//	前缀     | 说明
//	---------|--------------------------------------------------
//	qt/c/    | 容器记录 {overlays, lastUpdate, saveId}
//	qt/bc/   | 广播回退记录 <container>-<unixMilli>-<n>，带 TTL
//
// # 变更通知
//
// 引擎在写入提交后同步回调 Watch。携带待确认 saveId 的变更是自己的回声，
// 释放后忽略；存在待确认写入时，不带 saveId 的裸变更同样忽略。其余变更
// 在去抖窗口内合并，窗口结束时只发出最新快照（storage:changed）。
//
// # 断路器
//
//   - 写断路器：连续 10 次失败打开，5s 冷却，半开放行 1 次探测，连续 2 次成功关闭
//   - 事务断路器：协调器往返连续 5 次失败或 3 次超时跳闸，超时退避 1s -> 3s -> 5s
package storage
