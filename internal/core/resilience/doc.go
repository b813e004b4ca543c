// Package resilience 实现与后台协调器通信的弹性层
//
// 组成:
//
//	Client ──► Dispatcher ──► CoordinatorTransport
//	              │  ▲
//	              │  └── AdaptiveTimeout（p90 × 4，重启恢复窗口内翻倍）
//	              └───── LoadShedder（按合计队列深度分级卸载）
//
//	Heartbeat      周期 PING，失败指数退避，连续 10 次失败打开断路器
//	HydrationGate  启动水合完成前暂存操作
//	IDGenerator    请求 ID 冲突时迭代追加后缀
//
// 优先级:
//
//	CRITICAL  CREATE_OVERLAY（永不卸载）
//	HIGH      CLOSE / MINIMIZE / RESTORE / GET_FULL_STATE
//	MEDIUM    位置、尺寸等高频更新
//	LOW       PING、后台同步
package resilience
