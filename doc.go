// Package quicktabs 提供 Quick Tabs 跨上下文同步核心
//
// 一个 Tab 代表一个浏览器上下文（标签页）。同一容器内的所有 Tab
// 对每个 overlay 只维护一个逻辑状态：本地操作先应用到状态表，
// 再经广播通道（失败时经存储回退记录）通知其他 Tab，
// 并通过协调器或直接写存储持久化；存储变更最终对齐所有 Tab。
//
// # 快速开始
//
//	store, _ := quicktabs.NewSharedStore(config.StorageConfig{InMemory: true})
//	hub := memchan.NewHub()
//	coord := coordinator.New(store, nil)
//
//	tab, err := quicktabs.New(
//	    quicktabs.WithPreset(quicktabs.PresetTest),
//	    quicktabs.WithSharedStore(store),
//	    quicktabs.WithChannelFactory(hub),
//	    quicktabs.WithCoordinator(coord),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := tab.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer tab.Close()
//
//	o, _ := tab.CreateOverlay(ctx, "https://example.com", quicktabs.OverlayOptions{Width: 800, Height: 600})
//	_ = tab.MoveOverlay(ctx, o.ID, 100, 120)
//
// # 组件
//
//	┌──────────────────────────────────────────────────────────────┐
//	│  Tab                                                          │
//	├──────────────┬──────────────┬───────────────┬─────────────────┤
//	│ state        │ storage      │ broadcast     │ resilience      │
//	│ 状态表        │ 持久化/自写抑制 │ 跨上下文信封    │ 卸载/分发/心跳     │
//	└──────────────┴──────────────┴───────────────┴─────────────────┘
//
// # 文件组织
//
//	quicktabs/
//	├── version.go          # 版本信息
//	├── tab.go              # Tab 结构、New、Start、Stop
//	├── tab_ops.go          # overlay 操作
//	├── tab_diagnostics.go  # 诊断快照
//	├── fx.go               # Fx 应用组装与事件接线
//	├── options.go          # 配置选项
//	├── presets.go          # 预设配置
//	├── store.go            # 共享存储
//	└── errors.go           # 错误定义
package quicktabs
