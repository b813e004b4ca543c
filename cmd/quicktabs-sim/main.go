// Package main 提供 quicktabs-sim 命令行入口
//
// quicktabs-sim 在一个进程内启动多个 Tab，共享同一份存储、广播中心和协调器，
// 按剧本执行 overlay 操作并打印每个 Tab 最终看到的状态，用于观察收敛与故障回退。
package main

import (
	"os"

	"github.com/dep2p/go-quicktabs/cmd/quicktabs-sim/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("错误: %v", err)
		os.Exit(1)
	}
}
