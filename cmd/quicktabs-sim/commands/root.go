// Package commands 实现 quicktabs-sim 的子命令
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// 全局参数
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "quicktabs-sim",
	Short: "Quick Tabs 同步核心模拟器",
	Long: `quicktabs-sim 在一个进程内模拟多个浏览器上下文。

所有上下文共享同一份存储、同一个广播中心和同一个协调器，
可以注入广播丢包与协调器失败，观察各上下文最终是否收敛。

使用 "quicktabs-sim [command] --help" 查看子命令帮助。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd 返回根命令（测试用）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// PrintErr 输出错误信息到 stderr
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（json/yaml），环境变量前缀 QUICKTABS_")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
