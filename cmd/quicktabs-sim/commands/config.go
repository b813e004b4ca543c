package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dep2p/go-quicktabs/config"
)

// envPrefix 环境变量前缀，例如 QUICKTABS_RESILIENCE_QUEUE_CAPACITY=500
const envPrefix = "QUICKTABS"

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "显示生效的配置",
	Long: `显示默认值、配置文件与环境变量合并后的配置。

示例:
  quicktabs-sim config --config sim.yaml
  QUICKTABS_DIAGNOSTICS_LOG_LEVEL=debug quicktabs-sim config -o json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := parseFormat(configOutput)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		if format == formatText {
			format = formatYAML
		}
		return printConfig(cmd.OutOrStdout(), cfg, format)
	},
}

func init() {
	configCmd.Flags().StringVarP(&configOutput, "output", "o", "yaml", "输出格式 (yaml|json)")
}

// loadConfig 按 默认值 < 配置文件 < 环境变量 的优先级加载配置
//
// 配置文件支持 json 和 yaml；键名与 config.Config 的 json 标签一致。
func loadConfig(path string) (*config.Config, error) {
	defaults, err := config.NewConfig().ToJSON()
	if err != nil {
		return nil, err
	}

	// 记录默认值类型，环境变量的字符串值按此转换
	base := viper.New()
	base.SetConfigType("json")
	if err := base.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		v.SetConfigType(configType(path))
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	settings := make(map[string]any)
	for _, key := range v.AllKeys() {
		setNested(settings, strings.Split(key, "."), typedValue(v, key, base.Get(key)))
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	cfg, err := config.FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// typedValue 按默认值的类型读取键值
func typedValue(v *viper.Viper, key string, def any) any {
	switch def.(type) {
	case bool:
		return v.GetBool(key)
	case float64, int, int64:
		return v.GetFloat64(key)
	case string:
		return v.GetString(key)
	case []any:
		if s, ok := v.Get(key).(string); ok {
			return strings.Fields(strings.ReplaceAll(s, ",", " "))
		}
	}
	return v.Get(key)
}

// configType 由扩展名推断配置格式，无扩展名按 yaml 处理
func configType(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "json", "toml":
		return ext
	default:
		return "yaml"
	}
}

func setNested(m map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}
