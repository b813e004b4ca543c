package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/dep2p/go-quicktabs/config"
)

type format string

const (
	formatText format = "text"
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func parseFormat(s string) (format, error) {
	switch f := format(strings.ToLower(s)); f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	case "table", "":
		return formatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (text|json|yaml)", s)
	}
}

func printStructured(w io.Writer, v any, f format) error {
	switch f {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("format %q is not structured", f)
}

// printConfig 输出配置；yaml 经 json 中转以保留 json 标签的键名
func printConfig(w io.Writer, cfg *config.Config, f format) error {
	data, err := cfg.ToJSON()
	if err != nil {
		return err
	}
	if f == formatJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return printStructured(w, m, formatYAML)
}

// printReport 以表格形式输出模拟结果
func printReport(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "场景: %d 个上下文, %d 个 overlay, 耗时 %s, 收敛: %v\n\n",
		len(r.Tabs), r.Overlays, r.Elapsed, r.Converged)

	for _, tab := range r.Tabs {
		fmt.Fprintf(tw, "[%s] container=%s visible=%d minimized=%d fallback=%v heartbeat=%s\n",
			tab.ContextID, tab.Diagnostics.ContainerID, tab.Diagnostics.Visible,
			tab.Diagnostics.Minimized, tab.Diagnostics.Broadcast.UsingFallback, tab.Diagnostics.HeartbeatState)
		fmt.Fprintln(tw, "  ID\tURL\tPOS\tSIZE\tZ\tMIN\tVISIBLE")
		for _, o := range tab.Overlays {
			fmt.Fprintf(tw, "  %s\t%s\t%d,%d\t%dx%d\t%d\t%v\t%v\n",
				o.ID, o.URL, o.Left, o.Top, o.Width, o.Height, o.ZIndex, o.Minimized, o.Visible)
		}
		fmt.Fprintln(tw)
	}

	if len(r.Metrics) > 0 {
		fmt.Fprintln(tw, "指标:")
		for _, m := range r.Metrics {
			fmt.Fprintf(tw, "  %s\t%g\n", m.Name, m.Value)
		}
	}
	return tw.Flush()
}
