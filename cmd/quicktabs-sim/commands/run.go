package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	quicktabs "github.com/dep2p/go-quicktabs"
	"github.com/dep2p/go-quicktabs/internal/coordinator"
	"github.com/dep2p/go-quicktabs/internal/protocol/broadcast/memchan"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
	"github.com/dep2p/go-quicktabs/pkg/types"
)

var logger = log.Logger("cmd/sim")

var (
	runTabs          int
	runOverlays      int
	runPreset        string
	runOutput        string
	runSettle        time.Duration
	runDrop          int
	runCoordFailures int
	runLatency       time.Duration
	runContainer     string
	runMetrics       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "运行多上下文同步场景",
	Long: `启动多个上下文并执行一组 overlay 操作，输出每个上下文最终看到的状态。

场景:
  1. 第一个上下文创建 overlay
  2. 第二个上下文移动每个 overlay，最后一个上下文调整尺寸
  3. 第一个 overlay 只在第一个上下文显示（solo），第二个 overlay 被最小化
  4. 最后一个上下文置顶第一个 overlay
  5. 等待收敛窗口后比较所有上下文的状态

示例:
  # 默认 3 个上下文
  quicktabs-sim run

  # 丢弃 5 条广播并让协调器失败 2 次，观察存储回退
  quicktabs-sim run --drop 5 --coordinator-failures 2

  # 输出 YAML
  quicktabs-sim run --tabs 4 -o yaml`,
	RunE: runScenario,
}

func init() {
	runCmd.Flags().IntVarP(&runTabs, "tabs", "n", 3, "上下文数量（至少 2）")
	runCmd.Flags().IntVar(&runOverlays, "overlays", 3, "创建的 overlay 数量")
	runCmd.Flags().StringVar(&runPreset, "preset", quicktabs.PresetNameSimulator, "预设配置 (browser/simulator/test)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "输出格式 (text|json|yaml)")
	runCmd.Flags().DurationVar(&runSettle, "settle", time.Second, "等待收敛的时间")
	runCmd.Flags().IntVar(&runDrop, "drop", 0, "丢弃接下来的 N 条广播")
	runCmd.Flags().IntVar(&runCoordFailures, "coordinator-failures", 0, "协调器接下来 N 个请求失败")
	runCmd.Flags().DurationVar(&runLatency, "latency", 0, "协调器响应延迟")
	runCmd.Flags().StringVar(&runContainer, "container", "", "容器 ID（默认 firefox-default）")
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "输出 Prometheus 指标汇总")
}

// ════════════════════════════════════════════════════════════════════════════
//                              结果
// ════════════════════════════════════════════════════════════════════════════

// Report 模拟结果
type Report struct {
	Overlays  int          `json:"overlays" yaml:"overlays"`
	Elapsed   string       `json:"elapsed" yaml:"elapsed"`
	Converged bool         `json:"converged" yaml:"converged"`
	Tabs      []TabView    `json:"tabs" yaml:"tabs"`
	Metrics   []MetricView `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// TabView 一个上下文看到的状态
type TabView struct {
	ContextID   string                `json:"contextId" yaml:"contextId"`
	Overlays    []OverlayView         `json:"overlays" yaml:"overlays"`
	Diagnostics quicktabs.Diagnostics `json:"diagnostics" yaml:"diagnostics"`
}

// OverlayView overlay 摘要
type OverlayView struct {
	ID        string `json:"id" yaml:"id"`
	URL       string `json:"url" yaml:"url"`
	Left      int    `json:"left" yaml:"left"`
	Top       int    `json:"top" yaml:"top"`
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	ZIndex    int64  `json:"zIndex" yaml:"zIndex"`
	Minimized bool   `json:"minimized" yaml:"minimized"`
	Visible   bool   `json:"visible" yaml:"visible"`
}

// MetricView 指标汇总（同名指标的所有序列求和）
type MetricView struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value" yaml:"value"`
}

// ════════════════════════════════════════════════════════════════════════════
//                              场景
// ════════════════════════════════════════════════════════════════════════════

func runScenario(cmd *cobra.Command, _ []string) error {
	format, err := parseFormat(runOutput)
	if err != nil {
		return err
	}
	if runTabs < 2 {
		return fmt.Errorf("--tabs must be at least 2, got %d", runTabs)
	}

	preset, err := quicktabs.PresetByName(runPreset)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	preset.Apply(cfg)
	if runMetrics {
		cfg.Diagnostics.EnableMetrics = true
	}

	// 日志输出到 stderr，避免干扰结构化输出
	if cfg.Diagnostics.LogFormat == "json" {
		log.SetJSONOutput(os.Stderr)
	} else {
		log.SetOutput(os.Stderr)
	}
	log.SetLevel(log.ParseLevel(cfg.Diagnostics.LogLevel))

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := quicktabs.NewSharedStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open shared store: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := memchan.NewHub()
	defer func() { _ = hub.Close() }()

	coord := coordinator.New(store, nil)
	coord.SetLatency(runLatency)

	var reg *prometheus.Registry
	if cfg.Diagnostics.EnableMetrics {
		reg = prometheus.NewRegistry()
	}

	tabs := make([]*quicktabs.Tab, 0, runTabs)
	defer func() {
		for _, t := range tabs {
			_ = t.Close()
		}
	}()
	for i := 1; i <= runTabs; i++ {
		contextID := fmt.Sprintf("tab-%d", i)
		opts := []quicktabs.Option{
			quicktabs.WithConfig(cfg),
			quicktabs.WithContextID(contextID),
			quicktabs.WithContainer(runContainer),
			quicktabs.WithSharedStore(store),
			quicktabs.WithChannelFactory(hub),
			quicktabs.WithCoordinator(coord),
		}
		if reg != nil {
			opts = append(opts, quicktabs.WithRegisterer(
				prometheus.WrapRegistererWith(prometheus.Labels{"tab": contextID}, reg)))
		}
		tab, err := quicktabs.Start(ctx, opts...)
		if err != nil {
			return fmt.Errorf("start %s: %w", contextID, err)
		}
		tabs = append(tabs, tab)
	}

	start := time.Now()
	overlays, err := play(ctx, tabs, hub, coord)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(runSettle):
	}

	report, err := buildReport(tabs, reg, len(overlays), time.Since(start))
	if err != nil {
		return err
	}
	if !report.Converged {
		logger.Warn("上下文状态未收敛", "settle", runSettle)
	}

	if format == formatText {
		return printReport(cmd.OutOrStdout(), report)
	}
	return printStructured(cmd.OutOrStdout(), report, format)
}

// play 执行场景操作，返回创建的 overlay ID
func play(ctx context.Context, tabs []*quicktabs.Tab, hub *memchan.Hub, coord *coordinator.Coordinator) ([]string, error) {
	first, second, last := tabs[0], tabs[1], tabs[len(tabs)-1]

	ids := make([]string, 0, runOverlays)
	for i := 0; i < runOverlays; i++ {
		o, err := first.CreateOverlay(ctx, fmt.Sprintf("https://example.com/%d", i+1), quicktabs.OverlayOptions{
			Left: 40 * i, Top: 40 * i, Width: 800, Height: 600,
		})
		if err != nil {
			return nil, fmt.Errorf("create overlay: %w", err)
		}
		ids = append(ids, o.ID)
	}

	// 故障注入在创建之后生效，后续操作依赖回退传输
	if runDrop > 0 {
		hub.DropNext(runDrop)
	}
	if runCoordFailures > 0 {
		coord.FailNext(runCoordFailures)
	}

	for i, id := range ids {
		if err := second.MoveOverlay(ctx, id, 100+20*i, 80+20*i); err != nil {
			return nil, fmt.Errorf("move %s: %w", id, err)
		}
		if err := last.ResizeOverlay(ctx, id, 640, 480); err != nil {
			return nil, fmt.Errorf("resize %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		if err := first.SetSolo(ctx, ids[0], []string{first.ContextID()}); err != nil {
			return nil, fmt.Errorf("solo: %w", err)
		}
		if _, err := last.BringToFront(ctx, ids[0]); err != nil {
			return nil, fmt.Errorf("bring to front: %w", err)
		}
	}
	if len(ids) > 1 {
		if err := second.MinimizeOverlay(ctx, ids[1]); err != nil {
			return nil, fmt.Errorf("minimize: %w", err)
		}
	}
	return ids, nil
}

func buildReport(tabs []*quicktabs.Tab, reg *prometheus.Registry, overlays int, elapsed time.Duration) (*Report, error) {
	r := &Report{Overlays: overlays, Elapsed: elapsed.Round(time.Millisecond).String()}

	var reference []OverlayView
	r.Converged = true
	for i, tab := range tabs {
		diag, err := tab.Diagnostics()
		if err != nil {
			return nil, err
		}
		view := TabView{ContextID: tab.ContextID(), Diagnostics: diag, Overlays: overlayViews(tab)}
		r.Tabs = append(r.Tabs, view)

		shared := sharedFields(view.Overlays)
		if i == 0 {
			reference = shared
		} else if !slices.Equal(reference, shared) {
			r.Converged = false
		}
	}

	if reg != nil {
		families, err := reg.Gather()
		if err != nil {
			return nil, fmt.Errorf("gather metrics: %w", err)
		}
		for _, mf := range families {
			var sum float64
			for _, m := range mf.GetMetric() {
				sum += m.GetCounter().GetValue() + m.GetGauge().GetValue()
			}
			r.Metrics = append(r.Metrics, MetricView{Name: mf.GetName(), Value: sum})
		}
	}
	return r, nil
}

func overlayViews(tab *quicktabs.Tab) []OverlayView {
	visible := make(map[string]bool)
	for _, o := range tab.Visible() {
		visible[o.ID] = true
	}
	all := tab.Overlays()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := make([]OverlayView, 0, len(all))
	for _, o := range all {
		out = append(out, overlayView(o, visible[o.ID]))
	}
	return out
}

func overlayView(o *types.Overlay, visible bool) OverlayView {
	return OverlayView{
		ID:        o.ID,
		URL:       o.URL,
		Left:      o.Position.Left,
		Top:       o.Position.Top,
		Width:     o.Size.Width,
		Height:    o.Size.Height,
		ZIndex:    o.ZIndex,
		Minimized: o.Minimized,
		Visible:   visible,
	}
}

// sharedFields 去掉与上下文相关的可见性，只比较逻辑状态
func sharedFields(views []OverlayView) []OverlayView {
	out := slices.Clone(views)
	for i := range out {
		out[i].Visible = false
	}
	return out
}
