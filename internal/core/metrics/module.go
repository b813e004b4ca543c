package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-quicktabs/config"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config        `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// Module 是 metrics 的 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(NewMetricsFromParams),
)

// NewMetricsFromParams 从参数创建 Metrics
//
// 未启用指标或未提供 Registerer 时返回未注册的 Metrics，调用依然有效。
func NewMetricsFromParams(p Params) *Metrics {
	if p.UnifiedCfg == nil || !p.UnifiedCfg.Diagnostics.EnableMetrics || p.Registerer == nil {
		return NewMetrics(nil)
	}
	return NewMetrics(p.Registerer)
}
