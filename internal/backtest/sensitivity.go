package backtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// Param es un parámetro barrible de Config.
type Param string

const (
	ParamSpreadOffset      Param = "spread_offset"
	ParamPositionSize      Param = "position_size"
	ParamRebateRate        Param = "rebate_rate"
	ParamMinEntrySpread    Param = "min_entry_spread"
	ParamCollapseSpread    Param = "collapse_spread"
	ParamCollapseProximity Param = "collapse_proximity"
)

var sweepable = map[Param]func(*Config, float64){
	ParamSpreadOffset:      func(c *Config, v float64) { c.SpreadOffset = v },
	ParamPositionSize:      func(c *Config, v float64) { c.PositionSize = v },
	ParamRebateRate:        func(c *Config, v float64) { c.RebateRate = v },
	ParamMinEntrySpread:    func(c *Config, v float64) { c.MinEntrySpread = v },
	ParamCollapseSpread:    func(c *Config, v float64) { c.CollapseSpread = v },
	ParamCollapseProximity: func(c *Config, v float64) { c.CollapseProximity = v },
}

// SensitivityRow es el resultado del backtest determinista con un valor
// del parámetro.
type SensitivityRow struct {
	Param   Param
	Value   float64
	Metrics Metrics
}

// ParseSweep parsea "param=v1,v2,...".
func ParseSweep(s string) (Param, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, fmt.Errorf("backtest.ParseSweep: expected param=v1,v2 got %q", s)
	}
	p := Param(strings.TrimSpace(name))
	if _, ok := sweepable[p]; !ok {
		return "", nil, fmt.Errorf("backtest.ParseSweep: unknown param %q", p)
	}
	var values []float64
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", nil, fmt.Errorf("backtest.ParseSweep: %s: %w", p, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("backtest.ParseSweep: %s: no values", p)
	}
	return p, values, nil
}

// Sensitivity corre el backtest determinista una vez por valor, variando
// solo param sobre la configuración del engine.
func (e *Engine) Sensitivity(ctx context.Context, windows []domain.MarketWindow, param Param, values []float64) ([]SensitivityRow, error) {
	set, ok := sweepable[param]
	if !ok {
		return nil, fmt.Errorf("backtest.Sensitivity: unknown param %q", param)
	}
	rows := make([]SensitivityRow, 0, len(values))
	for _, v := range values {
		cfg := e.cfg
		set(&cfg, v)
		sub, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("backtest.Sensitivity: %s=%v: %w", param, v, err)
		}
		res, err := sub.Run(ctx, windows)
		if err != nil {
			return nil, fmt.Errorf("backtest.Sensitivity: %w", err)
		}
		rows = append(rows, SensitivityRow{Param: param, Value: v, Metrics: ComputeMetrics(res)})
	}
	return rows, nil
}
