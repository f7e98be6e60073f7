package model

import "time"

// MarginAccountSnapshot 保证金账户快照，任何杠杆仓位变化后重算
type MarginAccountSnapshot struct {
	Equity      float64                     `json:"equity"`
	UsedMargin  float64                     `json:"used_margin"`
	MarginLevel float64                     `json:"margin_level"` // equity / used_margin，无持仓时为+Inf
	Exposure    map[InstrumentClass]float64 `json:"exposure"`     // 每个品种类别的名义敞口
	MarginCall  bool                        `json:"margin_call"`
	Timestamp   time.Time                   `json:"timestamp"`
}

// StressResult 压力测试结果
type StressResult struct {
	ShockPct       float64  `json:"shock_pct"`
	Equity         float64  `json:"equity"`
	MarginLevel    float64  `json:"margin_level"`
	AtRiskSymbols  []string `json:"at_risk_symbols"` // 冲击后会跨过强平线的仓位
	WouldLiquidate bool     `json:"would_liquidate"`
}
