package model

import "time"

// 品种类别，用于分类敞口控制和隔夜费率
type InstrumentClass string

const (
	ClassForex     InstrumentClass = "forex"
	ClassIndex     InstrumentClass = "index"
	ClassCommodity InstrumentClass = "commodity"
	ClassCrypto    InstrumentClass = "crypto"
)

// Position 当前持仓，成交后创建，部分平仓时修改，全平后销毁
type Position struct {
	Symbol       string          `json:"symbol"`
	Side         PosSide         `json:"side"`
	Size         float64         `json:"size"`
	EntryPrice   float64         `json:"entry_price"`
	Leverage     int             `json:"leverage"` // 现货为1
	TrailingStop float64         `json:"trailing_stop"` // 当前移动止损位，只朝有利方向移动
	MarginUsed   float64         `json:"margin_used"`
	Class        InstrumentClass `json:"class"`
	OpenTime     time.Time       `json:"open_time"`
	FinancingCost float64        `json:"financing_cost"` // 累计隔夜费
}

// Notional 仓位名义价值
func (p *Position) Notional(price float64) float64 {
	return p.Size * price
}

// UnrealizedPnl 按最新价计算浮动盈亏
func (p *Position) UnrealizedPnl(lastPrice float64) float64 {
	if p == nil || p.Size <= 0 {
		return 0
	}
	if p.Side == PosSideLong {
		return (lastPrice - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - lastPrice) * p.Size
}
