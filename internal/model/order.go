package model

import "time"

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderType string

const (
	// 市价购买
	Market OrderType = "market"
	// 限价购买
	Limit OrderType = "limit"
	// 止损委托，触发价到达后按市价成交
	Stop OrderType = "stop"
)

// posSide 持仓方向 做多long或者做空short
type PosSide string

const (
	PosSideLong  PosSide = "long"
	PosSideShort PosSide = "short"
)

// 订单生命周期状态
type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderFilled    OrderState = "filled"
	OrderPartial   OrderState = "partial"
	OrderRejected  OrderState = "rejected"
	OrderCancelled OrderState = "cancelled"
)

type Order struct {
	Symbol    string // BTC/USDT
	Side      OrderSide
	Price     float64 // 限价单价格；市价单可为0，由执行端回填
	StopPrice float64 // 止损委托触发价
	Quantity  float64
	OrderType OrderType
	TPPrice   float64
	SLPrice   float64
	Strategy  string
	BotID     string
	Comment   string
	Leverage  int       // 杠杆倍数，现货为1
	Timestamp time.Time // 信号触发时间
}

type OrderResponse struct {
	OrderId    string
	Status     OrderState
	FilledQty  float64
	AvgPrice   float64
	IsTestMode bool // 模拟撮合时为true，响应结构与真实接口完全一致
	Message    string
}

type OrderStatus struct {
	OrderID   string
	Status    OrderState
	Filled    float64
	Remaining float64
}

// Rules 交易规则（下单前校验用）
type Rules struct {
	LotSize     float64 // 数量最小步进
	TickSize    float64 // 价格最小步进
	MinNotional float64 // 最小下单名义价值
}

// TradeRecord 成交账本，只追加不修改
type TradeRecord struct {
	ID        uint      `gorm:"column:id;primary_key;" json:"id"`
	OrderId   string    `gorm:"column:order_id" json:"order_id"`
	BotID     string    `gorm:"column:bot_id;index" json:"bot_id"`
	Symbol    string    `gorm:"column:symbol" json:"symbol"`
	Side      OrderSide `gorm:"column:side" json:"side"`
	Quantity  float64   `gorm:"column:quantity" json:"quantity"`
	Price     float64   `gorm:"column:price" json:"price"`
	Commission float64  `gorm:"column:commission" json:"commission"`
	RealizedPnl float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
	Strategy  string    `gorm:"column:strategy" json:"strategy"`
	Reason    string    `gorm:"column:reason" json:"reason"` // 信号依据，如 "rsi-cross-up"
	TestMode  bool      `gorm:"column:test_mode" json:"test_mode"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (TradeRecord) TableName() string {
	return "trade_record"
}
