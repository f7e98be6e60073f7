package model

import "time"

type SignalAction string

const (
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
	SignalHold SignalAction = "HOLD"
)

// Signal 策略输出，纯函数 Analyze 的结果
type Signal struct {
	Action     SignalAction       `json:"action"`
	Confidence float64            `json:"confidence"` // 0~1
	Reason     string             `json:"reason"`
	Indicators map[string]float64 `json:"indicators"` // 指标快照，便于复盘
	Symbol     string             `json:"symbol"`
	Price      float64            `json:"price"` // 信号对应的收盘价
	Timestamp  time.Time          `json:"timestamp"`
}

// Hold 便捷构造，reason 常见取值 "insufficient-data"
func Hold(reason string) Signal {
	return Signal{Action: SignalHold, Reason: reason}
}
