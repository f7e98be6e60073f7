package model

import "time"

// K线周期，与交易所频道名保持一致，如 "1m" "15m" "1H"
type KlinePeriod string

const (
	Period1m  KlinePeriod = "1m"
	Period5m  KlinePeriod = "5m"
	Period15m KlinePeriod = "15m"
	Period30m KlinePeriod = "30m"
	Period1H  KlinePeriod = "1H"
	Period4H  KlinePeriod = "4H"
	Period1D  KlinePeriod = "1D"
)

type Kline struct {
	Timestamp time.Time `json:"time"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Vol       float64   `json:"vol"`     // 成交量 以币为单位
	VolCcy    float64   `json:"vol_ccy"` // 成交额 以USDT为单位
	Confirm   bool      `json:"confirm"` // 该根K线是否已收盘，收盘后不可变
}

// SubscriptionKey 订阅去重的key
// Key: "BTC-USDT" + "15m"
type SubscriptionKey struct {
	Symbol string
	Period KlinePeriod
}

// TickerPrice 最新成交价记录
type TickerPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
