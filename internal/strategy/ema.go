package strategy

import (
	"fmt"
	"math"

	"botflow/internal/model"

	"github.com/markcheno/go-talib"
)

const EMACross = "ema_cross"

func init() {
	Register(EMACross, func(params map[string]float64) Strategy {
		return &EMAStrategy{
			FastPeriod: int(paramOr(params, "fast", 20)),
			SlowPeriod: int(paramOr(params, "slow", 50)),
		}
	})
}

// EMAStrategy 均线交叉趋势跟随。
// 快线上穿慢线买入，下穿卖出；只在交叉的那根K线上发信号。
type EMAStrategy struct {
	FastPeriod int
	SlowPeriod int
}

func (e *EMAStrategy) Name() string { return EMACross }

func (e *EMAStrategy) Params() map[string]float64 {
	return map[string]float64{
		"fast": float64(e.FastPeriod),
		"slow": float64(e.SlowPeriod),
	}
}

func (e *EMAStrategy) Analyze(klines []model.Kline) model.Signal {
	// 前一根的慢线也要已经算出来，否则穿越判定拿到的是填充值
	if len(klines) < e.SlowPeriod+2 {
		return model.Hold("insufficient-data")
	}
	closes := extractCloses(klines)
	fastEMA := talib.Ema(closes, e.FastPeriod)
	slowEMA := talib.Ema(closes, e.SlowPeriod)

	n := len(closes)
	fast, slow := fastEMA[n-1], slowEMA[n-1]
	fastPrev, slowPrev := fastEMA[n-2], slowEMA[n-2]
	last := klines[len(klines)-1]

	sig := model.Signal{
		Action:     model.SignalHold,
		Reason:     "no crossover",
		Indicators: map[string]float64{"ema_fast": fast, "ema_slow": slow},
		Price:      last.Close,
		Timestamp:  last.Timestamp,
	}

	// 交叉强度相对收盘价归一
	strength := math.Abs(fast-slow) / last.Close

	switch {
	case fastPrev <= slowPrev && fast > slow:
		sig.Action = model.SignalBuy
		sig.Reason = fmt.Sprintf("ema%d crossed above ema%d", e.FastPeriod, e.SlowPeriod)
		sig.Confidence = clamp01(0.5 + strength*50)
	case fastPrev >= slowPrev && fast < slow:
		sig.Action = model.SignalSell
		sig.Reason = fmt.Sprintf("ema%d crossed below ema%d", e.FastPeriod, e.SlowPeriod)
		sig.Confidence = clamp01(0.5 + strength*50)
	}
	return sig
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
