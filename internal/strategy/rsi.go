package strategy

import (
	"fmt"

	"botflow/internal/model"

	"github.com/markcheno/go-talib"
)

const RSIReversal = "rsi_reversal"

func init() {
	Register(RSIReversal, func(params map[string]float64) Strategy {
		return &RSIStrategy{
			Period:     int(paramOr(params, "period", 14)),
			Oversold:   paramOr(params, "oversold", 30),
			Overbought: paramOr(params, "overbought", 70),
		}
	})
}

// RSIStrategy 超买超卖反转。
// 只在穿越时刻发信号：RSI从下方上穿超卖线才买入，
// 停留在超卖区不算；超买侧对称。穿越判定用Wilder平滑的RSI序列。
type RSIStrategy struct {
	Period     int
	Oversold   float64
	Overbought float64
}

func (r *RSIStrategy) Name() string { return RSIReversal }

func (r *RSIStrategy) Params() map[string]float64 {
	return map[string]float64{
		"period":     float64(r.Period),
		"oversold":   r.Oversold,
		"overbought": r.Overbought,
	}
}

func (r *RSIStrategy) Analyze(klines []model.Kline) model.Signal {
	// 穿越判定需要前后两个有效RSI值
	if len(klines) < r.Period+2 {
		return model.Hold("insufficient-data")
	}
	closes := extractCloses(klines)
	rsiArr := talib.Rsi(closes, r.Period)

	curr := rsiArr[len(rsiArr)-1]
	prev := rsiArr[len(rsiArr)-2]
	last := klines[len(klines)-1]

	sig := model.Signal{
		Action:     model.SignalHold,
		Reason:     "no crossover",
		Indicators: map[string]float64{"rsi": curr, "rsi_prev": prev},
		Price:      last.Close,
		Timestamp:  last.Timestamp,
	}

	switch {
	case prev < r.Oversold && curr >= r.Oversold:
		sig.Action = model.SignalBuy
		sig.Reason = fmt.Sprintf("rsi crossed up through %.1f", r.Oversold)
		sig.Confidence = confidenceFrom(curr)
	case prev > r.Overbought && curr <= r.Overbought:
		sig.Action = model.SignalSell
		sig.Reason = fmt.Sprintf("rsi crossed down through %.1f", r.Overbought)
		sig.Confidence = confidenceFrom(curr)
	}
	return sig
}

// 偏离中轴越远信心越高
func confidenceFrom(rsi float64) float64 {
	c := (50 - rsi) / 50
	if c < 0 {
		c = -c
	}
	if c > 1 {
		c = 1
	}
	return 0.5 + c/2
}
