package strategy

import (
	"botflow/internal/model"

	"github.com/markcheno/go-talib"
)

const MACDMomentum = "macd_momentum"

func init() {
	Register(MACDMomentum, func(params map[string]float64) Strategy {
		return &MACDStrategy{
			FastPeriod:   int(paramOr(params, "fast", 12)),
			SlowPeriod:   int(paramOr(params, "slow", 26)),
			SignalPeriod: int(paramOr(params, "signal", 9)),
		}
	})
}

// MACDStrategy 动量确认。
// DIF上穿DEA且柱状图翻正买入，反向对称卖出。
type MACDStrategy struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

func (m *MACDStrategy) Name() string { return MACDMomentum }

func (m *MACDStrategy) Params() map[string]float64 {
	return map[string]float64{
		"fast":   float64(m.FastPeriod),
		"slow":   float64(m.SlowPeriod),
		"signal": float64(m.SignalPeriod),
	}
}

func (m *MACDStrategy) Analyze(klines []model.Kline) model.Signal {
	if len(klines) < m.SlowPeriod+m.SignalPeriod+1 {
		return model.Hold("insufficient-data")
	}
	closes := extractCloses(klines)
	macd, signalLine, hist := talib.Macd(closes, m.FastPeriod, m.SlowPeriod, m.SignalPeriod)

	n := len(closes)
	lastMacd := macd[n-1]
	lastSignal := signalLine[n-1]
	lastHist := hist[n-1]
	prevHist := hist[n-2]
	last := klines[len(klines)-1]

	sig := model.Signal{
		Action:     model.SignalHold,
		Reason:     "no momentum shift",
		Indicators: map[string]float64{"macd": lastMacd, "signal": lastSignal, "hist": lastHist},
		Price:      last.Close,
		Timestamp:  last.Timestamp,
	}

	switch {
	case prevHist <= 0 && lastHist > 0 && lastMacd > lastSignal:
		sig.Action = model.SignalBuy
		sig.Reason = "macd histogram turned positive"
		sig.Confidence = 0.6
	case prevHist >= 0 && lastHist < 0 && lastMacd < lastSignal:
		sig.Action = model.SignalSell
		sig.Reason = "macd histogram turned negative"
		sig.Confidence = 0.6
	}
	return sig
}
