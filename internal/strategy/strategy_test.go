package strategy

import (
	"testing"
	"time"

	"botflow/internal/model"
)

func klinesFrom(closes []float64) []model.Kline {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ks := make([]model.Kline, len(closes))
	for i, c := range closes {
		ks[i] = model.Kline{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c,
			Close:     c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Confirm:   true,
		}
	}
	return ks
}

func TestRSIInsufficientData(t *testing.T) {
	s, err := New(RSIReversal, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig := s.Analyze(klinesFrom([]float64{100, 101, 102}))
	if sig.Action != model.SignalHold {
		t.Fatalf("action = %s, want HOLD", sig.Action)
	}
	if sig.Reason != "insufficient-data" {
		t.Fatalf("reason = %q", sig.Reason)
	}
}

func TestRSIMonotonicSeriesNoEntry(t *testing.T) {
	s, _ := New(RSIReversal, nil)

	// 单边上涨：RSI贴近100，始终不在超卖区，不允许买入
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	sig := s.Analyze(klinesFrom(up))
	if sig.Action == model.SignalBuy {
		t.Fatalf("rising series must not trigger buy, rsi = %v", sig.Indicators["rsi"])
	}
	if rsi := sig.Indicators["rsi"]; rsi < 95 {
		t.Errorf("rsi on rising series = %v, want near 100", rsi)
	}

	// 单边下跌：RSI贴近0，停留在超卖区也不算穿越
	down := make([]float64, 60)
	for i := range down {
		down[i] = 200 - float64(i)
	}
	sig = s.Analyze(klinesFrom(down))
	if sig.Action == model.SignalBuy {
		t.Fatal("staying inside the oversold band is not a cross-up")
	}
	if rsi := sig.Indicators["rsi"]; rsi > 5 {
		t.Errorf("rsi on falling series = %v, want near 0", rsi)
	}
}

func TestRSIBuyOnlyOnCrossUp(t *testing.T) {
	s, _ := New(RSIReversal, nil)

	// 先砸到超卖区，再反弹上穿30
	closes := make([]float64, 0, 64)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-float64(i+1)*2)
	}
	// 反弹
	closes = append(closes, 62, 66, 72, 80)

	sawBuy := false
	for n := 40; n <= len(closes); n++ {
		sig := s.Analyze(klinesFrom(closes[:n]))
		if sig.Action == model.SignalBuy {
			sawBuy = true
			prev := sig.Indicators["rsi_prev"]
			curr := sig.Indicators["rsi"]
			if !(prev < 30 && curr >= 30) {
				t.Fatalf("buy without cross-up: prev=%v curr=%v", prev, curr)
			}
		}
	}
	if !sawBuy {
		t.Fatal("rebound through the oversold line must produce a buy")
	}
}

func TestEMACrossSignalsOnlyAtCross(t *testing.T) {
	s, _ := New(EMACross, map[string]float64{"fast": 3, "slow": 6})

	// 长期下行后反转上行，快线必然上穿慢线一次
	closes := make([]float64, 0, 40)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-float64(i))
	}
	for i := 0; i < 20; i++ {
		closes = append(closes, 81+float64(i)*2)
	}

	buys := 0
	for n := 10; n <= len(closes); n++ {
		if s.Analyze(klinesFrom(closes[:n])).Action == model.SignalBuy {
			buys++
		}
	}
	if buys != 1 {
		t.Fatalf("buys = %d, want exactly one at the crossover bar", buys)
	}
}

func TestMACDInsufficientData(t *testing.T) {
	s, _ := New(MACDMomentum, nil)
	if sig := s.Analyze(klinesFrom(make([]float64, 20))); sig.Action != model.SignalHold {
		t.Fatalf("action = %s", sig.Action)
	}
}

func TestRegistryUnknownStrategy(t *testing.T) {
	if _, err := New("no_such_strategy", nil); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestRegistryNames(t *testing.T) {
	names := Names()
	want := map[string]bool{RSIReversal: false, EMACross: false, MACDMomentum: false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("builtin strategy %s not registered", n)
		}
	}
}
