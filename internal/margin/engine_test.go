package margin

import (
	"math"
	"testing"
	"time"

	"botflow/internal/model"
)

func fixedPrice(px float64) func(string) (float64, bool) {
	return func(string) (float64, bool) { return px, true }
}

func TestRequiredMargin(t *testing.T) {
	if got := RequiredMargin(10, 100, 10); got != 100 {
		t.Errorf("margin = %v, want 100", got)
	}
	if got := RequiredMargin(10, 100, 1); got != 1000 {
		t.Errorf("spot margin = %v, want full notional", got)
	}
}

func TestLiquidationPriceLeverageOrdering(t *testing.T) {
	// 入场100，同一追保线下杠杆50的强平价比杠杆10更贴近入场价
	mk := func(lev int) *model.Position {
		p := &model.Position{
			Symbol: "EURUSD", Side: model.PosSideLong,
			Size: 10, EntryPrice: 100, Leverage: lev,
		}
		p.MarginUsed = RequiredMargin(p.Size, p.EntryPrice, lev)
		return p
	}

	liq10 := LiquidationPrice(mk(10), 0.5)
	liq50 := LiquidationPrice(mk(50), 0.5)

	if liq10 >= 100 || liq50 >= 100 {
		t.Fatalf("long liquidation must sit below entry: %v %v", liq10, liq50)
	}
	if !(100-liq50 < 100-liq10) {
		t.Fatalf("leverage 50 buffer %v must be tighter than leverage 10 buffer %v",
			100-liq50, 100-liq10)
	}
}

func TestLiquidationPriceShortSide(t *testing.T) {
	p := &model.Position{
		Symbol: "XAUUSD", Side: model.PosSideShort,
		Size: 2, EntryPrice: 2000, Leverage: 20,
	}
	p.MarginUsed = RequiredMargin(p.Size, p.EntryPrice, 20)
	liq := LiquidationPrice(p, 0.5)
	if liq <= 2000 {
		t.Fatalf("short liquidation = %v, must sit above entry", liq)
	}
}

func TestMarginLevelAndCall(t *testing.T) {
	e := NewEngine(1000, fixedPrice(100))
	if !math.IsInf(e.MarginLevel(), 1) {
		t.Fatal("no positions -> margin level +Inf")
	}

	err := e.Open(&model.Position{
		Symbol: "BTC-USDT", Side: model.PosSideLong,
		Size: 1, EntryPrice: 100, Leverage: 1, Class: model.ClassCrypto,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// 权益1000，占用100 -> level 10
	if lvl := e.MarginLevel(); lvl != 10 {
		t.Fatalf("level = %v, want 10", lvl)
	}
	if e.MarginCall() {
		t.Fatal("healthy account must not be in margin call")
	}
}

func TestMarginCallOnAdversePrice(t *testing.T) {
	px := 100.0
	e := NewEngine(500, func(string) (float64, bool) { return px, true },
		WithLevels(1.0, 0.5))

	if err := e.Open(&model.Position{
		Symbol: "US500", Side: model.PosSideLong,
		Size: 50, EntryPrice: 100, Leverage: 10, Class: model.ClassIndex,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// 占用 50*100/10 = 500

	px = 99 // 浮亏50 -> 权益450/500 = 0.9 ≤ 1.0
	if !e.MarginCall() {
		t.Fatalf("level = %v, expected margin call", e.MarginLevel())
	}
	if liq := e.LiquidationCheck(); liq != nil {
		t.Fatalf("0.9 is above liquidation level, got %v", liq)
	}

	px = 95 // 浮亏250 -> 权益250/500 = 0.5 ≤ 0.5
	if liq := e.LiquidationCheck(); len(liq) != 1 || liq[0] != "US500" {
		t.Fatalf("liquidation list = %v", liq)
	}
}

func TestCloseRealizesPnl(t *testing.T) {
	e := NewEngine(1000, fixedPrice(110))
	if err := e.Open(&model.Position{
		Symbol: "BTC-USDT", Side: model.PosSideLong,
		Size: 2, EntryPrice: 100, Leverage: 1, Class: model.ClassCrypto,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	realized, err := e.Close("BTC-USDT", 110)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if realized != 20 {
		t.Fatalf("realized = %v, want 20", realized)
	}
	if e.Equity() != 1020 {
		t.Fatalf("equity = %v, want 1020", e.Equity())
	}
	if e.Position("BTC-USDT") != nil {
		t.Fatal("position must be removed after close")
	}
}

func TestExposureCaps(t *testing.T) {
	e := NewEngine(1000, fixedPrice(100),
		WithExposureCaps(map[model.InstrumentClass]float64{model.ClassCrypto: 0.5}))

	// 上限 1000*0.5 = 500 名义
	if err := e.Open(&model.Position{
		Symbol: "BTC-USDT", Side: model.PosSideLong,
		Size: 4, EntryPrice: 100, Leverage: 10, Class: model.ClassCrypto,
	}); err != nil {
		t.Fatalf("first open within cap: %v", err)
	}
	// 已占400，再开200超出
	err := e.Open(&model.Position{
		Symbol: "ETH-USDT", Side: model.PosSideLong,
		Size: 2, EntryPrice: 100, Leverage: 10, Class: model.ClassCrypto,
	})
	if err == nil {
		t.Fatal("open breaching class cap must be rejected")
	}
	// 其他类别不受影响
	if err := e.Open(&model.Position{
		Symbol: "XAUUSD", Side: model.PosSideLong,
		Size: 1, EntryPrice: 100, Leverage: 10, Class: model.ClassCommodity,
	}); err != nil {
		t.Fatalf("other class must not be capped: %v", err)
	}
}

func TestFinancingAccruesOncePerRollover(t *testing.T) {
	e := NewEngine(1000, fixedPrice(100),
		WithFinancingRates(map[model.InstrumentClass]float64{model.ClassForex: 0.0001}))

	if err := e.Open(&model.Position{
		Symbol: "EURUSD", Side: model.PosSideLong,
		Size: 10, EntryPrice: 100, Leverage: 10, Class: model.ClassForex,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	day := time.Date(2025, 6, 2, 0, 0, 1, 0, time.UTC)
	e.AccrueFinancing(day)
	p := e.Position("EURUSD")
	want := 10 * 100 * 0.0001
	if math.Abs(p.FinancingCost-want) > 1e-12 {
		t.Fatalf("financing = %v, want %v", p.FinancingCost, want)
	}

	// 同一天再结转不生效
	e.AccrueFinancing(day.Add(6 * time.Hour))
	if p := e.Position("EURUSD"); p.FinancingCost != want {
		t.Fatalf("same-day rollover must accrue once, got %v", p.FinancingCost)
	}

	// 跨过下一个00:00 UTC再结转
	e.AccrueFinancing(day.Add(24 * time.Hour))
	if p := e.Position("EURUSD"); math.Abs(p.FinancingCost-2*want) > 1e-12 {
		t.Fatalf("next-day financing = %v, want %v", p.FinancingCost, 2*want)
	}
}

func TestStressTestFlagsAtRisk(t *testing.T) {
	e := NewEngine(1000, fixedPrice(100), WithLevels(0.5, 0.5))
	if err := e.Open(&model.Position{
		Symbol: "US500", Side: model.PosSideLong,
		Size: 20, EntryPrice: 100, Leverage: 10, Class: model.ClassIndex,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// 占用200，强平价 = 100 - 200*0.5/20 = 95

	res := e.StressTest(0.20) // -20% -> 80，跌穿95
	if len(res.AtRiskSymbols) != 1 || res.AtRiskSymbols[0] != "US500" {
		t.Fatalf("at risk = %v", res.AtRiskSymbols)
	}
	// 冲击后浮亏400 -> 权益600
	if res.Equity >= 1000 {
		t.Fatalf("shocked equity = %v, must drop", res.Equity)
	}

	mild := e.StressTest(0.01)
	if len(mild.AtRiskSymbols) != 0 {
		t.Fatalf("1%% shock must not flag liquidation: %v", mild.AtRiskSymbols)
	}
}

func TestSnapshotExposure(t *testing.T) {
	e := NewEngine(1000, fixedPrice(100))
	_ = e.Open(&model.Position{
		Symbol: "BTC-USDT", Side: model.PosSideLong,
		Size: 2, EntryPrice: 100, Leverage: 10, Class: model.ClassCrypto,
	})
	snap := e.Snapshot()
	if snap.Exposure[model.ClassCrypto] != 200 {
		t.Fatalf("exposure = %v, want 200", snap.Exposure[model.ClassCrypto])
	}
	if snap.UsedMargin != 20 {
		t.Fatalf("used = %v, want 20", snap.UsedMargin)
	}
	if snap.MarginCall {
		t.Fatal("unexpected margin call")
	}
}
