package risk

import (
	"math"
	"testing"

	"botflow/internal/model"
)

var stdRules = model.Rules{LotSize: 0.01, TickSize: 0.01, MinNotional: 5}

func TestFixedFractionalRiskBound(t *testing.T) {
	// 10000权益、2%风险、止损距离50 -> 风险约束给4
	// 名义上限 10000*100%/100 = 100，风险约束更紧
	s := NewFixedFractional(0.02, 1.0)
	qty, err := s.Size(10000, 100, 50, stdRules)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if qty != 4 {
		t.Fatalf("qty = %v, want 4", qty)
	}
}

func TestFixedFractionalPositionCapBound(t *testing.T) {
	// 止损很近时风险约束放得很大，名义上限接管
	s := NewFixedFractional(0.02, 0.1)
	qty, err := s.Size(10000, 100, 0.5, stdRules)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// 风险约束 10000*0.02/0.5=400，名义上限 10000*0.1/100=10
	if qty != 10 {
		t.Fatalf("qty = %v, want 10", qty)
	}
}

func TestFixedFractionalLotFlooring(t *testing.T) {
	s := NewFixedFractional(0.02, 1.0)
	qty, err := s.Size(10000, 100, 61, stdRules)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// 10000*0.02/61 = 3.2786... -> 向下取整到0.01步进
	if math.Abs(qty-3.27) > 1e-9 {
		t.Fatalf("qty = %v, want floored 3.27", qty)
	}
}

func TestFixedFractionalRejections(t *testing.T) {
	s := NewFixedFractional(0.02, 1.0)

	if _, err := s.Size(10000, 100, 0, stdRules); !IsSizingRejected(err) {
		t.Errorf("zero stop distance: %v", err)
	}
	if _, err := s.Size(0, 100, 50, stdRules); !IsSizingRejected(err) {
		t.Errorf("zero capital: %v", err)
	}
	// 数量落在步进以下
	if _, err := s.Size(10, 100000, 50000, stdRules); !IsSizingRejected(err) {
		t.Errorf("below lot size: %v", err)
	}
	// 名义价值不足
	rules := model.Rules{LotSize: 0.01, MinNotional: 500}
	if _, err := s.Size(100, 100, 50, rules); !IsSizingRejected(err) {
		t.Errorf("below min notional: %v", err)
	}
}

func TestKellyFallbackOnSmallSample(t *testing.T) {
	k := NewKellySizer(0.02, 1.0)
	// 样本不足20笔，退化为固定比例
	if f := k.Fraction(5, 5, 500, 300); f != 0.02 {
		t.Fatalf("fraction = %v, want base 0.02", f)
	}
}

func TestKellyClipped(t *testing.T) {
	k := NewKellySizer(0.02, 1.0)

	// 高胜率高赔率：裁剪到上限
	if f := k.Fraction(18, 4, 5400, 400); f != 0.25 {
		t.Fatalf("fraction = %v, want capped 0.25", f)
	}
	// 负期望：永不为负
	if f := k.Fraction(5, 25, 250, 2500); f != 0 {
		t.Fatalf("fraction = %v, want 0", f)
	}
	// 全胜样本
	if f := k.Fraction(25, 0, 2500, 0); f != 0.25 {
		t.Fatalf("all-win fraction = %v, want cap", f)
	}
}

func TestKellySizeNeverExceedsCap(t *testing.T) {
	k := NewKellySizer(0.02, 1.0)
	state := &model.BotRuntimeState{Wins: 30, Losses: 2, GrossWin: 9000, GrossLoss: 100}

	qty, err := k.SizeWithHistory(10000, 100, 50, stdRules, state)
	if err != nil {
		t.Fatalf("SizeWithHistory: %v", err)
	}
	// 即使凯利给出极端值，风险比例封顶0.25 -> 10000*0.25/50 = 50
	if qty > 50 {
		t.Fatalf("qty = %v, exceeds capped risk", qty)
	}
}

func TestKellyZeroEdgeRejected(t *testing.T) {
	k := NewKellySizer(0.02, 1.0)
	state := &model.BotRuntimeState{Wins: 5, Losses: 25, GrossWin: 250, GrossLoss: 2500}
	if _, err := k.SizeWithHistory(10000, 100, 50, stdRules, state); !IsSizingRejected(err) {
		t.Fatalf("negative edge must reject sizing: %v", err)
	}
}
