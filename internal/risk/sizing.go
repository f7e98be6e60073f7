package risk

import (
	"errors"
	"fmt"
	"math"

	"botflow/internal/model"
)

// 仓位计算。两个约束取较小者：
// 单笔风险上限 capital*riskPerTrade/止损距离，
// 单仓名义上限 capital*maxPositionPct/价格。
// 结果向下取整到最小步进，不满足交易规则直接拒绝。

type SizingRejectedError struct {
	Reason string
}

func (e *SizingRejectedError) Error() string { return "sizing rejected: " + e.Reason }

type Sizer interface {
	// Size 返回下单数量。capital为当前权益，stopDistance为入场价到止损价的绝对距离
	Size(capital, price, stopDistance float64, rules model.Rules) (float64, error)
}

// FixedFractional 固定比例风险
type FixedFractional struct {
	RiskPerTrade   float64 // 单笔风险占权益比例
	MaxPositionPct float64 // 单仓名义价值占权益比例
}

func NewFixedFractional(riskPerTrade, maxPositionPct float64) *FixedFractional {
	return &FixedFractional{RiskPerTrade: riskPerTrade, MaxPositionPct: maxPositionPct}
}

func (f *FixedFractional) Size(capital, price, stopDistance float64, rules model.Rules) (float64, error) {
	return sizeWithFraction(f.RiskPerTrade, f.MaxPositionPct, capital, price, stopDistance, rules)
}

func sizeWithFraction(riskFrac, maxPosPct, capital, price, stopDistance float64, rules model.Rules) (float64, error) {
	if capital <= 0 {
		return 0, &SizingRejectedError{Reason: "no capital"}
	}
	if price <= 0 {
		return 0, &SizingRejectedError{Reason: "invalid price"}
	}
	if stopDistance <= 0 {
		return 0, &SizingRejectedError{Reason: "stop distance must be positive"}
	}

	riskQty := capital * riskFrac / stopDistance
	capQty := capital * maxPosPct / price
	qty := math.Min(riskQty, capQty)

	if rules.LotSize > 0 {
		// 容忍浮点除法误差，4/0.01不能floor成399
		qty = math.Floor(qty/rules.LotSize+1e-9) * rules.LotSize
	}
	if qty <= 0 || (rules.LotSize > 0 && qty < rules.LotSize) {
		return 0, &SizingRejectedError{Reason: "quantity below lot size"}
	}
	if rules.MinNotional > 0 && qty*price < rules.MinNotional {
		return 0, &SizingRejectedError{
			Reason: fmt.Sprintf("notional %.4f below minimum %.2f", qty*price, rules.MinNotional),
		}
	}
	return qty, nil
}

// KellySizer 凯利公式调整风险比例。
// f = W - (1-W)/R，裁剪到[0, Cap]；样本不足退化为固定比例。
type KellySizer struct {
	BaseRisk       float64 // 样本不足时的固定风险比例
	MaxPositionPct float64
	Cap            float64 // 凯利比例上限，默认0.25
	MinSample      int     // 最少结算笔数，默认20
}

func NewKellySizer(baseRisk, maxPositionPct float64) *KellySizer {
	return &KellySizer{
		BaseRisk:       baseRisk,
		MaxPositionPct: maxPositionPct,
		Cap:            0.25,
		MinSample:      20,
	}
}

// Fraction 根据历史战绩计算风险比例
func (k *KellySizer) Fraction(wins, losses int, grossWin, grossLoss float64) float64 {
	total := wins + losses
	if total < k.MinSample {
		return k.BaseRisk
	}
	if losses == 0 || grossLoss <= 0 {
		// 全胜样本没有赔率信息，用上限
		return k.Cap
	}
	if wins == 0 {
		return 0
	}

	w := float64(wins) / float64(total)
	avgWin := grossWin / float64(wins)
	avgLoss := grossLoss / float64(losses)
	if avgWin <= 0 {
		return 0
	}
	r := avgWin / avgLoss

	f := w - (1-w)/r
	if f < 0 {
		f = 0
	}
	if f > k.Cap {
		f = k.Cap
	}
	return f
}

func (k *KellySizer) SizeWithHistory(capital, price, stopDistance float64, rules model.Rules, state *model.BotRuntimeState) (float64, error) {
	frac := k.BaseRisk
	if state != nil {
		frac = k.Fraction(state.Wins, state.Losses, state.GrossWin, state.GrossLoss)
	}
	if frac <= 0 {
		return 0, &SizingRejectedError{Reason: "kelly fraction is zero, edge is negative"}
	}
	return sizeWithFraction(frac, k.MaxPositionPct, capital, price, stopDistance, rules)
}

func IsSizingRejected(err error) bool {
	var t *SizingRejectedError
	return errors.As(err, &t)
}
