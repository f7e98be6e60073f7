package margin

import (
	"fmt"
	"math"
	"sync"
	"time"

	"botflow/internal/model"
	"botflow/pkg/logger"
)

// Engine 差价合约保证金引擎。
// 持仓簿按symbol索引；任何仓位变化后重算占用保证金和强平价。
// 余额(balance)是已实现资金，权益 = balance + 浮动盈亏 - 累计隔夜费。
type Engine struct {
	mu        sync.RWMutex
	balance   float64
	positions map[string]*model.Position

	callLevel   float64 // 追保线，默认1.0
	liqLevel    float64 // 强平线，默认0.5
	rates       map[model.InstrumentClass]float64 // 每日隔夜费率
	caps        map[model.InstrumentClass]float64 // 类别敞口上限，占权益比例
	lastRollover time.Time

	// 价格查询，接共享行情缓存
	priceOf func(symbol string) (float64, bool)
}

type Option func(*Engine)

func WithLevels(call, liq float64) Option {
	return func(e *Engine) {
		if call > 0 {
			e.callLevel = call
		}
		if liq > 0 {
			e.liqLevel = liq
		}
	}
}

func WithFinancingRates(rates map[model.InstrumentClass]float64) Option {
	return func(e *Engine) { e.rates = rates }
}

func WithExposureCaps(caps map[model.InstrumentClass]float64) Option {
	return func(e *Engine) { e.caps = caps }
}

func NewEngine(balance float64, priceOf func(string) (float64, bool), opts ...Option) *Engine {
	e := &Engine{
		balance:   balance,
		positions: make(map[string]*model.Position),
		callLevel: 1.0,
		liqLevel:  0.5,
		rates:     make(map[model.InstrumentClass]float64),
		caps:      make(map[model.InstrumentClass]float64),
		priceOf:   priceOf,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequiredMargin 名义价值除以杠杆
func RequiredMargin(size, price float64, leverage int) float64 {
	if leverage < 1 {
		leverage = 1
	}
	return size * price / float64(leverage)
}

// LiquidationPrice 强平价。
// 多头：入场价 - 保证金*(1-追保线)/数量；空头对称加回。
// 杠杆越高保证金越薄，强平价越贴近入场价。
func LiquidationPrice(p *model.Position, callLevel float64) float64 {
	if p == nil || p.Size <= 0 {
		return 0
	}
	buffer := p.MarginUsed * (1 - callLevel) / p.Size
	if p.Side == model.PosSideLong {
		return p.EntryPrice - buffer
	}
	return p.EntryPrice + buffer
}

// Open 开仓。检查敞口上限，占用保证金，登记持仓。
func (e *Engine) Open(p *model.Position) error {
	if p == nil || p.Size <= 0 {
		return fmt.Errorf("invalid position")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.positions[p.Symbol]; exists {
		return fmt.Errorf("position already open for %s", p.Symbol)
	}
	if err := e.checkExposureLocked(p.Class, p.Notional(p.EntryPrice)); err != nil {
		return err
	}
	p.MarginUsed = RequiredMargin(p.Size, p.EntryPrice, p.Leverage)
	e.positions[p.Symbol] = p
	return nil
}

// Close 平仓，盈亏落袋到balance
func (e *Engine) Close(symbol string, exitPrice float64) (realized float64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[symbol]
	if !ok {
		return 0, fmt.Errorf("no open position for %s", symbol)
	}
	realized = p.UnrealizedPnl(exitPrice) - p.FinancingCost
	e.balance += realized
	delete(e.positions, symbol)
	return realized, nil
}

// Position 持仓副本，无持仓返回nil
func (e *Engine) Position(symbol string) *model.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// UpdateTrailingStop 只允许朝有利方向移动
func (e *Engine) UpdateTrailingStop(symbol string, stop float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[symbol]
	if !ok {
		return false
	}
	if p.Side == model.PosSideLong {
		if stop > p.TrailingStop {
			p.TrailingStop = stop
			return true
		}
		return false
	}
	if p.TrailingStop == 0 || stop < p.TrailingStop {
		p.TrailingStop = stop
		return true
	}
	return false
}

func (e *Engine) markPrice(symbol string, fallback float64) float64 {
	if e.priceOf != nil {
		if px, ok := e.priceOf(symbol); ok && px > 0 {
			return px
		}
	}
	return fallback
}

// equityLocked 权益 = balance + 全部浮动盈亏 - 未结隔夜费
func (e *Engine) equityLocked() float64 {
	eq := e.balance
	for _, p := range e.positions {
		px := e.markPrice(p.Symbol, p.EntryPrice)
		eq += p.UnrealizedPnl(px) - p.FinancingCost
	}
	return eq
}

func (e *Engine) usedMarginLocked() float64 {
	used := 0.0
	for _, p := range e.positions {
		used += p.MarginUsed
	}
	return used
}

// Equity 当前权益
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equityLocked()
}

// MarginLevel 权益除以占用保证金，无持仓返回+Inf
func (e *Engine) MarginLevel() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return marginLevel(e.equityLocked(), e.usedMarginLocked())
}

func marginLevel(equity, used float64) float64 {
	if used <= 0 {
		return math.Inf(1)
	}
	return equity / used
}

// CheckExposure 开仓前校验类别敞口
func (e *Engine) CheckExposure(class model.InstrumentClass, addNotional float64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkExposureLocked(class, addNotional)
}

func (e *Engine) checkExposureLocked(class model.InstrumentClass, addNotional float64) error {
	limit, ok := e.caps[class]
	if !ok || limit <= 0 {
		return nil
	}
	equity := e.equityLocked()
	current := 0.0
	for _, p := range e.positions {
		if p.Class == class {
			current += p.Notional(e.markPrice(p.Symbol, p.EntryPrice))
		}
	}
	if current+addNotional > equity*limit {
		return fmt.Errorf("exposure cap exceeded for %s: %.2f + %.2f > %.2f",
			class, current, addNotional, equity*limit)
	}
	return nil
}

// AccrueFinancing 隔夜费结转。
// 每个00:00 UTC边界只结转一次，费率按品种类别。
func (e *Engine) AccrueFinancing(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	boundary := now.UTC().Truncate(24 * time.Hour)
	if !e.lastRollover.Before(boundary) {
		return
	}
	e.lastRollover = boundary

	for _, p := range e.positions {
		rate, ok := e.rates[p.Class]
		if !ok || rate == 0 {
			continue
		}
		px := e.markPrice(p.Symbol, p.EntryPrice)
		cost := p.Notional(px) * rate
		p.FinancingCost += cost
		logger.Info("[margin] financing accrued",
			logger.Pair("symbol", p.Symbol),
			logger.Pair("cost", cost))
	}
}

// MarginCall 追保状态
func (e *Engine) MarginCall() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lvl := marginLevel(e.equityLocked(), e.usedMarginLocked())
	return lvl <= e.callLevel
}

// LiquidationCheck 返回需要强平的symbol列表
func (e *Engine) LiquidationCheck() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	lvl := marginLevel(e.equityLocked(), e.usedMarginLocked())
	if lvl > e.liqLevel {
		return nil
	}
	out := make([]string, 0, len(e.positions))
	for sym := range e.positions {
		out = append(out, sym)
	}
	return out
}

// StressTest 给所有持仓价格加冲击，重算权益和保证金水平
func (e *Engine) StressTest(shockPct float64) model.StressResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	eq := e.balance
	atRisk := make([]string, 0)
	for _, p := range e.positions {
		px := e.markPrice(p.Symbol, p.EntryPrice)
		// 多头吃跌，空头吃涨，取不利方向
		shocked := px * (1 - shockPct)
		if p.Side == model.PosSideShort {
			shocked = px * (1 + shockPct)
		}
		eq += p.UnrealizedPnl(shocked) - p.FinancingCost

		liq := LiquidationPrice(p, e.callLevel)
		if p.Side == model.PosSideLong && shocked <= liq {
			atRisk = append(atRisk, p.Symbol)
		} else if p.Side == model.PosSideShort && liq > 0 && shocked >= liq {
			atRisk = append(atRisk, p.Symbol)
		}
	}

	lvl := marginLevel(eq, e.usedMarginLocked())
	return model.StressResult{
		ShockPct:       shockPct,
		Equity:         eq,
		MarginLevel:    lvl,
		AtRiskSymbols:  atRisk,
		WouldLiquidate: lvl <= e.liqLevel,
	}
}

// Snapshot 当前账户快照
func (e *Engine) Snapshot() model.MarginAccountSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	eq := e.equityLocked()
	used := e.usedMarginLocked()
	exposure := make(map[model.InstrumentClass]float64)
	for _, p := range e.positions {
		exposure[p.Class] += p.Notional(e.markPrice(p.Symbol, p.EntryPrice))
	}
	lvl := marginLevel(eq, used)
	return model.MarginAccountSnapshot{
		Equity:      eq,
		UsedMargin:  used,
		MarginLevel: lvl,
		Exposure:    exposure,
		MarginCall:  lvl <= e.callLevel,
		Timestamp:   time.Now(),
	}
}
