package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botflow/internal/exchange"
	"botflow/internal/feed"
	"botflow/internal/marketcache"
	"botflow/internal/model"
	"botflow/internal/risk"
	"botflow/internal/strategy"
	"botflow/pkg/logger"
	"botflow/utils"
)

// StateStore 状态快照持久化，尽力而为，失败绝不影响交易决策
type StateStore interface {
	Save(ctx context.Context, botID string, state *model.BotRuntimeState) error
	Latest(ctx context.Context, botID string) (*model.BotRuntimeState, error)
}

// TradeStore 成交账本
type TradeStore interface {
	Insert(ctx context.Context, record *model.TradeRecord) error
}

// MarginBook 共享保证金账本，开平仓时登记，敞口超限时拒绝
type MarginBook interface {
	Open(p *model.Position) error
	Close(symbol string, exitPrice float64) (float64, error)
	UpdateTrailingStop(symbol string, stop float64) bool
}

// Bot 一个(币种,策略)配对的实例。
// 状态机：created -> running <-> paused -> stopped；
// running -> halted 熔断，必须显式Reset后才能再启动。
// 每个实例一个循环goroutine，tick内先做离场检查再做进场评估。
type Bot struct {
	cfg      model.BotConfig
	strategy strategy.Strategy
	sizer    *risk.KellySizer

	cache *marketcache.Cache
	feed  feed.Source
	ex    exchange.Exchange

	marginBook MarginBook // 可选
	stateStore StateStore // 可选
	tradeStore TradeStore // 可选

	tickInterval time.Duration
	orderTimeout time.Duration
	rules        model.Rules

	mu     sync.Mutex
	state  model.BotRuntimeState
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	Cache        *marketcache.Cache
	Feed         feed.Source
	Exchange     exchange.Exchange
	MarginBook   MarginBook
	StateStore   StateStore
	TradeStore   TradeStore
	TickInterval time.Duration
	OrderTimeout time.Duration
}

func New(cfg model.BotConfig, strat strategy.Strategy, opts Options) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Cache == nil || opts.Exchange == nil {
		return nil, fmt.Errorf("bot %s: cache and exchange are required", cfg.ID)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = 10 * time.Second
	}

	rules, err := opts.Exchange.GetRules(cfg.Symbol)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		cfg:          cfg,
		strategy:     strat,
		sizer:        risk.NewKellySizer(cfg.RiskPerTrade, cfg.MaxPositionSize),
		cache:        opts.Cache,
		feed:         opts.Feed,
		ex:           opts.Exchange,
		marginBook:   opts.MarginBook,
		stateStore:   opts.StateStore,
		tradeStore:   opts.TradeStore,
		tickInterval: opts.TickInterval,
		orderTimeout: opts.OrderTimeout,
		rules:        rules,
		state: model.BotRuntimeState{
			State:      model.BotCreated,
			Equity:     cfg.Capital,
			PeakEquity: cfg.Capital,
			UpdatedAt:  time.Now(),
		},
	}
	return b, nil
}

func (b *Bot) ID() string             { return b.cfg.ID }
func (b *Bot) Config() model.BotConfig { return b.cfg }

// State 运行时状态副本
func (b *Bot) State() model.BotRuntimeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state
	if b.state.Position != nil {
		cp := *b.state.Position
		st.Position = &cp
	}
	return st
}

// Start 启动循环。重复Start一个running的bot直接返回当前状态，不会产生第二个循环。
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.state.State {
	case model.BotRunning:
		b.mu.Unlock()
		return nil
	case model.BotStopped:
		b.mu.Unlock()
		return fmt.Errorf("bot %s is stopped, create a new instance", b.cfg.ID)
	case model.BotHalted:
		b.mu.Unlock()
		return fmt.Errorf("bot %s is halted (%s), reset before starting", b.cfg.ID, b.state.HaltReason)
	case model.BotPaused:
		// 暂停中的循环还在，恢复即可
		b.state.State = model.BotRunning
		b.state.UpdatedAt = time.Now()
		b.mu.Unlock()
		return nil
	}

	// created状态下循环可能还活着：halted期间循环继续管理离场，
	// Reset只把状态拨回created。活着就复用，一个bot永远只有一个循环。
	if b.done != nil {
		b.state.State = model.BotRunning
		b.state.UpdatedAt = time.Now()
		b.mu.Unlock()
		b.persist(ctx)
		logger.Info("[bot] restarted after reset",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("symbol", b.cfg.Symbol))
		return nil
	}

	b.rehydrateLocked(ctx)
	b.state.State = model.BotRunning
	b.state.UpdatedAt = time.Now()

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	go b.run(loopCtx, done)
	b.persist(ctx)

	logger.Info("[bot] started",
		logger.Pair("bot_id", b.cfg.ID),
		logger.Pair("symbol", b.cfg.Symbol),
		logger.Pair("strategy", b.cfg.Strategy))
	return nil
}

// Pause 暂停进出场评估，循环保留
func (b *Bot) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.State != model.BotRunning {
		return fmt.Errorf("bot %s is not running", b.cfg.ID)
	}
	b.state.State = model.BotPaused
	b.state.UpdatedAt = time.Now()
	return nil
}

// Resume 从暂停恢复
func (b *Bot) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.State != model.BotPaused {
		return fmt.Errorf("bot %s is not paused", b.cfg.ID)
	}
	b.state.State = model.BotRunning
	b.state.UpdatedAt = time.Now()
	return nil
}

// Stop 终态。停掉循环，不再允许重启。
func (b *Bot) Stop(ctx context.Context) {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.cancel = nil
	b.state.State = model.BotStopped
	b.state.UpdatedAt = time.Now()
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	b.persist(ctx)
}

// Reset 解除熔断，回到created，等待下一次Start
func (b *Bot) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.State != model.BotHalted {
		return fmt.Errorf("bot %s is not halted", b.cfg.ID)
	}
	b.state.State = model.BotCreated
	b.state.HaltReason = ""
	b.state.UpdatedAt = time.Now()
	return nil
}

// CloseOpenPosition 关机前尽力平掉持仓
func (b *Bot) CloseOpenPosition(ctx context.Context) {
	b.mu.Lock()
	pos := b.state.Position
	b.mu.Unlock()
	if pos == nil {
		return
	}
	price, ok := b.cache.LastPrice(b.cfg.Symbol)
	px := pos.EntryPrice
	if ok {
		px = price.Price
	}
	b.closePosition(ctx, px, "shutdown")
}

// rehydrateLocked 从快照恢复战绩和持仓。
// 快照缺失或过旧时按无持仓冷启动；实盘模式下仓位先和交易所核对。
func (b *Bot) rehydrateLocked(ctx context.Context) {
	if b.stateStore == nil {
		return
	}
	snap, err := b.stateStore.Latest(ctx, b.cfg.ID)
	if err != nil || snap == nil {
		return
	}
	b.state.Wins = snap.Wins
	b.state.Losses = snap.Losses
	b.state.RealizedPnl = snap.RealizedPnl
	b.state.GrossWin = snap.GrossWin
	b.state.GrossLoss = snap.GrossLoss
	b.state.Equity = snap.Equity
	b.state.PeakEquity = snap.PeakEquity

	if snap.Position != nil && snap.Position.Size > 0 {
		if !b.ex.TestMode() {
			// 实盘下快照仓位要能拿到现价才敢采信
			if _, err := b.ex.GetLastPrice(snap.Position.Symbol); err != nil {
				logger.Warn("[bot] cached position not verifiable, dropped",
					logger.Pair("bot_id", b.cfg.ID),
					logger.Pair("err", err.Error()))
				return
			}
		}
		b.state.Position = snap.Position
	}
}

func (b *Bot) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// tick 单次评估，绝不并发重入（只被run循环串行调用，测试直接调用）。
// 顺序：离场检查 -> 权益与回撤 -> 进场评估。
func (b *Bot) tick(ctx context.Context) {
	b.mu.Lock()
	st := b.state.State
	b.mu.Unlock()
	if st != model.BotRunning && st != model.BotHalted {
		return
	}

	price, ok := b.cache.LastPrice(b.cfg.Symbol)
	if !ok {
		return
	}
	last := price.Price

	// 离场检查永远执行，熔断状态也要管好已有仓位
	b.checkExits(ctx, last)
	b.updateEquity(ctx, last)

	if st != model.BotRunning {
		return
	}
	b.mu.Lock()
	halted := b.state.State == model.BotHalted
	hasPos := b.state.Position != nil
	b.mu.Unlock()
	if halted || hasPos {
		return
	}

	// 行情降级只封进场
	if b.feed != nil && b.feed.Degraded() {
		return
	}
	b.evaluateEntry(ctx, last)
}

// checkExits 止损/止盈/移动止损/策略反向信号
func (b *Bot) checkExits(ctx context.Context, last float64) {
	b.mu.Lock()
	pos := b.state.Position
	if pos == nil {
		b.mu.Unlock()
		return
	}

	// 移动止损只朝有利方向收紧。
	// 入场后的第一个tick就会挂出last*(1-pct)的初始止损线，
	// 不等价格先越过入场价，相当于在普通止损之外多一道更紧的保护。
	if b.cfg.TrailingStopPct > 0 && pos.Side == model.PosSideLong {
		candidate := last * (1 - b.cfg.TrailingStopPct)
		if candidate > pos.TrailingStop {
			pos.TrailingStop = candidate
			if b.marginBook != nil {
				b.marginBook.UpdateTrailingStop(pos.Symbol, candidate)
			}
		}
	}

	reason := ""
	switch {
	case pos.TrailingStop > 0 && last <= pos.TrailingStop:
		reason = "trailing-stop"
	case b.cfg.StopLossPct > 0 && last <= pos.EntryPrice*(1-b.cfg.StopLossPct):
		reason = "stop-loss"
	case b.cfg.TakeProfitPct > 0 && last >= pos.EntryPrice*(1+b.cfg.TakeProfitPct):
		reason = "take-profit"
	}
	b.mu.Unlock()

	if reason == "" {
		// 未触发价格离场时再看策略是否给出反向信号
		candles := b.cache.Candles(b.cfg.Symbol, b.cfg.Period, marketcache.MaxCandles)
		if len(candles) > 0 {
			if sig := b.strategy.Analyze(candles); sig.Action == model.SignalSell {
				reason = "signal:" + sig.Reason
			}
		}
	}
	if reason != "" {
		b.closePosition(ctx, last, reason)
	}
}

func (b *Bot) closePosition(ctx context.Context, last float64, reason string) {
	b.mu.Lock()
	pos := b.state.Position
	if pos == nil {
		b.mu.Unlock()
		return
	}
	qty := pos.Size
	b.mu.Unlock()

	orderCtx, cancel := context.WithTimeout(ctx, b.orderTimeout)
	defer cancel()
	resp, err := b.ex.PlaceOrder(orderCtx, &model.Order{
		Symbol:    b.cfg.Symbol,
		Side:      model.Sell,
		Quantity:  qty,
		OrderType: model.Market,
		Strategy:  b.cfg.Strategy,
		BotID:     b.cfg.ID,
		Comment:   reason,
		Leverage:  b.cfg.Leverage,
		Timestamp: time.Now(),
	})
	if err != nil {
		b.handleExecutionFault(ctx, err, "close")
		return
	}

	exitPx := resp.AvgPrice
	if exitPx <= 0 {
		exitPx = last
	}

	b.mu.Lock()
	pos = b.state.Position
	if pos == nil {
		b.mu.Unlock()
		return
	}
	realized := pos.UnrealizedPnl(exitPx) - pos.FinancingCost
	b.state.RealizedPnl += realized
	if realized >= 0 {
		b.state.Wins++
		b.state.GrossWin += realized
	} else {
		b.state.Losses++
		b.state.GrossLoss += -realized
	}
	b.state.Position = nil
	b.state.UpdatedAt = time.Now()
	b.mu.Unlock()

	if b.marginBook != nil {
		if _, err := b.marginBook.Close(b.cfg.Symbol, exitPx); err != nil {
			logger.Warn("[bot] margin book close failed",
				logger.Pair("bot_id", b.cfg.ID),
				logger.Pair("err", err.Error()))
		}
	}
	b.recordTrade(ctx, resp, model.Sell, qty, exitPx, realized, reason)
	b.persist(ctx)

	logger.Info("[bot] position closed",
		logger.Pair("bot_id", b.cfg.ID),
		logger.Pair("reason", reason),
		logger.Pair("exit_price", exitPx),
		logger.Pair("realized", realized))
}

// updateEquity 权益曲线和回撤保护。
// 回撤一旦触线立即熔断，权益回升也不自动恢复。
func (b *Bot) updateEquity(ctx context.Context, last float64) {
	b.mu.Lock()
	eq := b.cfg.Capital + b.state.RealizedPnl
	if b.state.Position != nil {
		eq += b.state.Position.UnrealizedPnl(last) - b.state.Position.FinancingCost
	}
	b.state.Equity = eq
	if eq > b.state.PeakEquity {
		b.state.PeakEquity = eq
	}
	if b.state.PeakEquity > 0 {
		b.state.DrawdownPct = (b.state.PeakEquity - eq) / b.state.PeakEquity
	}

	breached := b.cfg.DrawdownGuardPct > 0 &&
		b.state.State == model.BotRunning &&
		b.state.DrawdownPct >= b.cfg.DrawdownGuardPct
	if breached {
		b.state.State = model.BotHalted
		b.state.HaltReason = fmt.Sprintf("drawdown %.2f%% breached guard %.2f%%",
			b.state.DrawdownPct*100, b.cfg.DrawdownGuardPct*100)
	}
	dd := b.state.DrawdownPct
	b.state.UpdatedAt = time.Now()
	b.mu.Unlock()

	if breached {
		logger.Warn("[bot] drawdown guard tripped",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("drawdown", dd))
		b.persist(ctx)
	}
}

// evaluateEntry 策略评估 -> 仓位计算 -> 下单
func (b *Bot) evaluateEntry(ctx context.Context, last float64) {
	candles := b.cache.Candles(b.cfg.Symbol, b.cfg.Period, marketcache.MaxCandles)
	if len(candles) == 0 {
		return
	}
	sig := b.strategy.Analyze(candles)
	if sig.Action != model.SignalBuy {
		return
	}

	stopDistance := last * b.cfg.StopLossPct
	if stopDistance <= 0 {
		// 未配置止损时用2%距离兜底仓位计算
		stopDistance = last * 0.02
	}

	b.mu.Lock()
	equity := b.state.Equity
	stateCopy := b.state
	b.mu.Unlock()

	qty, err := b.sizer.SizeWithHistory(equity, last, stopDistance, b.rules, &stateCopy)
	if err != nil {
		if risk.IsSizingRejected(err) {
			logger.Info("[bot] entry skipped",
				logger.Pair("bot_id", b.cfg.ID),
				logger.Pair("reason", err.Error()))
			return
		}
		logger.Error("[bot] sizing failed", logger.Pair("err", err.Error()))
		return
	}

	pos := &model.Position{
		Symbol:     b.cfg.Symbol,
		Side:       model.PosSideLong,
		Size:       qty,
		EntryPrice: last,
		Leverage:   b.cfg.Leverage,
		Class:      b.cfg.Class,
		OpenTime:   time.Now(),
	}
	if b.marginBook != nil {
		if err := b.marginBook.Open(pos); err != nil {
			logger.Info("[bot] entry rejected by margin book",
				logger.Pair("bot_id", b.cfg.ID),
				logger.Pair("reason", err.Error()))
			return
		}
	}

	orderCtx, cancel := context.WithTimeout(ctx, b.orderTimeout)
	defer cancel()
	resp, err := b.ex.PlaceOrder(orderCtx, &model.Order{
		Symbol:    b.cfg.Symbol,
		Side:      model.Buy,
		Quantity:  qty,
		OrderType: model.Market,
		SLPrice:   last * (1 - b.cfg.StopLossPct),
		TPPrice:   last * (1 + b.cfg.TakeProfitPct),
		Strategy:  b.cfg.Strategy,
		BotID:     b.cfg.ID,
		Comment:   sig.Reason,
		Leverage:  b.cfg.Leverage,
		Timestamp: time.Now(),
	})
	if err != nil {
		// 下单失败要把已登记的保证金退回
		if b.marginBook != nil {
			_, _ = b.marginBook.Close(b.cfg.Symbol, last)
		}
		b.handleExecutionFault(ctx, err, "open")
		return
	}

	// 回报没带成交量时不能按全部成交入账，查单确认
	if resp.FilledQty <= 0 && resp.Status != model.OrderFilled {
		st, confirmed := b.awaitFill(orderCtx, resp.OrderId)
		if !confirmed {
			if err := b.ex.CancelOrder(orderCtx, resp.OrderId, b.cfg.Symbol); err != nil {
				logger.Warn("[bot] cancel unfilled order failed",
					logger.Pair("bot_id", b.cfg.ID),
					logger.Pair("order_id", resp.OrderId),
					logger.Pair("err", err.Error()))
			}
			if b.marginBook != nil {
				_, _ = b.marginBook.Close(b.cfg.Symbol, last)
			}
			logger.Info("[bot] entry abandoned, order not filled",
				logger.Pair("bot_id", b.cfg.ID),
				logger.Pair("order_id", resp.OrderId))
			return
		}
		if st.Status == model.OrderPartial {
			// 残量撤掉，仓位按已成交部分管理
			_ = b.ex.CancelOrder(orderCtx, resp.OrderId, b.cfg.Symbol)
		}
		resp.FilledQty = st.Filled
	}

	entryPx := resp.AvgPrice
	if entryPx > 0 {
		pos.EntryPrice = entryPx
	}
	if resp.FilledQty > 0 {
		pos.Size = resp.FilledQty
	}

	b.mu.Lock()
	b.state.Position = pos
	b.state.UpdatedAt = time.Now()
	b.mu.Unlock()

	b.recordTrade(ctx, resp, model.Buy, pos.Size, pos.EntryPrice, 0, sig.Reason)
	b.persist(ctx)

	logger.Info("[bot] position opened",
		logger.Pair("bot_id", b.cfg.ID),
		logger.Pair("symbol", b.cfg.Symbol),
		logger.Pair("qty", pos.Size),
		logger.Pair("entry", pos.EntryPrice),
		logger.Pair("test_mode", resp.IsTestMode))
}

// awaitFill 轮询订单状态，直到出现成交、订单终结或尝试次数用尽
func (b *Bot) awaitFill(ctx context.Context, orderID string) (*model.OrderStatus, bool) {
	for i := 0; i < 3; i++ {
		st, err := b.ex.GetOrderStatus(ctx, orderID, b.cfg.Symbol)
		if err == nil && st != nil {
			switch st.Status {
			case model.OrderFilled, model.OrderPartial:
				if st.Filled > 0 {
					return st, true
				}
			case model.OrderRejected, model.OrderCancelled:
				return st, false
			}
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, false
}

// handleExecutionFault 按错误类型分别恢复：
// 鉴权错误熔断；限频跳过本轮；拒单放弃信号；超时按失败处理，绝不假定已成交。
func (b *Bot) handleExecutionFault(ctx context.Context, err error, phase string) {
	switch {
	case exchange.IsAuthError(err):
		b.mu.Lock()
		b.state.State = model.BotHalted
		b.state.HaltReason = "auth failure: " + err.Error()
		b.state.UpdatedAt = time.Now()
		b.mu.Unlock()
		logger.Error("[bot] halted on auth failure",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("phase", phase))
		b.persist(ctx)
	case exchange.IsRateLimited(err):
		logger.Warn("[bot] rate limited, will retry next tick",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("phase", phase))
	case exchange.IsTimeout(err):
		logger.Warn("[bot] order timed out, treated as failed",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("phase", phase))
	case exchange.IsOrderRejected(err):
		logger.Info("[bot] order rejected",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("phase", phase),
			logger.Pair("err", err.Error()))
	default:
		logger.Error("[bot] execution error",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("phase", phase),
			logger.Pair("err", err.Error()))
	}
}

func (b *Bot) recordTrade(ctx context.Context, resp *model.OrderResponse, side model.OrderSide, qty, price, realized float64, reason string) {
	if b.tradeStore == nil {
		return
	}
	record := &model.TradeRecord{
		OrderId:     resp.OrderId,
		BotID:       b.cfg.ID,
		Symbol:      b.cfg.Symbol,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		RealizedPnl: realized,
		Strategy:    b.cfg.Strategy,
		Reason:      reason,
		TestMode:    resp.IsTestMode,
		CreatedAt:   time.Now(),
	}
	// 尽力而为，失败重试一次
	err := utils.Retry(2, 100*time.Millisecond, false, func() error {
		return b.tradeStore.Insert(ctx, record)
	})
	if err != nil {
		logger.Warn("[bot] trade record lost",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("order_id", resp.OrderId),
			logger.Pair("err", err.Error()))
	}
}

// persist 状态快照，尽力而为
func (b *Bot) persist(ctx context.Context) {
	if b.stateStore == nil {
		return
	}
	st := b.State()
	err := utils.Retry(2, 100*time.Millisecond, false, func() error {
		return b.stateStore.Save(ctx, b.cfg.ID, &st)
	})
	if err != nil {
		logger.Warn("[bot] state snapshot lost",
			logger.Pair("bot_id", b.cfg.ID),
			logger.Pair("err", err.Error()))
	}
}
