package bot

import (
	"context"
	"testing"
	"time"

	"botflow/internal/exchange"
	"botflow/internal/marketcache"
	"botflow/internal/model"
)

// 脚本化策略：按顺序吐出预设动作，用完后一直HOLD
type scriptStrategy struct {
	actions []model.SignalAction
	i       int
}

func (s *scriptStrategy) Name() string { return "scripted" }
func (s *scriptStrategy) Params() map[string]float64 {
	return nil
}
func (s *scriptStrategy) Analyze(klines []model.Kline) model.Signal {
	if s.i >= len(s.actions) {
		return model.Hold("script exhausted")
	}
	a := s.actions[s.i]
	s.i++
	return model.Signal{Action: a, Reason: "scripted", Confidence: 1}
}

type stubFeed struct {
	degraded bool
}

func (f *stubFeed) Subscribe(ctx context.Context, symbol string, period model.KlinePeriod) error {
	return nil
}
func (f *stubFeed) Unsubscribe(ctx context.Context, symbol string, period model.KlinePeriod) error {
	return nil
}
func (f *stubFeed) Connected() bool       { return !f.degraded }
func (f *stubFeed) Degraded() bool        { return f.degraded }
func (f *stubFeed) DroppedFrames() uint64 { return 0 }
func (f *stubFeed) Close() error          { return nil }

// 固定返回某个类型化错误的执行端
type faultyExchange struct {
	err error
}

func (f *faultyExchange) PlaceOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	return nil, f.err
}
func (f *faultyExchange) CancelOrder(ctx context.Context, orderID, symbol string) error { return nil }
func (f *faultyExchange) GetOrderStatus(ctx context.Context, orderID, symbol string) (*model.OrderStatus, error) {
	return nil, nil
}
func (f *faultyExchange) GetLastPrice(symbol string) (float64, error) { return 0, f.err }
func (f *faultyExchange) GetBalance(ctx context.Context, coin string) (float64, error) {
	return 0, nil
}
func (f *faultyExchange) GetRules(symbol string) (model.Rules, error) {
	return model.Rules{LotSize: 0.0001, TickSize: 0.01, MinNotional: 5}, nil
}
func (f *faultyExchange) TestMode() bool { return true }

// 下单回报不带成交量，需要查单确认的执行端
type pendingExchange struct {
	fillAfter int // 第几次查单返回成交，0表示永远不成交
	queries   int
	cancelled bool
}

func (p *pendingExchange) PlaceOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	return &model.OrderResponse{OrderId: "ord-1", Status: model.OrderPending, Message: "submitted"}, nil
}
func (p *pendingExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	p.cancelled = true
	return nil
}
func (p *pendingExchange) GetOrderStatus(ctx context.Context, orderID, symbol string) (*model.OrderStatus, error) {
	p.queries++
	if p.fillAfter > 0 && p.queries >= p.fillAfter {
		return &model.OrderStatus{OrderID: orderID, Status: model.OrderFilled, Filled: 20}, nil
	}
	return &model.OrderStatus{OrderID: orderID, Status: model.OrderPending, Remaining: 20}, nil
}
func (p *pendingExchange) GetLastPrice(symbol string) (float64, error) { return 100, nil }
func (p *pendingExchange) GetBalance(ctx context.Context, coin string) (float64, error) {
	return 0, nil
}
func (p *pendingExchange) GetRules(symbol string) (model.Rules, error) {
	return model.Rules{LotSize: 0.0001, TickSize: 0.01, MinNotional: 5}, nil
}
func (p *pendingExchange) TestMode() bool { return true }

func baseConfig() model.BotConfig {
	return model.BotConfig{
		ID:               "bot-1",
		Symbol:           "BTC-USDT",
		Period:           model.Period15m,
		Strategy:         "scripted",
		Capital:          10000,
		RiskPerTrade:     0.02,
		MaxPositionSize:  1.0,
		StopLossPct:      0.1,
		DrawdownGuardPct: 0.02,
		Leverage:         1,
		Class:            model.ClassCrypto,
	}
}

type testEnv struct {
	bot   *Bot
	cache *marketcache.Cache
	feed  *stubFeed
	ex    exchange.Exchange
}

func newTestBot(t *testing.T, cfg model.BotConfig, strat *scriptStrategy, ex exchange.Exchange) *testEnv {
	t.Helper()
	cache := marketcache.New()
	f := &stubFeed{}

	if ex == nil {
		sim := exchange.NewSimulatedExchange(func(symbol string) (float64, bool) {
			p, ok := cache.LastPrice(symbol)
			return p.Price, ok
		}, 5)
		ex = sim
	}

	b, err := New(cfg, strat, Options{
		Cache:        cache,
		Feed:         f,
		Exchange:     ex,
		TickInterval: time.Hour, // 循环不参与，测试直接调tick
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// 不经过Start，直接把状态置为running驱动tick
	b.mu.Lock()
	b.state.State = model.BotRunning
	b.mu.Unlock()

	return &testEnv{bot: b, cache: cache, feed: f, ex: ex}
}

func (e *testEnv) setPrice(t *testing.T, px float64) {
	t.Helper()
	e.cache.SetLastPrice("BTC-USDT", px, time.Now())
	e.cache.Append("BTC-USDT", model.Period15m, model.Kline{
		Timestamp: time.Now(), Open: px, Close: px, High: px, Low: px, Confirm: true,
	})
}

func TestEntryOpensPosition(t *testing.T) {
	env := newTestBot(t, baseConfig(), &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}, nil)
	env.setPrice(t, 100)

	env.bot.tick(context.Background())

	st := env.bot.State()
	if st.Position == nil {
		t.Fatal("buy signal with no open position must open one")
	}
	if st.Position.EntryPrice != 100 {
		t.Errorf("entry = %v, want 100", st.Position.EntryPrice)
	}
	// 10000*0.02 / (100*0.1) = 20
	if st.Position.Size != 20 {
		t.Errorf("size = %v, want 20", st.Position.Size)
	}
}

func TestDrawdownHaltIsSticky(t *testing.T) {
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy, model.SignalBuy, model.SignalBuy, model.SignalBuy}}
	env := newTestBot(t, baseConfig(), strat, nil)

	env.setPrice(t, 100)
	env.bot.tick(context.Background()) // 开仓，20 @ 100

	// 跌破止损价90，离场实现亏损-300 -> 回撤3% ≥ 2%熔断线
	env.setPrice(t, 85)
	env.bot.tick(context.Background())

	st := env.bot.State()
	if st.Position != nil {
		t.Fatal("stop loss must close the position")
	}
	if st.State != model.BotHalted {
		t.Fatalf("state = %s, want halted", st.State)
	}
	if st.HaltReason == "" {
		t.Fatal("halt reason must be recorded")
	}

	// 权益回升也不自动恢复，后续买入信号一律拒绝
	env.setPrice(t, 120)
	env.bot.tick(context.Background())
	st = env.bot.State()
	if st.State != model.BotHalted {
		t.Fatalf("halt must be sticky, state = %s", st.State)
	}
	if st.Position != nil {
		t.Fatal("halted bot must reject entry signals")
	}

	// 显式Reset后回到created
	if err := env.bot.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if env.bot.State().State != model.BotCreated {
		t.Fatalf("state after reset = %s", env.bot.State().State)
	}
}

func TestTrailingStopMonotone(t *testing.T) {
	cfg := baseConfig()
	cfg.StopLossPct = 0.3 // 放宽普通止损，专测移动止损
	cfg.TrailingStopPct = 0.05
	cfg.DrawdownGuardPct = 0.9
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}
	env := newTestBot(t, cfg, strat, nil)

	env.setPrice(t, 100)
	env.bot.tick(context.Background()) // 开仓

	env.setPrice(t, 100)
	env.bot.tick(context.Background())
	ts1 := env.bot.State().Position.TrailingStop
	if ts1 != 95 {
		t.Fatalf("trailing = %v, want 95", ts1)
	}

	// 价格推进，止损跟进
	env.setPrice(t, 110)
	env.bot.tick(context.Background())
	ts2 := env.bot.State().Position.TrailingStop
	if ts2 != 104.5 {
		t.Fatalf("trailing = %v, want 104.5", ts2)
	}

	// 回落但未破位：止损不回退，仓位不平
	env.setPrice(t, 106)
	env.bot.tick(context.Background())
	st := env.bot.State()
	if st.Position == nil {
		t.Fatal("dip above trailing level must not close")
	}
	if st.Position.TrailingStop != ts2 {
		t.Fatalf("trailing retreated: %v -> %v", ts2, st.Position.TrailingStop)
	}

	// 破位离场
	env.setPrice(t, 104)
	env.bot.tick(context.Background())
	st = env.bot.State()
	if st.Position != nil {
		t.Fatal("breach of trailing stop must close the position")
	}
	if st.Wins != 1 {
		t.Fatalf("profitable trailing exit must count as win, wins = %d", st.Wins)
	}
}

func TestResetRestartKeepsSingleLoop(t *testing.T) {
	cache := marketcache.New()
	sim := exchange.NewSimulatedExchange(func(symbol string) (float64, bool) {
		p, ok := cache.LastPrice(symbol)
		return p.Price, ok
	}, 5)
	b, err := New(baseConfig(), &scriptStrategy{}, Options{
		Cache:        cache,
		Feed:         &stubFeed{},
		Exchange:     sim,
		TickInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.mu.Lock()
	loop1 := b.done
	b.mu.Unlock()

	// 熔断后Reset回到created，循环此时仍然活着
	b.mu.Lock()
	b.state.State = model.BotHalted
	b.state.HaltReason = "drawdown guard breached"
	b.mu.Unlock()

	if err := b.Start(ctx); err == nil {
		t.Fatal("halted bot must refuse Start before Reset")
	}
	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
	if st := b.State().State; st != model.BotRunning {
		t.Fatalf("state = %s, want running", st)
	}

	b.mu.Lock()
	loop2 := b.done
	cancel2 := b.cancel
	b.mu.Unlock()
	if loop1 != loop2 {
		t.Fatal("restart after reset must reuse the existing loop, not spawn a second one")
	}
	if cancel2 == nil {
		t.Fatal("cancel must remain wired to the live loop")
	}

	// Stop必须让唯一的循环真正退出
	b.Stop(ctx)
	select {
	case <-loop1:
	default:
		t.Fatal("loop goroutine still alive after Stop")
	}
}

func TestDegradedFeedBlocksEntryAllowsExit(t *testing.T) {
	cfg := baseConfig()
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy, model.SignalBuy}}
	env := newTestBot(t, cfg, strat, nil)

	env.setPrice(t, 100)
	env.feed.degraded = true
	env.bot.tick(context.Background())
	if env.bot.State().Position != nil {
		t.Fatal("degraded feed must block entries")
	}

	// 恢复后正常开仓
	env.feed.degraded = false
	env.bot.tick(context.Background())
	if env.bot.State().Position == nil {
		t.Fatal("entry must resume after feed recovers")
	}

	// 再次降级，止损离场不受影响
	env.feed.degraded = true
	env.setPrice(t, 85)
	env.bot.tick(context.Background())
	if env.bot.State().Position != nil {
		t.Fatal("degraded feed must not block exits")
	}
}

func TestAuthErrorHalts(t *testing.T) {
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}
	env := newTestBot(t, baseConfig(), strat, &faultyExchange{err: &exchange.AuthError{Msg: "invalid key"}})

	env.setPrice(t, 100)
	env.bot.tick(context.Background())

	st := env.bot.State()
	if st.State != model.BotHalted {
		t.Fatalf("state = %s, auth failure must halt", st.State)
	}
	if st.Position != nil {
		t.Fatal("failed order must not record a position")
	}
}

func TestTimeoutNeverAssumesFill(t *testing.T) {
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}
	env := newTestBot(t, baseConfig(), strat, &faultyExchange{err: &exchange.TimeoutError{Op: "PlaceOrder"}})

	env.setPrice(t, 100)
	env.bot.tick(context.Background())

	st := env.bot.State()
	if st.Position != nil {
		t.Fatal("timed-out order must be treated as failed")
	}
	if st.State != model.BotRunning {
		t.Fatalf("timeout must not halt the bot, state = %s", st.State)
	}
}

func TestOrderRejectedAbortsSignalOnly(t *testing.T) {
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}
	env := newTestBot(t, baseConfig(), strat, &faultyExchange{err: &exchange.OrderRejectedError{Reason: "px error"}})

	env.setPrice(t, 100)
	env.bot.tick(context.Background())

	st := env.bot.State()
	if st.Position != nil || st.State != model.BotRunning {
		t.Fatalf("rejection must only abort the signal: pos=%v state=%s", st.Position, st.State)
	}
}

func TestPendingOrderConfirmedBeforeRecording(t *testing.T) {
	ex := &pendingExchange{fillAfter: 1}
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}
	env := newTestBot(t, baseConfig(), strat, ex)

	env.setPrice(t, 100)
	env.bot.tick(context.Background())

	st := env.bot.State()
	if st.Position == nil {
		t.Fatal("confirmed fill must open a position")
	}
	if st.Position.Size != 20 {
		t.Fatalf("size = %v, want confirmed fill 20", st.Position.Size)
	}
	if ex.queries == 0 {
		t.Fatal("pending submission must be confirmed via order status")
	}
}

func TestUnfilledOrderCancelledNotRecorded(t *testing.T) {
	ex := &pendingExchange{fillAfter: 0}
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}
	env := newTestBot(t, baseConfig(), strat, ex)

	env.setPrice(t, 100)
	env.bot.tick(context.Background())

	st := env.bot.State()
	if st.Position != nil {
		t.Fatal("submission that never fills must not be tracked as a position")
	}
	if !ex.cancelled {
		t.Fatal("unfilled order must be cancelled")
	}
	if st.State != model.BotRunning {
		t.Fatalf("unfilled entry must not change state, got %s", st.State)
	}
}

func TestPauseBlocksTicks(t *testing.T) {
	strat := &scriptStrategy{actions: []model.SignalAction{model.SignalBuy}}
	env := newTestBot(t, baseConfig(), strat, nil)

	if err := env.bot.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	env.setPrice(t, 100)
	env.bot.tick(context.Background())
	if env.bot.State().Position != nil {
		t.Fatal("paused bot must not trade")
	}

	if err := env.bot.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	env.bot.tick(context.Background())
	if env.bot.State().Position == nil {
		t.Fatal("resumed bot must trade again")
	}
}

func TestInvalidConfigListsAllViolations(t *testing.T) {
	cfg := baseConfig()
	cfg.RiskPerTrade = 1.5
	cfg.DrawdownGuardPct = -0.1
	cfg.Capital = 0

	_, err := New(cfg, &scriptStrategy{}, Options{
		Cache:    marketcache.New(),
		Exchange: &faultyExchange{},
	})
	if err == nil {
		t.Fatal("invalid config must be rejected")
	}
	ce, ok := err.(*model.ConfigError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if len(ce.Fields) != 3 {
		t.Fatalf("violations = %v, want all 3 listed", ce.Fields)
	}
}
