package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botflow/internal/bot"
	"botflow/internal/exchange"
	"botflow/internal/feed"
	"botflow/internal/marketcache"
	"botflow/internal/margin"
	"botflow/internal/model"
	"botflow/internal/strategy"
	"botflow/pkg/errors"
	"botflow/pkg/errors/ecode"
	"botflow/pkg/logger"
	"botflow/utils"
)

// ConfigStore 配置持久化，尽力而为
type ConfigStore interface {
	Upsert(ctx context.Context, cfg *model.BotConfig) error
	Delete(ctx context.Context, botID string) error
}

// Orchestrator 持有唯一的行情源/缓存/执行端/保证金账本，
// 管理全部bot实例的生命周期并汇总健康与组合视图。
type Orchestrator struct {
	cache  *marketcache.Cache
	feed   feed.Source
	ex     exchange.Exchange
	margin *margin.Engine

	configStore ConfigStore    // 可选
	stateStore  bot.StateStore // 可选
	tradeStore  bot.TradeStore // 可选

	tickInterval    time.Duration
	orderTimeout    time.Duration
	shutdownTimeout time.Duration

	mu   sync.RWMutex
	bots map[string]*bot.Bot
}

type Options struct {
	Cache           *marketcache.Cache
	Feed            feed.Source
	Exchange        exchange.Exchange
	Margin          *margin.Engine
	ConfigStore     ConfigStore
	StateStore      bot.StateStore
	TradeStore      bot.TradeStore
	TickInterval    time.Duration
	OrderTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Cache == nil || opts.Feed == nil || opts.Exchange == nil {
		return nil, fmt.Errorf("orchestrator requires cache, feed and exchange")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Orchestrator{
		cache:           opts.Cache,
		feed:            opts.Feed,
		ex:              opts.Exchange,
		margin:          opts.Margin,
		configStore:     opts.ConfigStore,
		stateStore:      opts.StateStore,
		tradeStore:      opts.TradeStore,
		tickInterval:    opts.TickInterval,
		orderTimeout:    opts.OrderTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
		bots:            make(map[string]*bot.Bot),
	}, nil
}

// Create 登记一个新bot：校验配置、实例化策略、订阅行情、持久化配置。
// 创建后处于created状态，需要显式Start。
func (o *Orchestrator) Create(ctx context.Context, cfg model.BotConfig) error {
	// 外部传入的币对写法不统一，先归一成行情频道用的instId格式
	cfg.Symbol = utils.FormatSymbol(cfg.Symbol)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, ecode.ConfigInvalidErr, err.Error())
	}

	o.mu.Lock()
	if _, exists := o.bots[cfg.ID]; exists {
		o.mu.Unlock()
		return errors.WithCode(ecode.ConflictErr, "bot already exists: "+cfg.ID)
	}
	o.mu.Unlock()

	params := make(map[string]float64, len(cfg.Params))
	for k, v := range cfg.Params {
		if f, ok := v.(float64); ok {
			params[k] = f
		}
	}
	strat, err := strategy.New(cfg.Strategy, params)
	if err != nil {
		return errors.Wrap(err, ecode.ValidateErr, err.Error())
	}

	var mb bot.MarginBook
	if o.margin != nil {
		mb = o.margin
	}
	b, err := bot.New(cfg, strat, bot.Options{
		Cache:        o.cache,
		Feed:         o.feed,
		Exchange:     o.ex,
		MarginBook:   mb,
		StateStore:   o.stateStore,
		TradeStore:   o.tradeStore,
		TickInterval: o.tickInterval,
		OrderTimeout: o.orderTimeout,
	})
	if err != nil {
		return err
	}

	if err := o.feed.Subscribe(ctx, cfg.Symbol, cfg.Period); err != nil {
		return errors.Wrap(err, ecode.ExchangeErr, "feed subscribe failed")
	}

	o.mu.Lock()
	if _, exists := o.bots[cfg.ID]; exists {
		o.mu.Unlock()
		_ = o.feed.Unsubscribe(ctx, cfg.Symbol, cfg.Period)
		return errors.WithCode(ecode.ConflictErr, "bot already exists: "+cfg.ID)
	}
	o.bots[cfg.ID] = b
	o.mu.Unlock()

	if o.configStore != nil {
		if err := o.configStore.Upsert(ctx, &cfg); err != nil {
			logger.Warn("[orchestrator] config persist failed",
				logger.Pair("bot_id", cfg.ID),
				logger.Pair("err", err.Error()))
		}
	}

	logger.Info("[orchestrator] bot created",
		logger.Pair("bot_id", cfg.ID),
		logger.Pair("symbol", cfg.Symbol),
		logger.Pair("strategy", cfg.Strategy))
	return nil
}

func (o *Orchestrator) get(botID string) (*bot.Bot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.bots[botID]
	if !ok {
		return nil, errors.WithCode(ecode.NotFoundErr, "bot not found: "+botID)
	}
	return b, nil
}

// Start 幂等：对running的bot重复Start不产生第二个循环
func (o *Orchestrator) Start(ctx context.Context, botID string) error {
	b, err := o.get(botID)
	if err != nil {
		return err
	}
	return b.Start(ctx)
}

// Pause 暂停评估
func (o *Orchestrator) Pause(botID string) error {
	b, err := o.get(botID)
	if err != nil {
		return err
	}
	return b.Pause()
}

// Stop 终止bot循环，保留登记
func (o *Orchestrator) Stop(ctx context.Context, botID string) error {
	b, err := o.get(botID)
	if err != nil {
		return err
	}
	b.Stop(ctx)
	return nil
}

// Reset 解除熔断
func (o *Orchestrator) Reset(botID string) error {
	b, err := o.get(botID)
	if err != nil {
		return err
	}
	if err := b.Reset(); err != nil {
		return errors.Wrap(err, ecode.BotHaltedErr, err.Error())
	}
	return nil
}

// Remove 停掉并移除bot，释放行情订阅
func (o *Orchestrator) Remove(ctx context.Context, botID string) error {
	b, err := o.get(botID)
	if err != nil {
		return err
	}
	b.Stop(ctx)

	cfg := b.Config()
	if err := o.feed.Unsubscribe(ctx, cfg.Symbol, cfg.Period); err != nil {
		logger.Warn("[orchestrator] unsubscribe failed",
			logger.Pair("symbol", cfg.Symbol),
			logger.Pair("err", err.Error()))
	}

	o.mu.Lock()
	delete(o.bots, botID)
	o.mu.Unlock()

	if o.configStore != nil {
		if err := o.configStore.Delete(ctx, botID); err != nil {
			logger.Warn("[orchestrator] config delete failed",
				logger.Pair("bot_id", botID),
				logger.Pair("err", err.Error()))
		}
	}
	return nil
}

// BotStats 单个bot的观测视图
type BotStats struct {
	Config model.BotConfig       `json:"config"`
	State  model.BotRuntimeState `json:"state"`
}

// Stats 单个bot的配置和运行时状态
func (o *Orchestrator) Stats(botID string) (*BotStats, error) {
	b, err := o.get(botID)
	if err != nil {
		return nil, err
	}
	return &BotStats{Config: b.Config(), State: b.State()}, nil
}

// AllStats 全部bot的观测视图，绩效汇总用
func (o *Orchestrator) AllStats() []BotStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]BotStats, 0, len(o.bots))
	for _, b := range o.bots {
		out = append(out, BotStats{Config: b.Config(), State: b.State()})
	}
	return out
}

// PortfolioSummary 组合视图
type PortfolioSummary struct {
	Bots        int                          `json:"bots"`
	Running     int                          `json:"running"`
	Halted      int                          `json:"halted"`
	TotalEquity float64                      `json:"total_equity"`
	RealizedPnl float64                      `json:"realized_pnl"`
	Positions   []model.Position             `json:"positions"`
	Margin      *model.MarginAccountSnapshot `json:"margin,omitempty"`
}

func (o *Orchestrator) Portfolio() PortfolioSummary {
	o.mu.RLock()
	bots := make([]*bot.Bot, 0, len(o.bots))
	for _, b := range o.bots {
		bots = append(bots, b)
	}
	o.mu.RUnlock()

	sum := PortfolioSummary{Bots: len(bots)}
	for _, b := range bots {
		st := b.State()
		sum.TotalEquity += st.Equity
		sum.RealizedPnl += st.RealizedPnl
		switch st.State {
		case model.BotRunning:
			sum.Running++
		case model.BotHalted:
			sum.Halted++
		}
		if st.Position != nil {
			sum.Positions = append(sum.Positions, *st.Position)
		}
	}
	if o.margin != nil {
		snap := o.margin.Snapshot()
		sum.Margin = &snap
	}
	return sum
}

// HealthReport 健康检查
type HealthReport struct {
	FeedConnected bool                       `json:"feed_connected"`
	FeedDegraded  bool                       `json:"feed_degraded"`
	DroppedFrames uint64                     `json:"dropped_frames"`
	Instruments   []string                   `json:"instruments"`
	Bots          map[string]BotHealth       `json:"bots"`
	Timestamp     time.Time                  `json:"timestamp"`
}

type BotHealth struct {
	State      model.BotState `json:"state"`
	HaltReason string         `json:"halt_reason,omitempty"`
	Equity     float64        `json:"equity"`
}

func (o *Orchestrator) Health() HealthReport {
	report := HealthReport{
		FeedConnected: o.feed.Connected(),
		FeedDegraded:  o.feed.Degraded(),
		DroppedFrames: o.feed.DroppedFrames(),
		Instruments:   o.cache.Symbols(),
		Bots:          make(map[string]BotHealth),
		Timestamp:     time.Now(),
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for id, b := range o.bots {
		st := b.State()
		report.Bots[id] = BotHealth{
			State:      st.State,
			HaltReason: st.HaltReason,
			Equity:     st.Equity,
		}
	}
	return report
}

// AccrueFinancing 驱动隔夜费结转，由外层定时器调用
func (o *Orchestrator) AccrueFinancing(now time.Time) {
	if o.margin != nil {
		o.margin.AccrueFinancing(now)
	}
}

// Shutdown 有序关机：限时尽力平仓，停掉全部bot，最后断开行情
func (o *Orchestrator) Shutdown(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(ctx, o.shutdownTimeout)
	defer cancel()

	o.mu.RLock()
	bots := make([]*bot.Bot, 0, len(o.bots))
	for _, b := range o.bots {
		bots = append(bots, b)
	}
	o.mu.RUnlock()

	var wg sync.WaitGroup
	for _, b := range bots {
		wg.Add(1)
		go func(b *bot.Bot) {
			defer wg.Done()
			b.CloseOpenPosition(closeCtx)
			b.Stop(closeCtx)
		}(b)
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-closeCtx.Done():
		logger.Warn("[orchestrator] shutdown timed out with bots still closing")
	}

	if err := o.feed.Close(); err != nil {
		logger.Warn("[orchestrator] feed close failed", logger.Pair("err", err.Error()))
	}
	logger.Info("[orchestrator] shutdown complete", logger.Pair("bots", len(bots)))
}
