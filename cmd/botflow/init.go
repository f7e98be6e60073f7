package main

import (
	"context"
	"time"

	"botflow/conf"
	"botflow/internal/bot"
	"botflow/internal/consts"
	"botflow/internal/dao"
	"botflow/internal/exchange"
	"botflow/internal/feed"
	"botflow/internal/handler/bots"
	"botflow/internal/margin"
	"botflow/internal/marketcache"
	"botflow/internal/model"
	"botflow/internal/orchestrator"
	"botflow/internal/router"
	"botflow/pkg/cache"
	"botflow/pkg/kafka"
	"botflow/pkg/logger"
	"botflow/pkg/recorder"

	"gorm.io/gorm"
)

// App 全部运行时组件的持有者
type App struct {
	Router *router.ApiRouter
	orc    *orchestrator.Orchestrator

	feedClient *feed.Client
	producer   kafka.ProducerService
	stopCh     chan struct{}
}

// InitApp 组装整个运行时：行情 -> 缓存 -> 执行端 -> 保证金账本 -> orchestrator -> api
func InitApp(appCfg *conf.Config, gdb *gorm.DB) (*App, error) {
	// 建表
	if err := gdb.AutoMigrate(
		&model.BotConfigRecord{},
		&model.BotStateRecord{},
		&model.TradeRecord{},
		&model.DailyPerformance{},
	); err != nil {
		logger.Warn("auto migrate failed", logger.Pair("err", err.Error()))
	}

	mdCache := marketcache.New()

	var producer kafka.ProducerService
	if appCfg.Kafka.Broker != "" {
		producer = kafka.NewKafkaProducer(appCfg.Kafka.Broker)
	}

	feedClient := feed.NewClient(appCfg.Okx.WsURL, mdCache, producer, appCfg.Runtime.DegradedAfter)

	priceSource := func(symbol string) (float64, bool) {
		p, ok := mdCache.LastPrice(symbol)
		return p.Price, ok
	}

	// 凭证缺失或配置强制时走模拟撮合
	var ex exchange.Exchange
	if appCfg.Okx.Simulated || appCfg.Okx.ApiKey == "" {
		logger.Info("running with simulated execution")
		ex = exchange.NewSimulatedExchange(priceSource, appCfg.Runtime.MinNotional)
	} else {
		okx, err := exchange.NewOkxExchange(
			appCfg.Okx.ApiKey,
			appCfg.Okx.SecretKey,
			appCfg.Okx.Password,
			appCfg.Runtime.OrderTimeout,
			appCfg.Runtime.MinNotional,
		)
		if err != nil {
			return nil, err
		}
		ex = okx
	}

	totalCapital := 0.0
	for _, b := range appCfg.Bots {
		totalCapital += b.Capital
	}
	if totalCapital <= 0 {
		totalCapital = 100_000
	}
	marginEngine := margin.NewEngine(totalCapital, priceSource,
		margin.WithLevels(appCfg.Runtime.MarginCallLevel, appCfg.Runtime.LiquidationLevel),
		margin.WithFinancingRates(classMap(appCfg.Runtime.FinancingRates)),
		margin.WithExposureCaps(classMap(appCfg.Runtime.ExposureCaps)),
	)

	rdb := cache.GetRedisClient()
	stateDao := dao.NewBotStateDao(gdb, rdb)
	configDao := dao.NewBotConfigDao(gdb)
	tradeLedger := dao.NewTradeLedger(
		dao.NewTradeDao(gdb),
		recorder.NewJSONFileRecorder("logs/trades.json"),
	)

	orc, err := orchestrator.New(orchestrator.Options{
		Cache:           mdCache,
		Feed:            feedClient,
		Exchange:        ex,
		Margin:          marginEngine,
		ConfigStore:     configDao,
		StateStore:      stateDao,
		TradeStore:      tradeLedger,
		TickInterval:    appCfg.Runtime.TickInterval,
		OrderTimeout:    appCfg.Runtime.OrderTimeout,
		ShutdownTimeout: appCfg.Runtime.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		Router:     router.NewApiRouter(bots.NewHandler(orc)),
		orc:        orc,
		feedClient: feedClient,
		producer:   producer,
		stopCh:     make(chan struct{}),
	}

	app.provisionBots(appCfg.Bots, orc)
	go app.financingLoop(orc, dao.NewPerformanceDao(gdb))

	return app, nil
}

// provisionBots 配置文件里预置的bot，启动时自动创建
func (a *App) provisionBots(entries []conf.BotEntry, orc *orchestrator.Orchestrator) {
	ctx := context.Background()
	for _, e := range entries {
		cfg := model.BotConfig{
			ID:               e.ID,
			Symbol:           e.Symbol,
			Period:           model.KlinePeriod(e.Period),
			Strategy:         e.Strategy,
			Params:           e.Params,
			Capital:          e.Capital,
			RiskPerTrade:     e.RiskPerTrade,
			MaxPositionSize:  e.MaxPositionSize,
			StopLossPct:      e.StopLossPct,
			TakeProfitPct:    e.TakeProfitPct,
			TrailingStopPct:  e.TrailingStopPct,
			DrawdownGuardPct: e.DrawdownGuardPct,
			Leverage:         e.Leverage,
			Class:            model.InstrumentClass(e.Class),
		}
		if err := orc.Create(ctx, cfg); err != nil {
			logger.Error("provisioned bot create failed",
				logger.Pair("bot_id", e.ID),
				logger.Pair("err", err.Error()))
			continue
		}
		if e.AutoStart {
			if err := orc.Start(ctx, e.ID); err != nil {
				logger.Error("provisioned bot start failed",
					logger.Pair("bot_id", e.ID),
					logger.Pair("err", err.Error()))
			}
		}
	}
}

// financingLoop 每小时驱动一次隔夜费结转（引擎内部保证每天只结转一次），
// 顺带刷新当日绩效汇总
func (a *App) financingLoop(orc *orchestrator.Orchestrator, perfDao *dao.PerformanceDao) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case now := <-ticker.C:
			orc.AccrueFinancing(now)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			day := now.UTC().Format(consts.DateLayout)
			for _, st := range orc.AllStats() {
				row := &model.DailyPerformance{
					BotID:       st.Config.ID,
					Day:         day,
					Trades:      st.State.Wins + st.State.Losses,
					Wins:        st.State.Wins,
					Losses:      st.State.Losses,
					RealizedPnl: st.State.RealizedPnl,
					Equity:      st.State.Equity,
				}
				if err := perfDao.UpsertDay(ctx, row); err != nil {
					logger.Warn("daily performance upsert failed",
						logger.Pair("bot_id", st.Config.ID),
						logger.Pair("err", err.Error()))
				}
			}
			cancel()
		}
	}
}

func classMap(in map[string]float64) map[model.InstrumentClass]float64 {
	out := make(map[model.InstrumentClass]float64, len(in))
	for k, v := range in {
		out[model.InstrumentClass(k)] = v
	}
	return out
}

// Close 有序关机
func (a *App) Close() {
	close(a.stopCh)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	a.orc.Shutdown(ctx)
	if a.producer != nil {
		a.producer.Close()
	}
}

var _ bot.StateStore = (*dao.BotStateDao)(nil)
var _ bot.TradeStore = (*dao.TradeLedger)(nil)
