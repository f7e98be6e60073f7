package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"botflow/internal/consts"
	"botflow/internal/marketcache"
	"botflow/internal/model"
	"botflow/pkg/kafka"
	"botflow/pkg/logger"

	"github.com/gorilla/websocket"
)

// Source 行情源接口，bot和orchestrator通过它观察行情状态
type Source interface {
	// Subscribe 订阅指定币种和周期的K线，幂等且引用计数
	Subscribe(ctx context.Context, symbol string, period model.KlinePeriod) error

	// Unsubscribe 取消订阅，最后一个订阅者离开时才释放底层连接
	Unsubscribe(ctx context.Context, symbol string, period model.KlinePeriod) error

	// Connected 当前是否有活跃连接
	Connected() bool

	// Degraded 行情是否处于降级状态，降级期间bot必须暂停开新仓
	Degraded() bool

	// DroppedFrames 累计丢弃的非法帧数量
	DroppedFrames() uint64

	// Close 关闭行情服务连接
	Close() error
}

// Client 基于交易所公共WebSocket的行情客户端。
// 只有在首次订阅时才连接；所有收盘K线写入共享缓存，
// Client是缓存的唯一写入方。
type Client struct {
	sync.RWMutex
	conn *websocket.Conn
	// 全局K线订阅计数器
	// Key: (symbol, period)
	// Value: 订阅该频道的bot数量
	subscribed map[model.SubscriptionKey]int
	url        string
	closeCh    chan struct{}

	cache    *marketcache.Cache
	producer kafka.ProducerService // 可选，配置broker后收盘K线同时写入kafka

	lastRequest time.Time

	// 使用布尔状态标记和条件变量做"等待首次连接成功"的同步
	isReady   bool
	readyCond *sync.Cond
	isRunning bool

	backoff       Backoff
	degradedAfter int // 连续失败多少次进入降级

	connected     atomic.Bool
	degraded      atomic.Bool
	droppedFrames atomic.Uint64
	closed        atomic.Bool
}

// NewClient 创建行情客户端，cache是唯一的数据出口
func NewClient(url string, cache *marketcache.Cache, producer kafka.ProducerService, degradedAfter int) *Client {
	if degradedAfter <= 0 {
		degradedAfter = 5
	}
	c := &Client{
		subscribed:    make(map[model.SubscriptionKey]int),
		url:           url,
		cache:         cache,
		producer:      producer,
		closeCh:       make(chan struct{}),
		backoff:       DefaultBackoff(),
		degradedAfter: degradedAfter,
	}
	c.readyCond = sync.NewCond(&c.RWMutex)
	return c
}

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Degraded() bool { return c.degraded.Load() }

func (c *Client) DroppedFrames() uint64 { return c.droppedFrames.Load() }

// --- 连接和重连逻辑 ---

func (c *Client) startPingLoop(conn *websocket.Conn, closeCh chan struct{}) {
	ticker := time.NewTicker(time.Second * 15)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RLock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			c.RUnlock()

			if err != nil {
				logger.Warnf("feed ping failed: %v, stopping ping loop", err)
				return
			}

		case <-closeCh:
			return
		}
	}
}

// 恢复订阅所有之前已订阅的K线
func (c *Client) resubscribeAll() error {
	c.RLock()
	keys := make([]model.SubscriptionKey, 0, len(c.subscribed))
	for key := range c.subscribed {
		keys = append(keys, key)
	}
	c.RUnlock()

	if len(keys) == 0 {
		return nil
	}

	args := []map[string]string{}
	for _, key := range keys {
		args = append(args, map[string]string{
			"channel": "candle" + string(key.Period),
			"instId":  key.Symbol,
		})
	}

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}

	c.Lock()
	defer c.Unlock()
	return c.writeMessageInternal(subMsg)
}

func (c *Client) run() {
	logger.Info("feed connection manager started")
	isFirstRun := true
	failures := 0

	defer func() {
		c.Lock()
		c.isRunning = false
		c.Unlock()
		logger.Info("feed connection manager stopped")
	}()

	for {
		if c.closed.Load() {
			return
		}
		if !isFirstRun {
			c.RLock()
			hasSubscriptions := len(c.subscribed) > 0
			connAlive := c.conn != nil
			c.RUnlock()

			// 没有活动订阅且没有连接时优雅退出
			if !hasSubscriptions && !connAlive {
				return
			}
		}
		isFirstRun = false

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			failures++
			wait := c.backoff.Next(failures)
			if failures >= c.degradedAfter && !c.degraded.Load() {
				// 降级：所有依赖的bot暂停开新仓，只允许基于缓存数据管理退出
				c.degraded.Store(true)
				logger.Errorf("feed degraded after %d consecutive dial failures: %v", failures, err)
			}
			logger.Warnf("feed dial failed (attempt %d), retrying in %s: %v", failures, wait, err)
			select {
			case <-time.After(wait):
				continue
			case <-c.closeCh:
				return
			}
		}

		// 连接成功，清除降级
		failures = 0
		c.degraded.Store(false)
		c.connected.Store(true)

		c.Lock()
		c.conn = conn
		if !c.isReady {
			c.isReady = true
			c.readyCond.Broadcast() // 唤醒所有等待者
		}
		// 重新创建closeCh，通知旧的Ping协程退出
		if c.closeCh != nil {
			close(c.closeCh)
		}
		c.closeCh = make(chan struct{})
		closeCh := c.closeCh
		c.Unlock()

		logger.Info("feed connection established")

		go c.startPingLoop(conn, closeCh)

		// 恢复所有旧的K线订阅
		if err := c.resubscribeAll(); err != nil {
			logger.Errorf("feed resubscribe failed after connect: %v, retrying", err)
			_ = conn.Close()
			c.connected.Store(false)
			continue
		}

		c.runListen(conn) // 阻塞直到连接断开

		c.connected.Store(false)
		c.Lock()
		c.isReady = false
		// 断开后清掉连接引用，退订到零的情况下循环才能发现无事可做而退出
		if c.conn == conn {
			c.conn = nil
		}
		c.Unlock()

		if c.closed.Load() {
			return
		}
		logger.Warn("feed lost connection, restarting reconnect loop")
	}
}

func (c *Client) runListen(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Warnf("feed read failed: %v", err)
			return // 退出，触发run()重连
		}
		c.handleMessage(message)
	}
}

// 内部方法，负责限速，假设外部已加锁
func (c *Client) writeMessageInternal(message interface{}) error {
	timeSinceLastRequest := time.Since(c.lastRequest)
	if timeSinceLastRequest < 50*time.Millisecond {
		time.Sleep(50*time.Millisecond - timeSinceLastRequest)
	}
	c.lastRequest = time.Now()

	if c.conn == nil {
		return errors.New("feed connection not established")
	}
	return c.conn.WriteJSON(message)
}

// WaitForConnectionReady 同步等待连接建立
func (c *Client) WaitForConnectionReady(ctx context.Context) error {
	// 使用Cond必须用Lock，不能用RLock
	c.Lock()
	defer c.Unlock()

	if c.isReady {
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// 唤醒等待者检查ctx
			c.readyCond.Broadcast()
		case <-done:
		}
	}()

	for !c.isReady {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.readyCond.Wait() // 释放锁并阻塞，被Broadcast后重新获取锁
	}
	return nil
}

// Subscribe 订阅K线，幂等且引用计数
func (c *Client) Subscribe(ctx context.Context, symbol string, period model.KlinePeriod) error {
	key := model.SubscriptionKey{Symbol: symbol, Period: period}

	c.Lock()

	// 检查并启动连接管理器
	if !c.isRunning {
		c.isRunning = true
		go c.run()
	}

	// 已经订阅，只增加计数
	if count, ok := c.subscribed[key]; ok {
		c.subscribed[key] = count + 1
		c.Unlock()
		return nil
	}
	c.Unlock()

	// 新订阅需要等待连接就绪后发送请求
	if err := c.WaitForConnectionReady(ctx); err != nil {
		return fmt.Errorf("failed to wait for feed connection ready: %w", err)
	}

	c.Lock()
	defer c.Unlock()

	// 等待期间可能已被其他bot订阅
	if count, ok := c.subscribed[key]; ok {
		c.subscribed[key] = count + 1
		return nil
	}

	subMsg := map[string]interface{}{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "candle" + string(period), "instId": symbol},
		},
	}
	if err := c.writeMessageInternal(subMsg); err != nil {
		return fmt.Errorf("failed to subscribe to upstream data: %w", err)
	}

	c.subscribed[key] = 1
	logger.Infof("subscribed candle: %s-%s", symbol, period)
	return nil
}

// Unsubscribe 取消订阅，计数归零时向上游退订，
// 最后一个订阅离开时关闭连接
func (c *Client) Unsubscribe(ctx context.Context, symbol string, period model.KlinePeriod) error {
	key := model.SubscriptionKey{Symbol: symbol, Period: period}

	c.Lock()
	defer c.Unlock()

	currentCount, ok := c.subscribed[key]
	if !ok {
		return nil // 未订阅，无需退订
	}

	if currentCount > 1 {
		c.subscribed[key] = currentCount - 1
		return nil
	}

	// 计数归零，向上游发送退订请求
	unsubMsg := map[string]interface{}{
		"op": "unsubscribe",
		"args": []map[string]string{
			{"channel": "candle" + string(period), "instId": symbol},
		},
	}
	if c.conn != nil {
		if err := c.writeMessageInternal(unsubMsg); err != nil {
			logger.Warnf("feed unsubscribe write failed: %v", err)
		}
	}

	// 这是最后一个订阅，关闭连接；run()循环会因连接断开而退出，
	// 并在下一次循环中发现没有订阅而停止
	if len(c.subscribed) == 1 && c.conn != nil {
		logger.Info("last candle subscription removed, closing feed connection")
		_ = c.conn.Close()
	}

	delete(c.subscribed, key)
	logger.Infof("unsubscribed candle: %s-%s", symbol, period)
	return nil
}

// SubscriberCount 当前某个频道的订阅计数，测试和健康检查用
func (c *Client) SubscriberCount(symbol string, period model.KlinePeriod) int {
	c.RLock()
	defer c.RUnlock()
	return c.subscribed[model.SubscriptionKey{Symbol: symbol, Period: period}]
}

// Close 关闭行情服务
func (c *Client) Close() error {
	c.closed.Store(true)
	c.Lock()
	defer c.Unlock()
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// --- 消息处理逻辑 ---

func (c *Client) handleMessage(msg []byte) {
	if string(msg) == "pong" {
		return
	}

	frame, err := parseFrame(msg)
	if err != nil {
		// 非法帧只计数丢弃，绝不让监听协程崩溃
		c.droppedFrames.Add(1)
		logger.Debugf("feed dropped malformed frame: %v", err)
		return
	}
	if frame == nil {
		// 事件消息(订阅确认/错误)，不产生行情
		return
	}

	for _, k := range frame.Klines {
		c.cache.SetLastPrice(frame.Symbol, k.Close, k.Timestamp)
		if k.Confirm {
			c.cache.Append(frame.Symbol, frame.Period, k)
			c.publishCandle(frame.Symbol, frame.Period, k)
		} else {
			c.cache.SetWorking(frame.Symbol, frame.Period, k)
		}
	}
}

// 收盘K线写入kafka，供下游消费者订阅，失败只记录日志
func (c *Client) publishCandle(symbol string, period model.KlinePeriod, k model.Kline) {
	if c.producer == nil {
		return
	}
	go func() {
		// Key确保同一K线的所有更新进入同一分区，保证顺序
		subKey := fmt.Sprintf("CANDLE:%s:%s", symbol, period)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
		defer cancel()
		payload := struct {
			Symbol string            `json:"symbol"`
			Period model.KlinePeriod `json:"period"`
			Kline  model.Kline       `json:"kline"`
		}{symbol, period, k}
		if err := c.producer.Produce(ctx, consts.KafkaTopicSubscribe, []byte(subKey), payload); err != nil {
			logger.Warnf("kafka produce candle failed: %v", err)
		}
	}()
}
