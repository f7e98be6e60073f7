package marketcache

import (
	"sync"
	"time"

	"botflow/internal/model"
)

// MaxCandles 每个(symbol, period)最多保留的已收盘K线数量
const MaxCandles = 200

// Cache 共享行情缓存：单写多读。
// 唯一的写入方是行情客户端，所有bot只读，
// 保证订阅同一币种的bot看到完全一致的序列。
type Cache struct {
	mu      sync.RWMutex
	rings   map[model.SubscriptionKey]*ring
	working map[model.SubscriptionKey]model.Kline // 未收盘的那根，原地替换
	last    map[string]model.TickerPrice
}

// 定长环形缓冲，溢出时淘汰最旧的一根
type ring struct {
	buf   [MaxCandles]model.Kline
	head  int // 下一个写入位置
	count int
}

func (r *ring) push(k model.Kline) {
	r.buf[r.head] = k
	r.head = (r.head + 1) % MaxCandles
	if r.count < MaxCandles {
		r.count++
	}
}

// last 按时间从旧到新返回最近n根
func (r *ring) lastN(n int) []model.Kline {
	if n > r.count {
		n = r.count
	}
	out := make([]model.Kline, 0, n)
	start := (r.head - n + MaxCandles*2) % MaxCandles
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%MaxCandles])
	}
	return out
}

func New() *Cache {
	return &Cache{
		rings:   make(map[model.SubscriptionKey]*ring),
		working: make(map[model.SubscriptionKey]model.Kline),
		last:    make(map[string]model.TickerPrice),
	}
}

// Append 写入一根已收盘K线，只允许行情客户端调用
func (c *Cache) Append(symbol string, period model.KlinePeriod, k model.Kline) {
	key := model.SubscriptionKey{Symbol: symbol, Period: period}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rings[key]
	if !ok {
		r = &ring{}
		c.rings[key] = r
	}
	r.push(k)
	// 收盘后清掉working
	delete(c.working, key)
}

// SetWorking 替换未收盘K线
func (c *Cache) SetWorking(symbol string, period model.KlinePeriod, k model.Kline) {
	key := model.SubscriptionKey{Symbol: symbol, Period: period}
	c.mu.Lock()
	c.working[key] = k
	c.mu.Unlock()
}

// Working 返回未收盘的那根K线
func (c *Cache) Working(symbol string, period model.KlinePeriod) (model.Kline, bool) {
	key := model.SubscriptionKey{Symbol: symbol, Period: period}
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.working[key]
	return k, ok
}

// Candles 返回最近k根已收盘K线，从旧到新，k<=200
func (c *Cache) Candles(symbol string, period model.KlinePeriod, k int) []model.Kline {
	key := model.SubscriptionKey{Symbol: symbol, Period: period}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rings[key]
	if !ok || k <= 0 {
		return nil
	}
	return r.lastN(k)
}

// Count 已缓存的收盘K线数量
func (c *Cache) Count(symbol string, period model.KlinePeriod) int {
	key := model.SubscriptionKey{Symbol: symbol, Period: period}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rings[key]
	if !ok {
		return 0
	}
	return r.count
}

// SetLastPrice 更新最新成交价，每个tick都会调用，读取必须足够快
func (c *Cache) SetLastPrice(symbol string, price float64, ts time.Time) {
	c.mu.Lock()
	c.last[symbol] = model.TickerPrice{Symbol: symbol, Price: price, Timestamp: ts}
	c.mu.Unlock()
}

// LastPrice 最新成交价
func (c *Cache) LastPrice(symbol string) (model.TickerPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.last[symbol]
	return p, ok
}

// Symbols 当前缓存中有最新价的币种，健康检查用
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.last))
	for s := range c.last {
		out = append(out, s)
	}
	return out
}
