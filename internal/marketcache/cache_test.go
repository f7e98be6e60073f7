package marketcache

import (
	"testing"
	"time"

	"botflow/internal/model"
)

func mkKline(i int) model.Kline {
	return model.Kline{
		Timestamp: time.Unix(int64(i)*60, 0),
		Open:      float64(i),
		High:      float64(i) + 1,
		Low:       float64(i) - 1,
		Close:     float64(i) + 0.5,
		Vol:       1,
		Confirm:   true,
	}
}

func TestCacheRingEviction(t *testing.T) {
	c := New()
	// 写入超过200根，只保留最近200根，FIFO淘汰
	for i := 0; i < 250; i++ {
		c.Append("BTC/USDT", model.Period15m, mkKline(i))
	}

	if got := c.Count("BTC/USDT", model.Period15m); got != MaxCandles {
		t.Fatalf("count = %d, want %d", got, MaxCandles)
	}

	lines := c.Candles("BTC/USDT", model.Period15m, MaxCandles)
	if len(lines) != MaxCandles {
		t.Fatalf("len = %d, want %d", len(lines), MaxCandles)
	}
	// 最旧的应该是第50根，最新的是第249根
	if lines[0].Open != 50 {
		t.Errorf("oldest open = %v, want 50", lines[0].Open)
	}
	if lines[len(lines)-1].Open != 249 {
		t.Errorf("newest open = %v, want 249", lines[len(lines)-1].Open)
	}
}

func TestCacheCandlesOrdering(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		c.Append("ETH/USDT", model.Period1H, mkKline(i))
	}
	lines := c.Candles("ETH/USDT", model.Period1H, 5)
	if len(lines) != 5 {
		t.Fatalf("len = %d, want 5", len(lines))
	}
	for i := 1; i < len(lines); i++ {
		if !lines[i].Timestamp.After(lines[i-1].Timestamp) {
			t.Fatalf("candles not oldest-to-newest at %d", i)
		}
	}
}

func TestCacheCandlesMoreThanAvailable(t *testing.T) {
	c := New()
	for i := 0; i < 3; i++ {
		c.Append("BTC/USDT", model.Period15m, mkKline(i))
	}
	lines := c.Candles("BTC/USDT", model.Period15m, 100)
	if len(lines) != 3 {
		t.Fatalf("len = %d, want 3", len(lines))
	}
}

func TestCacheLastPrice(t *testing.T) {
	c := New()
	if _, ok := c.LastPrice("BTC/USDT"); ok {
		t.Fatal("expected no price before write")
	}
	now := time.Now()
	c.SetLastPrice("BTC/USDT", 65000.5, now)
	p, ok := c.LastPrice("BTC/USDT")
	if !ok || p.Price != 65000.5 {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestCacheWorkingReplacedInPlace(t *testing.T) {
	c := New()
	w := mkKline(1)
	w.Confirm = false
	c.SetWorking("BTC/USDT", model.Period15m, w)

	w.Close = 42
	c.SetWorking("BTC/USDT", model.Period15m, w)

	got, ok := c.Working("BTC/USDT", model.Period15m)
	if !ok || got.Close != 42 {
		t.Fatalf("working = %+v ok=%v", got, ok)
	}

	// 收盘后working清空
	w.Confirm = true
	c.Append("BTC/USDT", model.Period15m, w)
	if _, ok := c.Working("BTC/USDT", model.Period15m); ok {
		t.Fatal("working should be cleared after close")
	}
}
