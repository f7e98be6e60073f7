package exchange

import (
	"context"
	"strings"
	"testing"
	"time"

	"botflow/internal/model"
)

func TestSimulatedMarketOrderFullFill(t *testing.T) {
	ex := NewSimulatedExchange(nil, 5)
	ex.SetInitialPrice("BTC-USDT", 42000)

	resp, err := ex.PlaceOrder(context.Background(), &model.Order{
		Symbol:    "BTC-USDT",
		Side:      model.Buy,
		Quantity:  0.5,
		OrderType: model.Market,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !resp.IsTestMode {
		t.Error("simulated response must carry IsTestMode")
	}
	if resp.FilledQty != 0.5 {
		t.Errorf("filled = %v, want 0.5", resp.FilledQty)
	}
	if resp.AvgPrice != 42000 {
		t.Errorf("avg price = %v, want observed price 42000", resp.AvgPrice)
	}
	if resp.Status != model.OrderFilled {
		t.Errorf("status = %v", resp.Status)
	}
	if !strings.HasPrefix(resp.OrderId, "sim-") {
		t.Errorf("order id = %q, want synthetic sim- prefix", resp.OrderId)
	}

	// 响应里的id可以直接查单
	st, err := ex.GetOrderStatus(context.Background(), resp.OrderId, "BTC-USDT")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if st.Status != model.OrderFilled || st.Filled != 0.5 || st.Remaining != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestSimulatedLimitOrderUsesRequestedPrice(t *testing.T) {
	ex := NewSimulatedExchange(nil, 5)
	ex.SetInitialPrice("ETH-USDT", 3000)

	resp, err := ex.PlaceOrder(context.Background(), &model.Order{
		Symbol:    "ETH-USDT",
		Side:      model.Sell,
		Price:     3100,
		Quantity:  2,
		OrderType: model.Limit,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if resp.AvgPrice != 3100 {
		t.Errorf("avg price = %v, want requested 3100", resp.AvgPrice)
	}
}

func TestSimulatedPriceSourcePreferred(t *testing.T) {
	src := func(symbol string) (float64, bool) {
		if symbol == "BTC-USDT" {
			return 50000, true
		}
		return 0, false
	}
	ex := NewSimulatedExchange(src, 5)
	ex.SetInitialPrice("BTC-USDT", 42000) // 行情缓存优先于本地价格表

	resp, err := ex.PlaceOrder(context.Background(), &model.Order{
		Symbol:    "BTC-USDT",
		Side:      model.Buy,
		Quantity:  1,
		OrderType: model.Market,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if resp.AvgPrice != 50000 {
		t.Errorf("avg price = %v, want 50000 from price source", resp.AvgPrice)
	}
}

func TestSimulatedRejections(t *testing.T) {
	ex := NewSimulatedExchange(nil, 5)

	_, err := ex.PlaceOrder(context.Background(), &model.Order{
		Symbol:    "BTC-USDT",
		Side:      model.Buy,
		Quantity:  0,
		OrderType: model.Market,
	})
	if !IsOrderRejected(err) {
		t.Errorf("zero quantity: err = %v, want OrderRejected", err)
	}

	_, err = ex.PlaceOrder(context.Background(), &model.Order{
		Symbol:    "XX-USDT",
		Side:      model.Buy,
		Quantity:  1,
		OrderType: model.Market,
	})
	if !IsOrderRejected(err) {
		t.Errorf("no observed price: err = %v, want OrderRejected", err)
	}
}

func TestSimulatedCancelledContext(t *testing.T) {
	ex := NewSimulatedExchange(nil, 5)
	ex.SetInitialPrice("BTC-USDT", 42000)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := ex.PlaceOrder(ctx, &model.Order{
		Symbol:    "BTC-USDT",
		Side:      model.Buy,
		Quantity:  1,
		OrderType: model.Market,
	})
	if !IsTimeout(err) {
		t.Errorf("expired context: err = %v, want Timeout", err)
	}
}

func TestClassifyFaults(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"auth code", errInput("okx error 50111: Invalid OK-ACCESS-KEY"), IsAuthError},
		{"rate limit code", errInput("okx error 50011: Requests too frequent"), IsRateLimited},
		{"http 429", errInput("unexpected status 429"), IsRateLimited},
		{"deadline", context.DeadlineExceeded, IsTimeout},
		{"place order fallback", errInput("Parameter px error"), IsOrderRejected},
	}
	for _, tc := range cases {
		got := classify("PlaceOrder", tc.err)
		if !tc.want(got) {
			t.Errorf("%s: classify = %v", tc.name, got)
		}
	}
}

type errInput string

func (e errInput) Error() string { return string(e) }
