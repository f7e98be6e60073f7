package exchange

import (
	"context"
	"fmt"
	"sync"

	"botflow/internal/model"

	"github.com/google/uuid"
)

// SimulatedExchange 模拟撮合。
// 凭证缺失或配置强制时自动启用；响应结构与真实接口完全一致：
// 合成订单id、按请求价（市价单按最新价）全部成交，
// 仅通过IsTestMode标记区分。
type SimulatedExchange struct {
	mu       sync.Mutex
	orders   map[string]*model.OrderStatus
	prices   map[string]float64
	balances map[string]float64
	rules    map[string]model.Rules

	priceSource PriceSource
	minNotional float64
}

func NewSimulatedExchange(priceSource PriceSource, minNotional float64) *SimulatedExchange {
	if minNotional <= 0 {
		minNotional = 5
	}
	return &SimulatedExchange{
		orders:      make(map[string]*model.OrderStatus),
		prices:      make(map[string]float64),
		balances:    map[string]float64{"USDT": 1_000_000},
		rules:       make(map[string]model.Rules),
		priceSource: priceSource,
		minNotional: minNotional,
	}
}

func (s *SimulatedExchange) TestMode() bool { return true }

// SetInitialPrice 设置初始价格，本地联调用
func (s *SimulatedExchange) SetInitialPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// SetBalance 预置余额
func (s *SimulatedExchange) SetBalance(coin string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[coin] = amount
}

// SetRules 预置某个币种的交易规则
func (s *SimulatedExchange) SetRules(symbol string, r model.Rules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[symbol] = r
}

// 观察价：优先行情缓存，其次本地价格表
func (s *SimulatedExchange) observedPrice(symbol string) (float64, bool) {
	if s.priceSource != nil {
		if p, ok := s.priceSource(symbol); ok {
			return p, true
		}
	}
	p, ok := s.prices[symbol]
	return p, ok
}

func (s *SimulatedExchange) PlaceOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TimeoutError{Op: "PlaceOrder"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.Quantity <= 0 {
		return nil, &OrderRejectedError{Reason: "quantity must be positive"}
	}

	fillPrice := order.Price
	if order.OrderType == model.Market || fillPrice <= 0 {
		p, ok := s.observedPrice(order.Symbol)
		if !ok {
			return nil, &OrderRejectedError{Reason: "no observed price for " + order.Symbol}
		}
		fillPrice = p
	}

	// 合成订单id，立即全部成交
	orderID := "sim-" + uuid.NewString()
	s.orders[orderID] = &model.OrderStatus{
		OrderID:   orderID,
		Status:    model.OrderFilled,
		Filled:    order.Quantity,
		Remaining: 0,
	}
	s.prices[order.Symbol] = fillPrice

	return &model.OrderResponse{
		OrderId:    orderID,
		Status:     model.OrderFilled,
		FilledQty:  order.Quantity,
		AvgPrice:   fillPrice,
		IsTestMode: true,
		Message:    "simulated order filled",
	}, nil
}

func (s *SimulatedExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	st.Status = model.OrderCancelled
	return nil
}

func (s *SimulatedExchange) GetOrderStatus(ctx context.Context, orderID, symbol string) (*model.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order not found: %s", orderID)
	}
	cp := *status
	return &cp, nil
}

func (s *SimulatedExchange) GetLastPrice(symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.observedPrice(symbol)
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

func (s *SimulatedExchange) GetBalance(ctx context.Context, coin string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[coin], nil
}

func (s *SimulatedExchange) GetRules(symbol string) (model.Rules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rules[symbol]; ok {
		return r, nil
	}
	// 默认规则：加密货币常见步进
	return model.Rules{LotSize: 0.0001, TickSize: 0.01, MinNotional: s.minNotional}, nil
}
