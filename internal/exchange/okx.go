package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	model2 "botflow/internal/model"

	"github.com/bwmarrin/snowflake"
	goexv2 "github.com/nntaoli-project/goex/v2"
	"github.com/nntaoli-project/goex/v2/model"
	"github.com/nntaoli-project/goex/v2/options"
)

// OkxExchange 真实下单通道，走okx v5签名接口。
// 凭证在构造时注入；所有请求带超时，超时按失败处理。
type OkxExchange struct {
	prv    goexv2.IPrvRest
	pub    goexv2.IPubRest
	exInfo map[string]model.CurrencyPair

	node    *snowflake.Node // 生成客户端订单id
	timeout time.Duration
	minNotional float64
}

func NewOkxExchange(apiKey, apiSecret, passphrase string, timeout time.Duration, minNotional float64) (*OkxExchange, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, &AuthError{Msg: "missing okx credentials"}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}

	opts := []options.ApiOption{
		options.WithApiKey(apiKey),
		options.WithApiSecretKey(apiSecret),
		options.WithPassphrase(passphrase),
	}

	pub := goexv2.OKx.Spot
	e := &OkxExchange{
		prv:     pub.NewPrvApi(opts...),
		pub:     pub,
		node:    node,
		timeout: timeout,
		minNotional: minNotional,
	}

	// 初始化时加载所有可交易币对
	// 测试连接，创建订单时需要调用GetExchangeInfo获取pair
	info, _, err := pub.GetExchangeInfo()
	if err != nil {
		return nil, classify("GetExchangeInfo", err)
	}
	e.exInfo = info
	return e, nil
}

func (e *OkxExchange) TestMode() bool { return false }

// symbol 格式转换: "BTC/USDT" -> goex 需要的 CurrencyPair
func (e *OkxExchange) toCurrencyPair(symbol string) (model.CurrencyPair, error) {
	parts := strings.Split(symbol, "/")
	if len(parts) == 1 { // 防止BTC-USDT
		parts = strings.Split(symbol, "-")
	}
	if len(parts) > 2 {
		parts = parts[:2]
	}
	if len(parts) < 2 {
		return model.CurrencyPair{}, fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return e.pub.NewCurrencyPair(parts[0], parts[1])
}

// withTimeout goex私有方法没有context，统一用超时控制包一层
func withTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	var zero T
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-timeoutCtx.Done():
		return zero, &TimeoutError{Op: op}
	case r := <-ch:
		if r.err != nil {
			return zero, classify(op, r.err)
		}
		return r.v, nil
	}
}

// 下单购买
func (e *OkxExchange) PlaceOrder(ctx context.Context, order *model2.Order) (*model2.OrderResponse, error) {
	pair, err := e.toCurrencyPair(order.Symbol)
	if err != nil {
		return nil, &OrderRejectedError{Reason: err.Error()}
	}

	var side model.OrderSide
	switch order.Side {
	case model2.Buy:
		side = model.Spot_Buy
	case model2.Sell:
		side = model.Spot_Sell
	default:
		return nil, &OrderRejectedError{Reason: "invalid order side"}
	}

	var orderType model.OrderType
	switch order.OrderType {
	case model2.Limit:
		orderType = model.OrderType_Limit
	case model2.Market, model2.Stop:
		orderType = model.OrderType_Market
	default:
		return nil, &OrderRejectedError{Reason: "unsupported order type"}
	}

	// 客户端订单id，便于对账
	opts := []model.OptionParameter{
		{Key: "clOrdId", Value: "bf" + e.node.Generate().String()},
	}

	// 止损委托：触发价到达后按市价成交
	if order.OrderType == model2.Stop && order.StopPrice > 0 {
		opts = append(opts,
			model.OptionParameter{Key: "slTriggerPx", Value: strconv.FormatFloat(order.StopPrice, 'f', -1, 64)},
			model.OptionParameter{Key: "slOrdPx", Value: "-1"}, // -1 表示市价
		)
	}

	// 附带止盈止损
	if order.TPPrice > 0 {
		opts = append(opts,
			model.OptionParameter{Key: "tpTriggerPx", Value: strconv.FormatFloat(order.TPPrice, 'f', -1, 64)},
			model.OptionParameter{Key: "tpOrdPx", Value: "-1"},
		)
	}
	if order.SLPrice > 0 {
		opts = append(opts,
			model.OptionParameter{Key: "slTriggerPx", Value: strconv.FormatFloat(order.SLPrice, 'f', -1, 64)},
			model.OptionParameter{Key: "slOrdPx", Value: "-1"},
		)
	}

	created, err := withTimeout(ctx, e.timeout, "PlaceOrder", func() (*model.Order, error) {
		created, _, err := e.prv.CreateOrder(pair, order.Quantity, order.Price, side, orderType, opts...)
		return created, err
	})
	if err != nil {
		return nil, err
	}

	return &model2.OrderResponse{
		OrderId:   created.Id,
		Status:    model2.OrderPending,
		FilledQty: created.ExecutedQty,
		AvgPrice:  created.Price,
		Message:   "submitted",
	}, nil
}

// 取消订单
func (e *OkxExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	pair, err := e.toCurrencyPair(symbol)
	if err != nil {
		return err
	}
	_, err = withTimeout(ctx, e.timeout, "CancelOrder", func() (struct{}, error) {
		_, err := e.prv.CancelOrder(pair, orderID)
		return struct{}{}, err
	})
	return err
}

// 获取订单状态
func (e *OkxExchange) GetOrderStatus(ctx context.Context, orderID, symbol string) (*model2.OrderStatus, error) {
	pair, err := e.toCurrencyPair(symbol)
	if err != nil {
		return nil, err
	}

	info, err := withTimeout(ctx, e.timeout, "GetOrderInfo", func() (*model.Order, error) {
		info, _, err := e.prv.GetOrderInfo(pair, orderID)
		return info, err
	})
	if err != nil {
		return nil, err
	}

	return &model2.OrderStatus{
		OrderID:   info.Id,
		Status:    adaptOrderState(info.Status),
		Filled:    info.ExecutedQty,
		Remaining: info.Qty - info.ExecutedQty,
	}, nil
}

func adaptOrderState(st model.OrderStatus) model2.OrderState {
	switch st {
	case model.OrderStatus_Finished:
		return model2.OrderFilled
	case model.OrderStatus_PartFinished:
		return model2.OrderPartial
	case model.OrderStatus_Canceled:
		return model2.OrderCancelled
	default:
		return model2.OrderPending
	}
}

// 获取最新价格
func (e *OkxExchange) GetLastPrice(symbol string) (float64, error) {
	pair, err := e.toCurrencyPair(symbol)
	if err != nil {
		return 0, err
	}
	ticker, _, _ := e.pub.GetTicker(pair)
	if ticker == nil {
		return 0, errors.New("failed to get ticker")
	}
	return ticker.Last, nil
}

// GetBalance 查询指定币种的可用余额
func (e *OkxExchange) GetBalance(ctx context.Context, coin string) (float64, error) {
	bal, err := withTimeout(ctx, e.timeout, "GetAccount", func() (map[string]model.Account, error) {
		bal, _, err := e.prv.GetAccount(coin)
		return bal, err
	})
	if err != nil {
		return 0, err
	}
	account, ok := bal[coin]
	if !ok {
		return 0, errors.New("account info not found for coin " + coin)
	}
	return account.AvailableBalance, nil
}

// GetRules 从交易所币对信息推导交易规则
func (e *OkxExchange) GetRules(symbol string) (model2.Rules, error) {
	pair, err := e.toCurrencyPair(symbol)
	if err != nil {
		return model2.Rules{}, err
	}
	lot := pair.MinQty
	if lot <= 0 {
		lot = math.Pow(10, -float64(pair.QtyPrecision))
	}
	return model2.Rules{
		LotSize:     lot,
		TickSize:    math.Pow(10, -float64(pair.PricePrecision)),
		MinNotional: e.minNotional,
	}, nil
}
