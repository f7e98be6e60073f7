package exchange

import (
	"context"

	"botflow/internal/model"
)

// Exchange 订单执行接口。真实和模拟两个实现返回完全相同结构的响应，
// 下游代码不允许根据模式分支，只能通过响应里的IsTestMode标记区分。
type Exchange interface {
	// 下单
	PlaceOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error)
	// 撤销订单
	CancelOrder(ctx context.Context, orderID, symbol string) error
	// 获取订单状态
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*model.OrderStatus, error)
	// 获取最新价格
	GetLastPrice(symbol string) (float64, error)
	// 查询可用余额
	GetBalance(ctx context.Context, coin string) (float64, error)
	// 获取交易规则（最小步进、最小名义价值）
	GetRules(symbol string) (model.Rules, error)
	// 是否模拟撮合
	TestMode() bool
}

// PriceSource 模拟撮合的价格来源，通常接到共享行情缓存
type PriceSource func(symbol string) (float64, bool)
