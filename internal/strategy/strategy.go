package strategy

import (
	"errors"
	"sync"

	"botflow/internal/model"
)

// Strategy 纯函数式决策器：输入已收盘K线窗口，输出交易信号。
// 不做下单、不做仓位管理，数据不足必须返回HOLD。
type Strategy interface {
	Name() string
	// Analyze K线按时间升序，最后一根是最近收盘的
	Analyze(klines []model.Kline) model.Signal
	// Params 当前生效的参数，报表用
	Params() map[string]float64
}

// Factory 按参数构建策略实例，每个bot独立持有一份
type Factory func(params map[string]float64) Strategy

var (
	// 策略注册表，支持多策略注册
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

func New(name string, params map[string]float64) (Strategy, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, errors.New("strategy not found: " + name)
	}
	return f(params), nil
}

// Names 已注册的策略名
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func extractCloses(klines []model.Kline) []float64 {
	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	return closes
}

func paramOr(params map[string]float64, key string, def float64) float64 {
	if params == nil {
		return def
	}
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return def
}
