package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 配置加载（API密钥等）

type Okx struct {
	ApiKey    string `yaml:"apiKey"`
	SecretKey string `yaml:"secretKey"`
	Password  string `yaml:"password"`
	Simulated bool   `yaml:"simulated"` // 强制使用模拟撮合，不连真实交易接口
	WsURL     string `yaml:"ws-url"`    // 公共行情websocket地址
}

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
}

// RuntimeConfig 交易运行时的全局参数
type RuntimeConfig struct {
	TickInterval     time.Duration `yaml:"tick-interval"`      // 每个bot的评估周期
	OrderTimeout     time.Duration `yaml:"order-timeout"`      // 下单超时，超时按失败处理
	ShutdownTimeout  time.Duration `yaml:"shutdown-timeout"`   // 停机时平仓的最长等待
	MarginCallLevel  float64       `yaml:"margin-call-level"`  // 保证金预警线，默认1.0
	LiquidationLevel float64       `yaml:"liquidation-level"`  // 强平线，默认0.5
	DegradedAfter    int           `yaml:"degraded-after"`     // 连续重连失败多少次进入降级
	MinNotional      float64       `yaml:"min-notional"`       // 默认最小下单名义价值(USDT)
	FinancingRates   map[string]float64 `yaml:"financing-rates"` // 每个品种类别的隔夜费率
	ExposureCaps     map[string]float64 `yaml:"exposure-caps"`   // 每个品种类别占净值的敞口上限
}

// BotEntry 预置的机器人配置，启动时自动创建
type BotEntry struct {
	ID               string         `yaml:"id"`
	Symbol           string         `yaml:"symbol"`
	Period           string         `yaml:"period"`
	Strategy         string         `yaml:"strategy"`
	Params           map[string]any `yaml:"params"`
	Capital          float64        `yaml:"capital"`
	RiskPerTrade     float64        `yaml:"risk-per-trade"`
	MaxPositionSize  float64        `yaml:"max-position-size"`
	StopLossPct      float64        `yaml:"stop-loss-pct"`
	TakeProfitPct    float64        `yaml:"take-profit-pct"`
	TrailingStopPct  float64        `yaml:"trailing-stop-pct"`
	DrawdownGuardPct float64        `yaml:"drawdown-guard-pct"`
	Leverage         int            `yaml:"leverage"`
	Class            string         `yaml:"class"` // forex/index/commodity/crypto
	AutoStart        bool           `yaml:"auto-start"`
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	MaxPingCount int    `yaml:"max-ping-count"`

	Okx     `yaml:"okx"`
	Db      `yaml:"database"`
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Bots    []BotEntry    `yaml:"bots"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	AppConfig.Runtime.applyDefaults()
	return nil
}

func (r *RuntimeConfig) applyDefaults() {
	if r.TickInterval <= 0 {
		r.TickInterval = 5 * time.Second
	}
	if r.OrderTimeout <= 0 {
		r.OrderTimeout = 10 * time.Second
	}
	if r.ShutdownTimeout <= 0 {
		r.ShutdownTimeout = 30 * time.Second
	}
	if r.MarginCallLevel <= 0 {
		r.MarginCallLevel = 1.0
	}
	if r.LiquidationLevel <= 0 {
		r.LiquidationLevel = 0.5
	}
	if r.DegradedAfter <= 0 {
		r.DegradedAfter = 5
	}
	if r.MinNotional <= 0 {
		r.MinNotional = 5
	}
}
