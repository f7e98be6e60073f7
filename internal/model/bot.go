package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// BotConfig 一个机器人的完整配置，创建后不可变，
// 只能通过显式的更新接口整体替换并重新校验
type BotConfig struct {
	ID               string          `json:"id" validate:"required"`
	Symbol           string          `json:"symbol" validate:"required"`
	Period           KlinePeriod     `json:"period" validate:"required"`
	Strategy         string          `json:"strategy" validate:"required"`
	Params           map[string]any  `json:"params"`
	Capital          float64         `json:"capital" validate:"gt=0"`
	RiskPerTrade     float64         `json:"risk_per_trade" validate:"gte=0,lte=1"`
	MaxPositionSize  float64         `json:"max_position_size" validate:"gte=0,lte=1"`
	StopLossPct      float64         `json:"stop_loss_pct" validate:"gte=0,lte=1"`
	TakeProfitPct    float64         `json:"take_profit_pct" validate:"gte=0,lte=1"`
	TrailingStopPct  float64         `json:"trailing_stop_pct" validate:"gte=0,lte=1"`
	DrawdownGuardPct float64         `json:"drawdown_guard_pct" validate:"gte=0,lte=1"`
	Leverage         int             `json:"leverage" validate:"gte=1"`
	Class            InstrumentClass `json:"class"`
}

var validate = validator.New()

// ConfigError 配置校验错误，逐字段列出所有违规项
type ConfigError struct {
	Fields []string
}

func (e *ConfigError) Error() string {
	return "invalid bot config: " + strings.Join(e.Fields, "; ")
}

// Validate 校验所有比例字段在[0,1]内，出错时一次性列出全部违规字段
func (c *BotConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	ce := &ConfigError{}
	for _, fe := range verrs {
		ce.Fields = append(ce.Fields, fmt.Sprintf("%s: failed on '%s' (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return ce
}

// 机器人状态机
type BotState string

const (
	BotCreated BotState = "created"
	BotRunning BotState = "running"
	BotPaused  BotState = "paused"
	BotStopped BotState = "stopped" // 终态
	BotHalted  BotState = "halted"  // 熔断，需要人工reset
)

// BotRuntimeState 每个tick都会更新的运行时状态
type BotRuntimeState struct {
	State        BotState  `json:"state"`
	Equity       float64   `json:"equity"`
	PeakEquity   float64   `json:"peak_equity"`
	DrawdownPct  float64   `json:"drawdown_pct"`
	HaltReason   string    `json:"halt_reason"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	RealizedPnl  float64   `json:"realized_pnl"`
	GrossWin     float64   `json:"gross_win"`
	GrossLoss    float64   `json:"gross_loss"`
	Position     *Position `json:"position,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WinRate 胜率，无成交时为0
func (s *BotRuntimeState) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}

// BotConfigRecord 配置的持久化形态
type BotConfigRecord struct {
	ID        uint      `gorm:"column:id;primary_key" json:"id"`
	BotID     string    `gorm:"column:bot_id;uniqueIndex" json:"bot_id"`
	Symbol    string    `gorm:"column:symbol" json:"symbol"`
	Period    string    `gorm:"column:period" json:"period"`
	Strategy  string    `gorm:"column:strategy" json:"strategy"`
	Params    string    `gorm:"column:params;type:text" json:"params"` // json编码的策略参数
	Config    string    `gorm:"column:config;type:text" json:"config"` // 完整配置json
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (BotConfigRecord) TableName() string {
	return "bot_config"
}

// BotStateRecord 状态快照的持久化形态，重启后作为恢复依据
type BotStateRecord struct {
	ID        uint      `gorm:"column:id;primary_key" json:"id"`
	BotID     string    `gorm:"column:bot_id;index" json:"bot_id"`
	State     string    `gorm:"column:state" json:"state"`
	Snapshot  string    `gorm:"column:snapshot;type:text" json:"snapshot"` // BotRuntimeState json
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (BotStateRecord) TableName() string {
	return "bot_state"
}

// DailyPerformance 每日汇总
type DailyPerformance struct {
	ID          uint      `gorm:"column:id;primary_key" json:"id"`
	BotID       string    `gorm:"column:bot_id;index" json:"bot_id"`
	Day         string    `gorm:"column:day" json:"day"` // 2006-01-02
	Trades      int       `gorm:"column:trades" json:"trades"`
	Wins        int       `gorm:"column:wins" json:"wins"`
	Losses      int       `gorm:"column:losses" json:"losses"`
	RealizedPnl float64   `gorm:"column:realized_pnl" json:"realized_pnl"`
	Equity      float64   `gorm:"column:equity" json:"equity"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (DailyPerformance) TableName() string {
	return "daily_performance"
}

// EncodeSnapshot 序列化运行时状态
func EncodeSnapshot(s *BotRuntimeState) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSnapshot 反序列化运行时状态
func DecodeSnapshot(raw string) (*BotRuntimeState, error) {
	var s BotRuntimeState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
