package dao

import (
	"context"
	"errors"
	"time"

	"botflow/internal/consts"
	"botflow/internal/model"

	"gorm.io/gorm"
)

// PerformanceDao 每日绩效汇总
type PerformanceDao struct {
	db *gorm.DB
}

func NewPerformanceDao(db *gorm.DB) *PerformanceDao {
	return &PerformanceDao{db: db}
}

// UpsertDay 同一bot同一天只保留一行，重复写入覆盖
func (d *PerformanceDao) UpsertDay(ctx context.Context, p *model.DailyPerformance) error {
	var existing model.DailyPerformance
	err := d.db.WithContext(ctx).
		Where("bot_id = ? AND day = ?", p.BotID, p.Day).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p.CreatedAt = time.Now()
		return d.db.WithContext(ctx).Create(p).Error
	}
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Model(&model.DailyPerformance{}).
		Where("bot_id = ? AND day = ?", p.BotID, p.Day).
		Updates(map[string]any{
			"trades":       p.Trades,
			"wins":         p.Wins,
			"losses":       p.Losses,
			"realized_pnl": p.RealizedPnl,
			"equity":       p.Equity,
		}).Error
}

// Range 查某个bot一段时间的日绩效
func (d *PerformanceDao) Range(ctx context.Context, botID string, from, to time.Time) ([]model.DailyPerformance, error) {
	var out []model.DailyPerformance
	err := d.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Where("day >= ? AND day <= ?", from.Format(consts.DateLayout), to.Format(consts.DateLayout)).
		Order("day ASC").
		Find(&out).Error
	return out, err
}
