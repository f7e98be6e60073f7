package dao

import (
	"context"

	"botflow/internal/model"

	"gorm.io/gorm"
)

// TradeDao 成交账本，只追加
type TradeDao struct {
	db *gorm.DB
}

func NewTradeDao(db *gorm.DB) *TradeDao {
	return &TradeDao{db: db}
}

// Insert 插入成交记录
func (d *TradeDao) Insert(ctx context.Context, record *model.TradeRecord) error {
	return d.db.WithContext(ctx).Create(record).Error
}

// ListByBot 某个bot最近的成交，按时间倒序
func (d *TradeDao) ListByBot(ctx context.Context, botID string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []model.TradeRecord
	err := d.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
