package dao

import (
	"context"

	"botflow/internal/model"
	"botflow/pkg/recorder"
)

// TradeLedger 成交账本：主写mysql，同时落一份JSON文件作为备份，
// 数据库不可用时至少还有本地流水可对账
type TradeLedger struct {
	dao    *TradeDao
	backup *recorder.JSONFileRecorder
}

func NewTradeLedger(dao *TradeDao, backup *recorder.JSONFileRecorder) *TradeLedger {
	return &TradeLedger{dao: dao, backup: backup}
}

func (l *TradeLedger) Insert(ctx context.Context, record *model.TradeRecord) error {
	if l.backup != nil {
		// 备份失败不影响主路径
		_ = l.backup.Record(record)
	}
	return l.dao.Insert(ctx, record)
}
