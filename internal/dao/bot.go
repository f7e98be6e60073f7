package dao

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"botflow/internal/consts"
	"botflow/internal/model"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type BotConfigDao struct {
	db *gorm.DB
}

func NewBotConfigDao(db *gorm.DB) *BotConfigDao {
	return &BotConfigDao{db: db}
}

// Upsert 按bot_id覆盖配置
func (d *BotConfigDao) Upsert(ctx context.Context, cfg *model.BotConfig) error {
	params, err := json.Marshal(cfg.Params)
	if err != nil {
		return err
	}
	full, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	record := model.BotConfigRecord{
		BotID:     cfg.ID,
		Symbol:    cfg.Symbol,
		Period:    string(cfg.Period),
		Strategy:  cfg.Strategy,
		Params:    string(params),
		Config:    string(full),
		UpdatedAt: time.Now(),
	}

	var existing model.BotConfigRecord
	err = d.db.WithContext(ctx).Where("bot_id = ?", cfg.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.WithContext(ctx).Create(&record).Error
	}
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Model(&model.BotConfigRecord{}).
		Where("bot_id = ?", cfg.ID).
		Updates(map[string]any{
			"symbol":     record.Symbol,
			"period":     record.Period,
			"strategy":   record.Strategy,
			"params":     record.Params,
			"config":     record.Config,
			"updated_at": record.UpdatedAt,
		}).Error
}

// Get 按bot_id取回完整配置
func (d *BotConfigDao) Get(ctx context.Context, botID string) (*model.BotConfig, error) {
	var record model.BotConfigRecord
	if err := d.db.WithContext(ctx).Where("bot_id = ?", botID).First(&record).Error; err != nil {
		return nil, err
	}
	var cfg model.BotConfig
	if err := json.Unmarshal([]byte(record.Config), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// List 所有已登记的配置
func (d *BotConfigDao) List(ctx context.Context) ([]model.BotConfig, error) {
	var records []model.BotConfigRecord
	if err := d.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]model.BotConfig, 0, len(records))
	for _, r := range records {
		var cfg model.BotConfig
		if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Delete 删除配置
func (d *BotConfigDao) Delete(ctx context.Context, botID string) error {
	return d.db.WithContext(ctx).Where("bot_id = ?", botID).Delete(&model.BotConfigRecord{}).Error
}

// BotStateDao 状态快照。mysql做审计流水，redis做最新快照的快速通道。
type BotStateDao struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewBotStateDao(db *gorm.DB, rdb *redis.Client) *BotStateDao {
	return &BotStateDao{db: db, rdb: rdb}
}

func stateKey(botID string) string {
	return consts.BotStatePrefix + botID
}

// Save 先写mysql流水，再写穿redis最新快照
func (d *BotStateDao) Save(ctx context.Context, botID string, state *model.BotRuntimeState) error {
	snapshot, err := model.EncodeSnapshot(state)
	if err != nil {
		return err
	}
	record := model.BotStateRecord{
		BotID:     botID,
		State:     string(state.State),
		Snapshot:  snapshot,
		CreatedAt: time.Now(),
	}
	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	if d.rdb != nil {
		if err := d.rdb.Set(ctx, stateKey(botID), snapshot, consts.RedisExrDefault).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Latest 最新快照，redis优先，miss时回落mysql
func (d *BotStateDao) Latest(ctx context.Context, botID string) (*model.BotRuntimeState, error) {
	if d.rdb != nil {
		raw, err := d.rdb.Get(ctx, stateKey(botID)).Result()
		if err == nil && raw != "" {
			if s, derr := model.DecodeSnapshot(raw); derr == nil {
				return s, nil
			}
		}
	}

	var record model.BotStateRecord
	err := d.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("created_at DESC").
		Limit(1).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	// 过旧的快照视同缺失，避免带着隔夜仓位幻觉恢复
	if time.Since(record.CreatedAt) > 24*time.Hour {
		return nil, gorm.ErrRecordNotFound
	}
	return model.DecodeSnapshot(record.Snapshot)
}

// Purge 清掉某个bot的快照（Remove时调用）
func (d *BotStateDao) Purge(ctx context.Context, botID string) error {
	if d.rdb != nil {
		if err := d.rdb.Del(ctx, stateKey(botID)).Err(); err != nil {
			return err
		}
	}
	return d.db.WithContext(ctx).Where("bot_id = ?", botID).Delete(&model.BotStateRecord{}).Error
}
