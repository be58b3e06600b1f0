package gormstore

import (
	"context"
	"errors"
	"fmt"

	"agentrade/internal/store"
	"agentrade/internal/store/model"

	"gorm.io/gorm"
)

func (s *GormStore) InsertTrade(ctx context.Context, t *store.Trade) error {
	if err := s.ready(); err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("trade 不能为空")
	}
	if t.Quantity <= 0 || t.EntryPrice <= 0 {
		return fmt.Errorf("trade: quantity=%v entry_price=%v 必须为正", t.Quantity, t.EntryPrice)
	}
	if t.EntryTime.IsZero() {
		t.EntryTime = nowUTC()
	}
	m := newTradeModel(*t)
	m.ID = 0
	if err := s.db.WithContext(ctx).Omit("Decision").Create(&m).Error; err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	t.ID = m.ID
	t.Status = store.TradeStatus(m.Status)
	return nil
}

// ListOpenTrades returns OPEN trades of symbol in the given mode with their decision, oldest first.
func (s *GormStore) ListOpenTrades(ctx context.Context, symbol string, simulation bool) ([]store.Trade, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var models []model.TradeModel
	if err := s.db.WithContext(ctx).
		Preload("Decision").
		Where("symbol = ? AND status = ? AND is_simulation = ?", normalizeSymbol(symbol), string(store.TradeStatusOpen), simulation).
		Order("entry_time ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

// CloseTrade writes every close field in one UPDATE guarded by status=OPEN.
func (s *GormStore) CloseTrade(ctx context.Context, id uint, fill store.TradeFill) error {
	if err := s.ready(); err != nil {
		return err
	}
	exitTime := fill.ExitTime
	if exitTime.IsZero() {
		exitTime = nowUTC()
	}
	res := s.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Where("id = ? AND status = ?", id, string(store.TradeStatusOpen)).
		Updates(map[string]any{
			"status":          string(store.TradeStatusClosed),
			"exit_price":      fill.ExitPrice,
			"exit_time":       exitTime,
			"profit_loss":     fill.ProfitLoss,
			"profit_loss_pct": fill.ProfitLossPct,
			"close_reason":    fill.Reason,
		})
	if res.Error != nil {
		return fmt.Errorf("close trade %d: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var existing model.TradeModel
	if err := s.db.WithContext(ctx).Select("id").First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	return store.ErrTradeNotOpen
}

func (s *GormStore) ListTrades(ctx context.Context, f store.TradeFilter) ([]store.Trade, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Model(&model.TradeModel{}).Preload("Decision")
	if sym := normalizeSymbol(f.Symbol); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	if f.Status != "" {
		query = query.Where("status = ?", string(f.Status))
	}
	var models []model.TradeModel
	if err := query.
		Order("entry_time DESC, id DESC").
		Limit(store.ClampLimit(f.Limit, 1000)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToRecord(m))
	}
	return out, nil
}

func (s *GormStore) TradeStats(ctx context.Context) (store.TradeStats, error) {
	var stats store.TradeStats
	if err := s.ready(); err != nil {
		return stats, err
	}
	db := s.db.WithContext(ctx).Model(&model.TradeModel{})
	closed := string(store.TradeStatusClosed)
	if err := db.Session(&gorm.Session{}).Count(&stats.TotalTrades).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).Where("status = ?", string(store.TradeStatusOpen)).Count(&stats.OpenTrades).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).Where("status = ?", closed).Count(&stats.ClosedTrades).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).Where("status = ? AND profit_loss > 0", closed).Count(&stats.Wins).Error; err != nil {
		return stats, err
	}
	if err := db.Session(&gorm.Session{}).Where("status = ? AND profit_loss <= 0", closed).Count(&stats.Losses).Error; err != nil {
		return stats, err
	}
	var total float64
	if err := db.Session(&gorm.Session{}).
		Where("status = ? AND profit_loss IS NOT NULL", closed).
		Select("COALESCE(SUM(profit_loss), 0)").
		Scan(&total).Error; err != nil {
		return stats, err
	}
	stats.TotalProfitLoss = total
	return stats, nil
}
