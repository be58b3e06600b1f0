package gormstore

import (
	"context"
	"fmt"

	"agentrade/internal/store"
	"agentrade/internal/store/model"

	"gorm.io/gorm"
)

func (s *GormStore) InsertDecision(ctx context.Context, d *store.Decision) error {
	if err := s.ready(); err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("decision 不能为空")
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = nowUTC()
	}
	m := newDecisionModel(*d)
	m.ID = 0
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	d.ID = m.ID
	return nil
}

// AnnotateDecision appends note to the stored reasoning.
func (s *GormStore) AnnotateDecision(ctx context.Context, id uint, note string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&model.DecisionModel{}).
		Where("id = ?", id).
		Update("reasoning", gorm.Expr("COALESCE(reasoning, '') || ?", note))
	if res.Error != nil {
		return fmt.Errorf("annotate decision %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GormStore) MarkDecisionExecuted(ctx context.Context, id uint) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&model.DecisionModel{}).
		Where("id = ?", id).
		Update("executed", true)
	if res.Error != nil {
		return fmt.Errorf("mark decision %d executed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GormStore) ListDecisions(ctx context.Context, f store.DecisionFilter) ([]store.Decision, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Model(&model.DecisionModel{})
	if sym := normalizeSymbol(f.Symbol); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	var models []model.DecisionModel
	if err := query.
		Order("timestamp DESC, id DESC").
		Limit(store.ClampLimit(f.Limit, 1000)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Decision, 0, len(models))
	for _, m := range models {
		out = append(out, decisionModelToRecord(m))
	}
	return out, nil
}
