package gormstore

import (
	"context"
	"fmt"
	"strings"

	"agentrade/internal/store"
	"agentrade/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *GormStore) AppendLog(ctx context.Context, e *store.LogEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = nowUTC()
	}
	m := model.SystemLogModel{
		Timestamp: e.Timestamp,
		Level:     strings.ToUpper(e.Level),
		Component: e.Component,
		Message:   e.Message,
	}
	if e.Details != "" {
		m.Details = datatypes.JSON(e.Details)
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	e.ID = m.ID
	return nil
}

func (s *GormStore) ListLogs(ctx context.Context, f store.LogFilter) ([]store.LogEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Model(&model.SystemLogModel{})
	if lvl := strings.ToUpper(strings.TrimSpace(f.Level)); lvl != "" {
		query = query.Where("level = ?", lvl)
	}
	if comp := strings.TrimSpace(f.Component); comp != "" {
		query = query.Where("component = ?", comp)
	}
	var models []model.SystemLogModel
	if err := query.
		Order("timestamp DESC, id DESC").
		Limit(store.ClampLimit(f.Limit, 1000)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.LogEntry, 0, len(models))
	for _, m := range models {
		out = append(out, logModelToRecord(m))
	}
	return out, nil
}

// ClearLogs deletes every system log row and reports how many were removed.
func (s *GormStore) ClearLogs(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&model.SystemLogModel{})
	return res.RowsAffected, res.Error
}
