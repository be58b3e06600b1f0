package gormstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"agentrade/internal/store"
	"agentrade/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *GormStore) GetConfig(ctx context.Context, key string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	var m model.ConfigurationModel
	err := s.db.WithContext(ctx).Where("config_key = ?", strings.TrimSpace(key)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return m.Value, nil
}

func (s *GormStore) ListConfig(ctx context.Context) ([]store.ConfigEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var models []model.ConfigurationModel
	if err := s.db.WithContext(ctx).Order("config_key ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.ConfigEntry, 0, len(models))
	for _, m := range models {
		out = append(out, store.ConfigEntry{Key: m.Key, Value: m.Value, UpdatedAt: m.UpdatedAt})
	}
	return out, nil
}

// SaveConfig upserts every key in one statement.
func (s *GormStore) SaveConfig(ctx context.Context, values map[string]string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	now := nowUTC()
	models := make([]model.ConfigurationModel, 0, len(keys))
	for _, k := range keys {
		models = append(models, model.ConfigurationModel{
			Key:       strings.TrimSpace(k),
			Value:     values[k],
			UpdatedAt: now,
		})
	}
	if len(models) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"config_value", "updated_at"}),
		}).
		Create(&models).Error
}
