package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"price_alert_backend/models"
)

// AlertRegistry persists alert definitions keyed by name.
// Deleting an unknown name is not an error.
type AlertRegistry interface {
	Save(ctx context.Context, alert models.Alert) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]models.Alert, error)
}

// Compile-time checks
var (
	_ AlertRegistry = (*RedisAlertRegistry)(nil)
	_ AlertRegistry = (*GormAlertRegistry)(nil)
	_ AlertRegistry = (*MongoAlertRegistry)(nil)
)

// RedisAlertRegistry keeps definitions as JSON values in one hash, field = name
type RedisAlertRegistry struct {
	client *redis.Client
	key    string
}

func NewRedisAlertRegistry(client *redis.Client, key string) *RedisAlertRegistry {
	return &RedisAlertRegistry{client: client, key: key}
}

func (r *RedisAlertRegistry) Save(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert %q: %w", alert.Name, err)
	}
	return r.client.HSet(ctx, r.key, alert.Name, payload).Err()
}

func (r *RedisAlertRegistry) Delete(ctx context.Context, name string) error {
	return r.client.HDel(ctx, r.key, name).Err()
}

func (r *RedisAlertRegistry) List(ctx context.Context) ([]models.Alert, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(fields))
	for name, payload := range fields {
		var a models.Alert
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("decode alert %q: %w", name, err)
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Name < alerts[j].Name
	})
	return alerts, nil
}

// GormAlertRegistry keeps definitions in the price_alerts table
type GormAlertRegistry struct {
	db *gorm.DB
}

func NewGormAlertRegistry(db *gorm.DB) *GormAlertRegistry {
	return &GormAlertRegistry{db: db}
}

func (r *GormAlertRegistry) Save(ctx context.Context, alert models.Alert) error {
	rec := models.NewAlertRecord(alert)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"high_threshold", "low_threshold", "updated_at"}),
	}).Create(&rec).Error
}

func (r *GormAlertRegistry) Delete(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Where("name = ?", name).Delete(&models.AlertRecord{}).Error
}

func (r *GormAlertRegistry) List(ctx context.Context) ([]models.Alert, error) {
	var recs []models.AlertRecord
	if err := r.db.WithContext(ctx).Order("name").Find(&recs).Error; err != nil {
		return nil, err
	}
	alerts := make([]models.Alert, 0, len(recs))
	for _, rec := range recs {
		alerts = append(alerts, rec.ToAlert())
	}
	return alerts, nil
}
