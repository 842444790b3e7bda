package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alert is a named price threshold pair. Name is the only identity.
type Alert struct {
	Name          string  `json:"name" bson:"_id"`
	HighThreshold float64 `json:"highThreshold" bson:"high_threshold"`
	LowThreshold  float64 `json:"lowThreshold" bson:"low_threshold"`
}

// AlertRequest is the inbound shape for registering an alert. Name is a
// single path segment so DELETE /alerts/:name can always address it.
type AlertRequest struct {
	Name          string   `json:"name" binding:"required,excludes=/"`
	HighThreshold *float64 `json:"highThreshold" binding:"required"`
	LowThreshold  *float64 `json:"lowThreshold" binding:"required"`
}

// ToAlert converts a bound request into an Alert
func (r AlertRequest) ToAlert() Alert {
	return Alert{
		Name:          r.Name,
		HighThreshold: *r.HighThreshold,
		LowThreshold:  *r.LowThreshold,
	}
}

// Breach describes which threshold, if any, a price crossed
type Breach int

const (
	BreachNone Breach = iota
	BreachCeiling
	BreachFloor
)

func (b Breach) String() string {
	switch b {
	case BreachCeiling:
		return "ceiling"
	case BreachFloor:
		return "floor"
	default:
		return "none"
	}
}

// Check compares price against the alert thresholds. Both bounds are strict.
func (a Alert) Check(price decimal.Decimal) Breach {
	if price.GreaterThan(decimal.NewFromFloat(a.HighThreshold)) {
		return BreachCeiling
	}
	if price.LessThan(decimal.NewFromFloat(a.LowThreshold)) {
		return BreachFloor
	}
	return BreachNone
}

// Message renders the human-readable notification for a breach
func (a Alert) Message(b Breach, price decimal.Decimal) string {
	switch b {
	case BreachCeiling:
		return fmt.Sprintf("🚨 %s: price above ceiling %s (current %s)",
			a.Name, decimal.NewFromFloat(a.HighThreshold).String(), price.String())
	case BreachFloor:
		return fmt.Sprintf("🚨 %s: price below floor %s (current %s)",
			a.Name, decimal.NewFromFloat(a.LowThreshold).String(), price.String())
	default:
		return ""
	}
}

// AlertRecord is the SQL row for a persisted alert definition
type AlertRecord struct {
	Name          string    `gorm:"primaryKey;size:255"`
	HighThreshold float64   `gorm:"not null"`
	LowThreshold  float64   `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (AlertRecord) TableName() string {
	return "price_alerts"
}

// NewAlertRecord maps an Alert to its SQL row
func NewAlertRecord(a Alert) AlertRecord {
	return AlertRecord{
		Name:          a.Name,
		HighThreshold: a.HighThreshold,
		LowThreshold:  a.LowThreshold,
	}
}

// ToAlert maps a SQL row back to an Alert
func (r AlertRecord) ToAlert() Alert {
	return Alert{
		Name:          r.Name,
		HighThreshold: r.HighThreshold,
		LowThreshold:  r.LowThreshold,
	}
}

// MigrateAlertModels runs migrations for alert models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(&AlertRecord{})
}
