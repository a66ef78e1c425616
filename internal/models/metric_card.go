package models

import (
	"strings"
	"time"
)

// MetricCard is a monitored numeric quantity with a severity threshold
type MetricCard struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	DataSource string  `json:"data_source"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Threshold  float64 `json:"threshold"`

	// Always the classification of (Value, Threshold) once committed
	Status Status `json:"status"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
	Owner         string    `json:"owner"`
}

// Normalize trims string fields
func (c *MetricCard) Normalize() {
	c.Title = strings.TrimSpace(c.Title)
	c.Unit = strings.TrimSpace(c.Unit)
}

// Validate checks if the MetricCard has all required fields and valid values
func (c *MetricCard) Validate() error {
	if c.Title == "" {
		return ErrEmptyTitle
	}
	if c.DataSource == "" {
		return ErrEmptyDataSource
	}
	if c.Owner == "" {
		return ErrEmptyOwner
	}
	if c.Status != "" && !c.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}
