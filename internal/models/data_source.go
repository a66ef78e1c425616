package models

import (
	"errors"
	"strings"
	"time"
)

// DataSourceType identifies what kind of feed a data source represents
type DataSourceType string

const (
	DataSourceDatabase DataSourceType = "database"
	DataSourceAPI      DataSourceType = "api"
	DataSourceFile     DataSourceType = "file"
)

// DefaultUpdateFrequency is the refresh period in minutes used when none is set
const DefaultUpdateFrequency = 15

// IsValid checks if the data source type is supported
func (t DataSourceType) IsValid() bool {
	switch t {
	case DataSourceDatabase, DataSourceAPI, DataSourceFile:
		return true
	default:
		return false
	}
}

// DataSource identifies a feed that metric cards are generated against
type DataSource struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        DataSourceType `json:"type"`
	Endpoint    string         `json:"endpoint"`

	// Refresh period in minutes
	UpdateFrequency int `json:"update_frequency"`

	IsActive bool   `json:"is_active"`
	Owner    string `json:"owner"`

	// Opaque generation seed; an empty payload excludes the source from evaluation
	MockData map[string]any `json:"mock_data,omitempty"`

	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Validation errors
var (
	ErrEmptyName         = errors.New("name cannot be empty")
	ErrEmptyEndpoint     = errors.New("endpoint cannot be empty")
	ErrInvalidSourceType = errors.New("invalid data source type")
	ErrEmptyOwner        = errors.New("owner cannot be empty")
	ErrInvalidFrequency  = errors.New("update frequency must be positive")
	ErrEmptyTitle        = errors.New("title cannot be empty")
	ErrEmptyDataSource   = errors.New("data source reference cannot be empty")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrNotBreach         = errors.New("alert status must be warning or critical")
	ErrEmptyMetricCard   = errors.New("metric card reference cannot be empty")
	ErrZeroTriggeredAt   = errors.New("triggered at cannot be zero")
	ErrInvalidEmail      = errors.New("invalid email address")
)

// HasMockData reports whether the source carries a non-empty mock payload
func (d *DataSource) HasMockData() bool {
	return len(d.MockData) > 0
}

// Normalize trims string fields and applies defaults
func (d *DataSource) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.Endpoint = strings.TrimSpace(d.Endpoint)
	d.Type = DataSourceType(strings.ToLower(strings.TrimSpace(string(d.Type))))
	if d.UpdateFrequency == 0 {
		d.UpdateFrequency = DefaultUpdateFrequency
	}
}

// Validate checks if the DataSource has all required fields and valid values
func (d *DataSource) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}
	if !d.Type.IsValid() {
		return ErrInvalidSourceType
	}
	if d.Endpoint == "" {
		return ErrEmptyEndpoint
	}
	if d.UpdateFrequency <= 0 {
		return ErrInvalidFrequency
	}
	if d.Owner == "" {
		return ErrEmptyOwner
	}
	return nil
}
