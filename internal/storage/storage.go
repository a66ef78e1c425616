package storage

import (
	"context"
	"errors"
	"time"

	"pulseboard/internal/models"
)

// Storage errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	ErrClosed   = errors.New("store is closed")
)

// DataSourceFilter selects data sources. Zero fields do not constrain.
type DataSourceFilter struct {
	// Equality on the active flag when non-nil
	Active *bool
	// Only sources whose mock payload is present and non-empty
	HasMockData bool
	Owner       string
}

// MetricCardFilter selects metric cards
type MetricCardFilter struct {
	// When non-nil, restricts to cards of these sources; empty matches nothing
	DataSourceIDs []string
	Owner         string
}

// AlertFilter selects alerts. Zero fields do not constrain.
type AlertFilter struct {
	MetricCard string
	Sent       *bool
}

// MetricCardUpdate is the set of fields written by one evaluation step
type MetricCardUpdate struct {
	Value         float64
	Status        models.Status
	LastUpdatedAt time.Time
}

// AlertUpdate carries the only mutable alert field
type AlertUpdate struct {
	Sent bool
}

// Store is the document-style persistence the pipeline runs against.
// No operation is transactional with another.
type Store interface {
	FindDataSources(ctx context.Context, filter DataSourceFilter) ([]models.DataSource, error)
	FindMetricCards(ctx context.Context, filter MetricCardFilter) ([]models.MetricCard, error)
	UpdateMetricCard(ctx context.Context, id string, update MetricCardUpdate) error
	CreateAlert(ctx context.Context, alert models.Alert) (models.Alert, error)
	// FindPendingAlerts returns unsent alerts in insertion order, expanded
	// with metric title and owner contact fields
	FindPendingAlerts(ctx context.Context) ([]models.PendingAlert, error)
	UpdateAlert(ctx context.Context, id string, update AlertUpdate) error

	CreateUser(ctx context.Context, user models.User) (models.User, error)
	CreateDataSource(ctx context.Context, ds models.DataSource) (models.DataSource, error)
	CreateMetricCard(ctx context.Context, card models.MetricCard) (models.MetricCard, error)
	GetMetricCard(ctx context.Context, id string) (models.MetricCard, error)
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	DeleteDataSource(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Bool returns a pointer to b, for filter fields
func Bool(b bool) *bool { return &b }
