package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulseboard/internal/alerts"
	"pulseboard/internal/models"
)

// MemoryStore keeps every collection in process memory. Collections are
// returned in insertion order and callers always receive copies.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	users       map[string]models.User
	dataSources map[string]models.DataSource
	cards       map[string]models.MetricCard
	alerts      map[string]models.Alert

	// insertion order per collection
	dataSourceOrder []string
	cardOrder       []string
	alertOrder      []string

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]models.User),
		dataSources: make(map[string]models.DataSource),
		cards:       make(map[string]models.MetricCard),
		alerts:      make(map[string]models.Alert),
		now:         time.Now,
	}
}

func (s *MemoryStore) FindDataSources(ctx context.Context, filter DataSourceFilter) ([]models.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []models.DataSource
	for _, id := range s.dataSourceOrder {
		ds, ok := s.dataSources[id]
		if !ok {
			continue
		}
		if filter.Active != nil && ds.IsActive != *filter.Active {
			continue
		}
		if filter.HasMockData && !ds.HasMockData() {
			continue
		}
		if filter.Owner != "" && ds.Owner != filter.Owner {
			continue
		}
		out = append(out, copyDataSource(ds))
	}
	return out, nil
}

func (s *MemoryStore) FindMetricCards(ctx context.Context, filter MetricCardFilter) ([]models.MetricCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []models.MetricCard
	for _, id := range s.cardOrder {
		card, ok := s.cards[id]
		if !ok {
			continue
		}
		if filter.DataSourceIDs != nil && !slices.Contains(filter.DataSourceIDs, card.DataSource) {
			continue
		}
		if filter.Owner != "" && card.Owner != filter.Owner {
			continue
		}
		out = append(out, card)
	}
	return out, nil
}

func (s *MemoryStore) UpdateMetricCard(ctx context.Context, id string, update MetricCardUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	card, ok := s.cards[id]
	if !ok {
		return fmt.Errorf("metric card %s: %w", id, ErrNotFound)
	}
	card.Value = update.Value
	card.Status = update.Status
	card.LastUpdatedAt = update.LastUpdatedAt
	s.cards[id] = card
	return nil
}

func (s *MemoryStore) CreateAlert(ctx context.Context, alert models.Alert) (models.Alert, error) {
	if err := alert.Validate(); err != nil {
		return models.Alert{}, fmt.Errorf("alert: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return models.Alert{}, err
	}

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if _, exists := s.alerts[alert.ID]; exists {
		return models.Alert{}, fmt.Errorf("alert %s: %w", alert.ID, ErrConflict)
	}
	s.alerts[alert.ID] = alert
	s.alertOrder = append(s.alertOrder, alert.ID)
	return alert, nil
}

func (s *MemoryStore) FindPendingAlerts(ctx context.Context) ([]models.PendingAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []models.PendingAlert
	for _, id := range s.alertOrder {
		alert := s.alerts[id]
		if alert.Sent {
			continue
		}
		pending := models.PendingAlert{Alert: alert}
		if card, ok := s.cards[alert.MetricCard]; ok {
			pending.MetricTitle = card.Title
		}
		if user, ok := s.users[alert.Owner]; ok {
			pending.OwnerEmail = user.Email
			pending.OwnerName = user.Name
		}
		out = append(out, pending)
	}
	return out, nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, id string, update AlertUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	alert, ok := s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	alert.Sent = update.Sent
	s.alerts[id] = alert
	return nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user.Normalize()
	if err := user.Validate(); err != nil {
		return models.User{}, fmt.Errorf("user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return models.User{}, err
	}

	for _, u := range s.users {
		if u.Email == user.Email {
			return models.User{}, fmt.Errorf("user %s: %w", user.Email, ErrConflict)
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, exists := s.users[user.ID]; exists {
		return models.User{}, fmt.Errorf("user %s: %w", user.ID, ErrConflict)
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) CreateDataSource(ctx context.Context, ds models.DataSource) (models.DataSource, error) {
	ds.Normalize()
	if err := ds.Validate(); err != nil {
		return models.DataSource{}, fmt.Errorf("data source: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return models.DataSource{}, err
	}

	for _, existing := range s.dataSources {
		if existing.Owner == ds.Owner && existing.Name == ds.Name {
			return models.DataSource{}, fmt.Errorf("data source %q: %w", ds.Name, ErrConflict)
		}
	}
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = s.now().UTC()
	}
	ds = copyDataSource(ds)
	s.dataSources[ds.ID] = ds
	s.dataSourceOrder = append(s.dataSourceOrder, ds.ID)
	return copyDataSource(ds), nil
}

func (s *MemoryStore) CreateMetricCard(ctx context.Context, card models.MetricCard) (models.MetricCard, error) {
	card.Normalize()
	if err := card.Validate(); err != nil {
		return models.MetricCard{}, fmt.Errorf("metric card: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return models.MetricCard{}, err
	}

	if _, ok := s.dataSources[card.DataSource]; !ok {
		return models.MetricCard{}, fmt.Errorf("data source %s: %w", card.DataSource, ErrNotFound)
	}
	for _, existing := range s.cards {
		if existing.Owner == card.Owner && existing.DataSource == card.DataSource && existing.Title == card.Title {
			return models.MetricCard{}, fmt.Errorf("metric card %q: %w", card.Title, ErrConflict)
		}
	}
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	if _, exists := s.cards[card.ID]; exists {
		return models.MetricCard{}, fmt.Errorf("metric card %s: %w", card.ID, ErrConflict)
	}
	card.Status = alerts.Classify(card.Value, card.Threshold)
	if card.LastUpdatedAt.IsZero() {
		card.LastUpdatedAt = s.now().UTC()
	}
	s.cards[card.ID] = card
	s.cardOrder = append(s.cardOrder, card.ID)
	return card, nil
}

func (s *MemoryStore) GetMetricCard(ctx context.Context, id string) (models.MetricCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return models.MetricCard{}, err
	}

	card, ok := s.cards[id]
	if !ok {
		return models.MetricCard{}, fmt.Errorf("metric card %s: %w", id, ErrNotFound)
	}
	return card, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return models.Alert{}, err
	}

	alert, ok := s.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return alert, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []models.Alert
	for _, id := range s.alertOrder {
		alert := s.alerts[id]
		if filter.MetricCard != "" && alert.MetricCard != filter.MetricCard {
			continue
		}
		if filter.Sent != nil && alert.Sent != *filter.Sent {
			continue
		}
		out = append(out, alert)
	}
	return out, nil
}

func (s *MemoryStore) DeleteDataSource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	if _, ok := s.dataSources[id]; !ok {
		return fmt.Errorf("data source %s: %w", id, ErrNotFound)
	}
	delete(s.dataSources, id)
	s.dataSourceOrder = slices.DeleteFunc(s.dataSourceOrder, func(v string) bool { return v == id })
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check must be called with the lock held
func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// copyDataSource detaches the mock payload map from the stored record
func copyDataSource(ds models.DataSource) models.DataSource {
	if ds.MockData != nil {
		mock := make(map[string]any, len(ds.MockData))
		for k, v := range ds.MockData {
			mock[k] = v
		}
		ds.MockData = mock
	}
	if ds.LastUpdatedAt != nil {
		t := *ds.LastUpdatedAt
		ds.LastUpdatedAt = &t
	}
	return ds
}
