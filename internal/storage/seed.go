package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"pulseboard/internal/logger"
	"pulseboard/internal/models"
)

// SeedDocument is the YAML layout accepted by Seed
type SeedDocument struct {
	Users       []SeedUser       `yaml:"users"`
	DataSources []SeedDataSource `yaml:"data_sources"`
	MetricCards []SeedMetricCard `yaml:"metric_cards"`
}

// SeedUser is one entry of the users list
type SeedUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// SeedDataSource is one entry of the data_sources list. is_active defaults to true.
type SeedDataSource struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description"`
	Type            string         `yaml:"type"`
	Endpoint        string         `yaml:"endpoint"`
	UpdateFrequency int            `yaml:"update_frequency"`
	IsActive        *bool          `yaml:"is_active"`
	Owner           string         `yaml:"owner"`
	MockData        map[string]any `yaml:"mock_data"`
}

// SeedMetricCard is one entry of the metric_cards list; its status is derived from value and threshold
type SeedMetricCard struct {
	ID         string  `yaml:"id"`
	Title      string  `yaml:"title"`
	DataSource string  `yaml:"data_source"`
	Value      float64 `yaml:"value"`
	Unit       string  `yaml:"unit"`
	Threshold  float64 `yaml:"threshold"`
	Owner      string  `yaml:"owner"`
}

// SeedResult counts what Seed wrote
type SeedResult struct {
	Users       int
	DataSources int
	MetricCards int
	// Records that already existed
	Existing int
}

// Seed loads a YAML document into store. Records that already exist are
// left untouched, so seeding the same file twice is harmless. Existence is
// judged by ID or by the natural key of each record: email for users, owner
// and name for data sources, owner, data source and title for metric cards.
func Seed(ctx context.Context, store Store, r io.Reader) (SeedResult, error) {
	var doc SeedDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return SeedResult{}, fmt.Errorf("decode seed: %w", err)
	}

	log := logger.WithComponent("seed")
	var res SeedResult

	for _, u := range doc.Users {
		_, err := store.CreateUser(ctx, models.User{ID: u.ID, Name: u.Name, Email: u.Email})
		if err = res.note(err, &res.Users); err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}

	for _, d := range doc.DataSources {
		active := true
		if d.IsActive != nil {
			active = *d.IsActive
		}
		_, err := store.CreateDataSource(ctx, models.DataSource{
			ID:              d.ID,
			Name:            d.Name,
			Description:     d.Description,
			Type:            models.DataSourceType(d.Type),
			Endpoint:        d.Endpoint,
			UpdateFrequency: d.UpdateFrequency,
			IsActive:        active,
			Owner:           d.Owner,
			MockData:        d.MockData,
		})
		if err = res.note(err, &res.DataSources); err != nil {
			return res, fmt.Errorf("seed data source %s: %w", d.Name, err)
		}
	}

	for _, c := range doc.MetricCards {
		_, err := store.CreateMetricCard(ctx, models.MetricCard{
			ID:         c.ID,
			Title:      c.Title,
			DataSource: c.DataSource,
			Value:      c.Value,
			Unit:       c.Unit,
			Threshold:  c.Threshold,
			Owner:      c.Owner,
		})
		if err = res.note(err, &res.MetricCards); err != nil {
			return res, fmt.Errorf("seed metric card %s: %w", c.Title, err)
		}
	}

	log.Info().
		Int("users", res.Users).
		Int("data_sources", res.DataSources).
		Int("metric_cards", res.MetricCards).
		Int("existing", res.Existing).
		Msg("seed loaded")

	return res, nil
}

// note counts a create outcome, absorbing conflicts
func (r *SeedResult) note(err error, created *int) error {
	switch {
	case err == nil:
		*created++
		return nil
	case errors.Is(err, ErrConflict):
		r.Existing++
		return nil
	default:
		return err
	}
}
