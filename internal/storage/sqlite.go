package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pulseboard/internal/alerts"
	"pulseboard/internal/models"
)

// SQLiteStore persists every collection in a single SQLite database file
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// OpenSQLite opens (or creates) the database at dbPath and runs migrations
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &SQLiteStore{db: db, dbPath: dbPath, now: time.Now}, nil
}

// DBPath returns the database file path
func (s *SQLiteStore) DBPath() string { return s.dbPath }

func (s *SQLiteStore) FindDataSources(ctx context.Context, filter DataSourceFilter) ([]models.DataSource, error) {
	var (
		where []string
		args  []any
	)
	if filter.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, boolToInt(*filter.Active))
	}
	if filter.HasMockData {
		where = append(where, "mock_data NOT IN ('', '{}', 'null')")
	}
	if filter.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, filter.Owner)
	}

	query := `SELECT id, name, description, type, endpoint, update_frequency, is_active,
		owner, mock_data, last_updated_at, created_at FROM data_sources`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query data sources: %w", err)
	}
	defer rows.Close()

	var result []models.DataSource
	for rows.Next() {
		var (
			ds          models.DataSource
			active      int
			mock        string
			lastUpdated sql.NullInt64
			created     int64
		)
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Description, &ds.Type, &ds.Endpoint,
			&ds.UpdateFrequency, &active, &ds.Owner, &mock, &lastUpdated, &created); err != nil {
			return nil, err
		}
		ds.IsActive = active != 0
		if err := json.Unmarshal([]byte(mock), &ds.MockData); err != nil {
			return nil, fmt.Errorf("data source %s mock data: %w", ds.ID, err)
		}
		if lastUpdated.Valid {
			t := fromUnixNano(lastUpdated.Int64)
			ds.LastUpdatedAt = &t
		}
		ds.CreatedAt = fromUnixNano(created)
		result = append(result, ds)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) FindMetricCards(ctx context.Context, filter MetricCardFilter) ([]models.MetricCard, error) {
	var (
		where []string
		args  []any
	)
	if filter.DataSourceIDs != nil {
		if len(filter.DataSourceIDs) == 0 {
			return nil, nil
		}
		placeholders := make([]string, len(filter.DataSourceIDs))
		for i, id := range filter.DataSourceIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, fmt.Sprintf("data_source IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, filter.Owner)
	}

	query := `SELECT id, title, data_source, value, unit, threshold, status, last_updated_at, owner
		FROM metric_cards`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metric cards: %w", err)
	}
	defer rows.Close()

	var result []models.MetricCard
	for rows.Next() {
		card, err := scanMetricCard(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, card)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateMetricCard(ctx context.Context, id string, update MetricCardUpdate) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE metric_cards SET value = ?, status = ?, last_updated_at = ? WHERE id = ?",
		update.Value, string(update.Status), update.LastUpdatedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update metric card %s: %w", id, err)
	}
	return requireAffected(res, "metric card", id)
}

func (s *SQLiteStore) CreateAlert(ctx context.Context, alert models.Alert) (models.Alert, error) {
	if err := alert.Validate(); err != nil {
		return models.Alert{}, fmt.Errorf("alert: %w", err)
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO alerts
		(id, metric_card, status, value, threshold, triggered_at, owner, sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.MetricCard, string(alert.Status), alert.Value, alert.Threshold,
		alert.TriggeredAt.UnixNano(), alert.Owner, boolToInt(alert.Sent))
	if err != nil {
		return models.Alert{}, insertError("alert", alert.ID, err)
	}
	return alert, nil
}

func (s *SQLiteStore) FindPendingAlerts(ctx context.Context) ([]models.PendingAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.metric_card, a.status, a.value, a.threshold, a.triggered_at, a.owner, a.sent,
			COALESCE(m.title, ''), COALESCE(u.email, ''), COALESCE(u.name, '')
		FROM alerts a
		LEFT JOIN metric_cards m ON m.id = a.metric_card
		LEFT JOIN users u ON u.id = a.owner
		WHERE a.sent = 0
		ORDER BY a.rowid`)
	if err != nil {
		return nil, fmt.Errorf("query pending alerts: %w", err)
	}
	defer rows.Close()

	var result []models.PendingAlert
	for rows.Next() {
		var (
			p         models.PendingAlert
			triggered int64
			sent      int
		)
		if err := rows.Scan(&p.ID, &p.MetricCard, &p.Status, &p.Value, &p.Threshold, &triggered,
			&p.Owner, &sent, &p.MetricTitle, &p.OwnerEmail, &p.OwnerName); err != nil {
			return nil, err
		}
		p.TriggeredAt = fromUnixNano(triggered)
		p.Sent = sent != 0
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateAlert(ctx context.Context, id string, update AlertUpdate) error {
	res, err := s.db.ExecContext(ctx, "UPDATE alerts SET sent = ? WHERE id = ?", boolToInt(update.Sent), id)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	return requireAffected(res, "alert", id)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user.Normalize()
	if err := user.Validate(); err != nil {
		return models.User{}, fmt.Errorf("user: %w", err)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, "INSERT INTO users (id, name, email) VALUES (?, ?, ?)",
		user.ID, user.Name, user.Email)
	if err != nil {
		return models.User{}, insertError("user", user.Email, err)
	}
	return user, nil
}

func (s *SQLiteStore) CreateDataSource(ctx context.Context, ds models.DataSource) (models.DataSource, error) {
	ds.Normalize()
	if err := ds.Validate(); err != nil {
		return models.DataSource{}, fmt.Errorf("data source: %w", err)
	}
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = s.now().UTC()
	}

	mock := []byte("{}")
	if ds.MockData != nil {
		var err error
		if mock, err = json.Marshal(ds.MockData); err != nil {
			return models.DataSource{}, fmt.Errorf("data source mock data: %w", err)
		}
	}
	var lastUpdated sql.NullInt64
	if ds.LastUpdatedAt != nil {
		lastUpdated = sql.NullInt64{Int64: ds.LastUpdatedAt.UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO data_sources
		(id, name, description, type, endpoint, update_frequency, is_active, owner, mock_data, last_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Description, string(ds.Type), ds.Endpoint, ds.UpdateFrequency,
		boolToInt(ds.IsActive), ds.Owner, string(mock), lastUpdated, ds.CreatedAt.UnixNano())
	if err != nil {
		return models.DataSource{}, insertError("data source", ds.Name, err)
	}
	return ds, nil
}

func (s *SQLiteStore) CreateMetricCard(ctx context.Context, card models.MetricCard) (models.MetricCard, error) {
	card.Normalize()
	if err := card.Validate(); err != nil {
		return models.MetricCard{}, fmt.Errorf("metric card: %w", err)
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM data_sources WHERE id = ?", card.DataSource).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MetricCard{}, fmt.Errorf("data source %s: %w", card.DataSource, ErrNotFound)
	}
	if err != nil {
		return models.MetricCard{}, fmt.Errorf("lookup data source %s: %w", card.DataSource, err)
	}

	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	card.Status = alerts.Classify(card.Value, card.Threshold)
	if card.LastUpdatedAt.IsZero() {
		card.LastUpdatedAt = s.now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO metric_cards
		(id, title, data_source, value, unit, threshold, status, last_updated_at, owner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.Title, card.DataSource, card.Value, card.Unit, card.Threshold,
		string(card.Status), card.LastUpdatedAt.UnixNano(), card.Owner)
	if err != nil {
		return models.MetricCard{}, insertError("metric card", card.ID, err)
	}
	return card, nil
}

func (s *SQLiteStore) GetMetricCard(ctx context.Context, id string) (models.MetricCard, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, data_source, value, unit, threshold, status,
		last_updated_at, owner FROM metric_cards WHERE id = ?`, id)
	card, err := scanMetricCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MetricCard{}, fmt.Errorf("metric card %s: %w", id, ErrNotFound)
	}
	return card, err
}

func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, metric_card, status, value, threshold, triggered_at,
		owner, sent FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return alert, err
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.MetricCard != "" {
		where = append(where, "metric_card = ?")
		args = append(args, filter.MetricCard)
	}
	if filter.Sent != nil {
		where = append(where, "sent = ?")
		args = append(args, boolToInt(*filter.Sent))
	}

	query := `SELECT id, metric_card, status, value, threshold, triggered_at, owner, sent FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var result []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, alert)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteDataSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM data_sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete data source %s: %w", id, err)
	}
	return requireAffected(res, "data source", id)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetricCard(row scanner) (models.MetricCard, error) {
	var (
		card    models.MetricCard
		updated int64
	)
	if err := row.Scan(&card.ID, &card.Title, &card.DataSource, &card.Value, &card.Unit,
		&card.Threshold, &card.Status, &updated, &card.Owner); err != nil {
		return models.MetricCard{}, err
	}
	card.LastUpdatedAt = fromUnixNano(updated)
	return card, nil
}

func scanAlert(row scanner) (models.Alert, error) {
	var (
		alert     models.Alert
		triggered int64
		sent      int
	)
	if err := row.Scan(&alert.ID, &alert.MetricCard, &alert.Status, &alert.Value, &alert.Threshold,
		&triggered, &alert.Owner, &sent); err != nil {
		return models.Alert{}, err
	}
	alert.TriggeredAt = fromUnixNano(triggered)
	alert.Sent = sent != 0
	return alert, nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func insertError(kind, key string, err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s %s: %w", kind, key, ErrConflict)
	}
	return fmt.Errorf("insert %s %s: %w", kind, key, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
