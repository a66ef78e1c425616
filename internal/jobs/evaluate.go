package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pulseboard/internal/alerts"
	"pulseboard/internal/logger"
	"pulseboard/internal/metrics"
	"pulseboard/internal/models"
	"pulseboard/internal/state"
	"pulseboard/internal/storage"
)

// EvaluationStore is the storage the evaluation pass reads and writes
type EvaluationStore interface {
	FindDataSources(ctx context.Context, filter storage.DataSourceFilter) ([]models.DataSource, error)
	FindMetricCards(ctx context.Context, filter storage.MetricCardFilter) ([]models.MetricCard, error)
	UpdateMetricCard(ctx context.Context, id string, update storage.MetricCardUpdate) error
	CreateAlert(ctx context.Context, alert models.Alert) (models.Alert, error)
}

// AlertPublisher receives every alert the evaluation pass creates
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert models.Alert) error
}

// EvaluationResult summarises one evaluation pass
type EvaluationResult struct {
	PassID    string        `json:"pass_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Sources   int           `json:"sources"`
	Cards     int           `json:"cards"`
	Updated   int           `json:"updated"`
	Alerts    int           `json:"alerts"`
	// Cards whose data source was not in the active set
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Evaluator refreshes mock metric values, reclassifies each card and
// records an alert for every card left in a breach state
type Evaluator struct {
	store     EvaluationStore
	gen       alerts.Generator
	publisher AlertPublisher
	now       func() time.Time

	guard state.RunGuard
	last  lastResult[EvaluationResult]
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithPublisher forwards created alerts to p. Publication failures are
// logged and never fail the card.
func WithPublisher(p AlertPublisher) EvaluatorOption {
	return func(e *Evaluator) { e.publisher = p }
}

// WithEvaluationClock overrides the time source used for card and alert timestamps
func WithEvaluationClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluation job
func NewEvaluator(store EvaluationStore, gen alerts.Generator, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store: store,
		gen:   gen,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the job name
func (e *Evaluator) Name() string { return EvaluationJob }

// Running reports whether a pass is in flight
func (e *Evaluator) Running() bool { return e.guard.Held() }

// Last returns the result of the most recent pass that got past its queries
func (e *Evaluator) Last() (EvaluationResult, bool) { return e.last.get() }

// Run executes one evaluation pass. It returns ErrPassInProgress without
// doing anything when another pass is running. Errors from the initial
// queries abort the pass; failures on single cards are counted in the
// result and do not stop the loop.
func (e *Evaluator) Run(ctx context.Context) (EvaluationResult, error) {
	started := time.Now()
	if !e.guard.TryAcquire() {
		recordRun(EvaluationJob, started, ErrPassInProgress)
		return EvaluationResult{}, ErrPassInProgress
	}
	defer e.guard.Release()

	res := EvaluationResult{PassID: uuid.NewString(), StartedAt: e.now()}
	log := logger.WithJob(EvaluationJob, res.PassID)

	err := e.run(ctx, log, &res)
	res.Duration = time.Since(started)
	recordRun(EvaluationJob, started, err)
	if err != nil {
		log.Error().Err(err).Msg("evaluation pass aborted")
		return res, err
	}

	e.last.set(res)
	log.Info().
		Int("sources", res.Sources).
		Int("cards", res.Cards).
		Int("updated", res.Updated).
		Int("alerts", res.Alerts).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Dur("duration", res.Duration).
		Msg("evaluation pass completed")
	return res, nil
}

func (e *Evaluator) run(ctx context.Context, log zerolog.Logger, res *EvaluationResult) error {
	sources, err := e.store.FindDataSources(ctx, storage.DataSourceFilter{
		Active:      storage.Bool(true),
		HasMockData: true,
	})
	if err != nil {
		return fmt.Errorf("find data sources: %w", err)
	}
	res.Sources = len(sources)
	if len(sources) == 0 {
		log.Debug().Msg("no active data sources with mock data")
		return nil
	}

	byID := make(map[string]models.DataSource, len(sources))
	ids := make([]string, 0, len(sources))
	for _, ds := range sources {
		byID[ds.ID] = ds
		ids = append(ids, ds.ID)
	}

	cards, err := e.store.FindMetricCards(ctx, storage.MetricCardFilter{DataSourceIDs: ids})
	if err != nil {
		return fmt.Errorf("find metric cards: %w", err)
	}
	res.Cards = len(cards)

	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("evaluation interrupted after %d cards: %w", res.Updated+res.Skipped+res.Failed, err)
		}

		if _, ok := byID[card.DataSource]; !ok {
			res.Skipped++
			metrics.CardsSkippedTotal.Inc()
			log.Warn().
				Str("metric_card", card.ID).
				Str("data_source", card.DataSource).
				Msg("data source not found, skipping card")
			continue
		}

		if err := e.evaluateCardSafely(ctx, log, card, res); err != nil {
			res.Failed++
			metrics.CardFailuresTotal.Inc()
			log.Error().
				Err(err).
				Str("metric_card", card.ID).
				Msg("failed to evaluate metric card")
		}
	}
	return nil
}

// evaluateCardSafely turns a panic while evaluating card into an error so
// the remaining cards are still evaluated
func (e *Evaluator) evaluateCardSafely(ctx context.Context, log zerolog.Logger, card models.MetricCard, res *EvaluationResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("metric_card", card.ID).
				Msg("metric card panic recovered")
			metrics.PanicsRecovered.WithLabelValues("evaluation").Inc()
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.evaluateCard(ctx, log, card, res)
}

// evaluateCard draws, classifies and persists a new value for card and
// records an alert when the new status is a breach
func (e *Evaluator) evaluateCard(ctx context.Context, log zerolog.Logger, card models.MetricCard, res *EvaluationResult) error {
	now := e.now()
	value := e.gen.NextValue(card.Value, card.Threshold)
	status := alerts.Classify(value, card.Threshold)

	err := e.store.UpdateMetricCard(ctx, card.ID, storage.MetricCardUpdate{
		Value:         value,
		Status:        status,
		LastUpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("update metric card: %w", err)
	}
	res.Updated++
	metrics.CardsUpdatedTotal.Inc()

	if !status.IsBreach() {
		return nil
	}

	alert, err := e.store.CreateAlert(ctx, models.Alert{
		MetricCard:  card.ID,
		Status:      status,
		Value:       value,
		Threshold:   card.Threshold,
		TriggeredAt: now,
		Owner:       card.Owner,
		Sent:        false,
	})
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	res.Alerts++
	metrics.AlertsCreatedTotal.WithLabelValues(string(status)).Inc()

	log.Info().
		Str("metric_card", card.ID).
		Str("alert_id", alert.ID).
		Str("status", string(status)).
		Float64("value", value).
		Float64("threshold", card.Threshold).
		Msg("alert created")

	if e.publisher != nil {
		if err := e.publisher.PublishAlert(ctx, alert); err != nil {
			log.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to publish alert event")
		}
	}
	return nil
}
