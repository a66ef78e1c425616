package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pulseboard/internal/alerts"
	"pulseboard/internal/logger"
	"pulseboard/internal/mailer"
	"pulseboard/internal/metrics"
	"pulseboard/internal/models"
	"pulseboard/internal/state"
	"pulseboard/internal/storage"
)

// DeliveryStore is the storage the delivery pass reads and writes
type DeliveryStore interface {
	FindPendingAlerts(ctx context.Context) ([]models.PendingAlert, error)
	UpdateAlert(ctx context.Context, id string, update storage.AlertUpdate) error
}

// DeliveryResult summarises one delivery pass
type DeliveryResult struct {
	PassID    string        `json:"pass_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Pending   int           `json:"pending"`
	Sent      int           `json:"sent"`
	// Alerts without a resolvable owner email or metric card
	Skipped int `json:"skipped"`
	// Deliveries the channel rejected and sent alerts that could not be marked
	Failed int `json:"failed"`
}

// Delivery flushes undelivered alerts through a Deliverer, marking each
// alert sent only after the channel accepted it
type Delivery struct {
	store     DeliveryStore
	deliverer mailer.Deliverer
	product   string

	guard state.RunGuard
	last  lastResult[DeliveryResult]
}

// NewDelivery creates a delivery job. product prefixes every subject line.
func NewDelivery(store DeliveryStore, deliverer mailer.Deliverer, product string) *Delivery {
	if product == "" {
		product = alerts.DefaultProductName
	}
	return &Delivery{
		store:     store,
		deliverer: deliverer,
		product:   product,
	}
}

// Name returns the job name
func (d *Delivery) Name() string { return DeliveryJob }

// Running reports whether a pass is in flight
func (d *Delivery) Running() bool { return d.guard.Held() }

// Last returns the result of the most recent completed pass
func (d *Delivery) Last() (DeliveryResult, bool) { return d.last.get() }

// Run executes one delivery pass. It returns ErrPassInProgress without
// doing anything when another pass is running. A failed pending query
// aborts the pass; a rejected delivery leaves the alert for the next pass.
func (d *Delivery) Run(ctx context.Context) (DeliveryResult, error) {
	started := time.Now()
	if !d.guard.TryAcquire() {
		recordRun(DeliveryJob, started, ErrPassInProgress)
		return DeliveryResult{}, ErrPassInProgress
	}
	defer d.guard.Release()

	res := DeliveryResult{PassID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := logger.WithJob(DeliveryJob, res.PassID)

	err := d.run(ctx, log, &res)
	res.Duration = time.Since(started)
	recordRun(DeliveryJob, started, err)
	if err != nil {
		log.Error().Err(err).Msg("delivery pass aborted")
		return res, err
	}

	d.last.set(res)
	log.Info().
		Int("pending", res.Pending).
		Int("sent", res.Sent).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Dur("duration", res.Duration).
		Msg("delivery pass completed")
	return res, nil
}

func (d *Delivery) run(ctx context.Context, log zerolog.Logger, res *DeliveryResult) error {
	pending, err := d.store.FindPendingAlerts(ctx)
	if err != nil {
		return fmt.Errorf("find pending alerts: %w", err)
	}
	res.Pending = len(pending)
	metrics.PendingAlerts.Set(float64(len(pending)))
	if len(pending) == 0 {
		log.Debug().Msg("no pending alerts")
		return nil
	}

	for _, pa := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("delivery interrupted after %d alerts: %w", res.Sent+res.Skipped+res.Failed, err)
		}

		alertLog := log.With().
			Str("alert_id", pa.ID).
			Str("metric_card", pa.MetricCard).
			Logger()

		if pa.OwnerEmail == "" {
			res.Skipped++
			metrics.AlertsDeliveredTotal.WithLabelValues("skipped").Inc()
			alertLog.Warn().Str("owner", pa.Owner).Msg("owner email not found, skipping alert")
			continue
		}
		if pa.MetricTitle == "" {
			res.Skipped++
			metrics.AlertsDeliveredTotal.WithLabelValues("skipped").Inc()
			alertLog.Warn().Msg("metric card not found, skipping alert")
			continue
		}

		msg := alerts.Render(d.product, pa.Status, pa.MetricTitle, pa.Value, pa.Threshold)
		if !d.deliverer.Deliver(ctx, pa.OwnerEmail, msg.Subject, msg.Body) {
			res.Failed++
			metrics.AlertsDeliveredTotal.WithLabelValues("failed").Inc()
			alertLog.Warn().Msg("alert delivery failed, will retry next pass")
			continue
		}

		if err := d.store.UpdateAlert(ctx, pa.ID, storage.AlertUpdate{Sent: true}); err != nil {
			// The email went out; the alert stays pending and is sent again next pass
			res.Failed++
			metrics.AlertsDeliveredTotal.WithLabelValues("failed").Inc()
			alertLog.Error().Err(err).Msg("alert delivered but not marked sent")
			continue
		}

		res.Sent++
		metrics.AlertsDeliveredTotal.WithLabelValues("sent").Inc()
		alertLog.Info().Str("to", pa.OwnerEmail).Msg("alert delivered")
	}
	return nil
}
