package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/alerts"
	"pulseboard/internal/jobs"
	"pulseboard/internal/models"
	"pulseboard/internal/state"
	"pulseboard/internal/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// sequenceGen returns the queued values in order, then repeats the last one
type sequenceGen struct {
	mu     sync.Mutex
	values []float64
}

func (g *sequenceGen) NextValue(_, _ float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.values[0]
	if len(g.values) > 1 {
		g.values = g.values[1:]
	}
	return v
}

type delivery struct {
	to, subject, body string
}

type fakeDeliverer struct {
	mu    sync.Mutex
	ok    bool
	calls []delivery
}

func (d *fakeDeliverer) Deliver(_ context.Context, to, subject, body string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, delivery{to, subject, body})
	return d.ok
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	alerts []models.Alert
}

func (p *fakePublisher) PublishAlert(_ context.Context, a models.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
	return p.err
}

type world struct {
	store  *storage.MemoryStore
	user   models.User
	source models.DataSource
	card   models.MetricCard
}

// newWorld creates one owner, one active mock data source and one card at
// threshold 100
func newWorld(t *testing.T) world {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser(ctx, models.User{Name: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)

	source, err := store.CreateDataSource(ctx, models.DataSource{
		Name: "payments", Type: models.DataSourceAPI, Endpoint: "https://payments",
		IsActive: true, Owner: user.ID, MockData: map[string]any{"kind": "latency"},
	})
	require.NoError(t, err)

	card, err := store.CreateMetricCard(ctx, models.MetricCard{
		Title: "Checkout latency", DataSource: source.ID, Value: 50, Unit: "ms",
		Threshold: 100, Owner: user.ID,
	})
	require.NoError(t, err)

	return world{store: store, user: user, source: source, card: card}
}

func newEvaluator(store jobs.EvaluationStore, values ...float64) *jobs.Evaluator {
	return jobs.NewEvaluator(store, &sequenceGen{values: values},
		jobs.WithEvaluationClock(func() time.Time { return fixedNow }))
}

func TestEvaluator_StatusPerValue(t *testing.T) {
	tests := []struct {
		value  float64
		status models.Status
		alerts int
	}{
		{100, models.StatusWarning, 1},
		{130, models.StatusCritical, 1},
		{99, models.StatusNormal, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			w := newWorld(t)
			ctx := context.Background()

			res, err := newEvaluator(w.store, tt.value).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Sources)
			assert.Equal(t, 1, res.Cards)
			assert.Equal(t, 1, res.Updated)
			assert.Equal(t, tt.alerts, res.Alerts)

			card, err := w.store.GetMetricCard(ctx, w.card.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.value, card.Value)
			assert.Equal(t, tt.status, card.Status)
			assert.Equal(t, fixedNow, card.LastUpdatedAt)
		})
	}
}

func TestEvaluator_CriticalCreatesOneAlert(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_, err := newEvaluator(w.store, 130).Run(ctx)
	require.NoError(t, err)

	list, err := w.store.ListAlerts(ctx, storage.AlertFilter{MetricCard: w.card.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	alert := list[0]
	assert.False(t, alert.Sent)
	assert.Equal(t, models.StatusCritical, alert.Status)
	assert.Equal(t, w.card.Owner, alert.Owner)
	assert.Equal(t, float64(130), alert.Value)
	assert.Equal(t, float64(100), alert.Threshold)
	assert.Equal(t, fixedNow, alert.TriggeredAt)
}

func TestEvaluator_NoSuppressionAcrossPasses(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	eval := newEvaluator(w.store, 125)

	for i := 0; i < 3; i++ {
		_, err := eval.Run(ctx)
		require.NoError(t, err)
	}

	list, err := w.store.ListAlerts(ctx, storage.AlertFilter{MetricCard: w.card.ID})
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestEvaluator_ExcludesEmptyMockAndInactive(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser(ctx, models.User{Name: "Lin", Email: "lin@example.com"})
	require.NoError(t, err)

	empty, err := store.CreateDataSource(ctx, models.DataSource{
		Name: "empty", Type: models.DataSourceFile, Endpoint: "/tmp/x",
		IsActive: true, Owner: user.ID, MockData: map[string]any{},
	})
	require.NoError(t, err)
	inactive, err := store.CreateDataSource(ctx, models.DataSource{
		Name: "inactive", Type: models.DataSourceFile, Endpoint: "/tmp/y",
		IsActive: false, Owner: user.ID, MockData: map[string]any{"a": 1},
	})
	require.NoError(t, err)

	for _, ds := range []models.DataSource{empty, inactive} {
		_, err := store.CreateMetricCard(ctx, models.MetricCard{
			Title: ds.Name, DataSource: ds.ID, Value: 10, Threshold: 100, Owner: user.ID,
		})
		require.NoError(t, err)
	}

	res, err := newEvaluator(store, 500).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.EvaluationResult{PassID: res.PassID, StartedAt: res.StartedAt, Duration: res.Duration}, res)

	list, err := store.ListAlerts(ctx, storage.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEvaluator_RandomGeneratorKeepsInvariant(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	eval := jobs.NewEvaluator(w.store, alerts.NewRandomGenerator(nil))

	for i := 0; i < 20; i++ {
		_, err := eval.Run(ctx)
		require.NoError(t, err)

		card, err := w.store.GetMetricCard(ctx, w.card.ID)
		require.NoError(t, err)
		assert.Equal(t, alerts.Classify(card.Value, card.Threshold), card.Status)
		assert.GreaterOrEqual(t, card.Value, float64(70))
		assert.LessOrEqual(t, card.Value, float64(130))
	}
}

func TestEvaluator_PublishesAlerts(t *testing.T) {
	w := newWorld(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	eval := jobs.NewEvaluator(w.store, &sequenceGen{values: []float64{120}}, jobs.WithPublisher(pub))

	res, err := eval.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Alerts)
	assert.Zero(t, res.Failed, "publish errors never fail the card")
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, w.card.ID, pub.alerts[0].MetricCard)
}

// scriptedStore lets a test control every evaluation query
type scriptedStore struct {
	sources   []models.DataSource
	cards     []models.MetricCard
	sourceErr error
	cardErr   error
	failCard  string

	mu      sync.Mutex
	updated []string
	created []models.Alert
}

func (s *scriptedStore) FindDataSources(context.Context, storage.DataSourceFilter) ([]models.DataSource, error) {
	return s.sources, s.sourceErr
}

func (s *scriptedStore) FindMetricCards(context.Context, storage.MetricCardFilter) ([]models.MetricCard, error) {
	return s.cards, s.cardErr
}

func (s *scriptedStore) UpdateMetricCard(_ context.Context, id string, _ storage.MetricCardUpdate) error {
	if id == s.failCard {
		return errors.New("write failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, id)
	return nil
}

func (s *scriptedStore) CreateAlert(_ context.Context, a models.Alert) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = "alert-" + a.MetricCard
	s.created = append(s.created, a)
	return a, nil
}

func TestEvaluator_IsolatesCardFailures(t *testing.T) {
	store := &scriptedStore{
		sources: []models.DataSource{{ID: "ds1"}},
		cards: []models.MetricCard{
			{ID: "c1", DataSource: "ds1", Threshold: 100, Owner: "u"},
			{ID: "orphan", DataSource: "gone", Threshold: 100, Owner: "u"},
			{ID: "c2", DataSource: "ds1", Threshold: 100, Owner: "u"},
			{ID: "c3", DataSource: "ds1", Threshold: 100, Owner: "u"},
		},
		failCard: "c2",
	}

	res, err := newEvaluator(store, 110).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Cards)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 2, res.Alerts)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"c1", "c3"}, store.updated, "cards are processed in store order")
}

func TestEvaluator_QueryErrorsAbortPass(t *testing.T) {
	boom := errors.New("storage unreachable")

	_, err := newEvaluator(&scriptedStore{sourceErr: boom}, 110).Run(context.Background())
	assert.ErrorIs(t, err, boom)

	store := &scriptedStore{sources: []models.DataSource{{ID: "ds1"}}, cardErr: boom}
	eval := newEvaluator(store, 110)
	_, err = eval.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.updated)

	_, ok := eval.Last()
	assert.False(t, ok, "aborted passes are not recorded")
}

// blockingStore holds the first FindDataSources call until released
type blockingStore struct {
	jobs.EvaluationStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) FindDataSources(ctx context.Context, f storage.DataSourceFilter) ([]models.DataSource, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.EvaluationStore.FindDataSources(ctx, f)
}

func TestEvaluator_ConcurrentPassesCreateOneAlert(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	store := &blockingStore{
		EvaluationStore: w.store,
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	eval := newEvaluator(store, 130)

	done := make(chan error, 1)
	go func() {
		_, err := eval.Run(ctx)
		done <- err
	}()

	<-store.entered
	assert.True(t, eval.Running())
	_, err := eval.Run(ctx)
	assert.ErrorIs(t, err, jobs.ErrPassInProgress)

	close(store.release)
	require.NoError(t, <-done)
	assert.False(t, eval.Running())

	list, err := w.store.ListAlerts(ctx, storage.AlertFilter{MetricCard: w.card.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDelivery_SendsAndMarks(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, err := newEvaluator(w.store, 130).Run(ctx)
	require.NoError(t, err)

	mail := &fakeDeliverer{ok: true}
	job := jobs.NewDelivery(w.store, mail, "Acme")

	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	assert.Equal(t, 1, res.Sent)

	require.Len(t, mail.calls, 1)
	assert.Equal(t, "grace@example.com", mail.calls[0].to)
	assert.Equal(t, "[Acme] CRITICAL Alert: Checkout latency", mail.calls[0].subject)
	assert.Equal(t, `Your metric "Checkout latency" has a value of 130 (threshold: 100). Status: CRITICAL.`, mail.calls[0].body)

	last, ok := job.Last()
	require.True(t, ok)
	assert.Equal(t, res, last)
}

func TestDelivery_SecondRunDoesNotResend(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, err := newEvaluator(w.store, 130).Run(ctx)
	require.NoError(t, err)

	mail := &fakeDeliverer{ok: true}
	job := jobs.NewDelivery(w.store, mail, "")

	_, err = job.Run(ctx)
	require.NoError(t, err)
	res, err := job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, mail.count())
	assert.Zero(t, res.Pending)
}

func TestDelivery_UnknownOwnerIsSkipped(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	alert, err := w.store.CreateAlert(ctx, models.Alert{
		MetricCard: w.card.ID, Status: models.StatusWarning, Value: 105,
		Threshold: 100, TriggeredAt: fixedNow, Owner: "missing-user",
	})
	require.NoError(t, err)

	mail := &fakeDeliverer{ok: true}
	res, err := jobs.NewDelivery(w.store, mail, "").Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, mail.count())

	got, err := w.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent)
}

func TestDelivery_FailureLeavesAlertPending(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, err := newEvaluator(w.store, 105).Run(ctx)
	require.NoError(t, err)

	mail := &fakeDeliverer{ok: false}
	job := jobs.NewDelivery(w.store, mail, "")

	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Sent)

	mail.ok = true
	res, err = job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent, "rejected alerts are retried on the next pass")
	assert.Equal(t, 2, mail.count())
}

type failingPending struct{ err error }

func (f failingPending) FindPendingAlerts(context.Context) ([]models.PendingAlert, error) {
	return nil, f.err
}

func (f failingPending) UpdateAlert(context.Context, string, storage.AlertUpdate) error {
	return nil
}

func TestDelivery_QueryErrorAbortsPass(t *testing.T) {
	boom := errors.New("storage unreachable")
	mail := &fakeDeliverer{ok: true}

	_, err := jobs.NewDelivery(failingPending{boom}, mail, "").Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, mail.count())
}

func TestEvaluator_HugeThresholdDoesNotStopPass(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser(ctx, models.User{Name: "Kim", Email: "kim@example.com"})
	require.NoError(t, err)
	source, err := store.CreateDataSource(ctx, models.DataSource{
		Name: "telemetry", Type: models.DataSourceAPI, Endpoint: "https://telemetry",
		IsActive: true, Owner: user.ID, MockData: map[string]any{"k": 1},
	})
	require.NoError(t, err)

	huge, err := store.CreateMetricCard(ctx, models.MetricCard{
		Title: "Bytes served", DataSource: source.ID, Value: 1, Threshold: 1e20, Owner: user.ID,
	})
	require.NoError(t, err)
	normal, err := store.CreateMetricCard(ctx, models.MetricCard{
		Title: "Latency", DataSource: source.ID, Value: 1, Threshold: 100, Owner: user.ID,
	})
	require.NoError(t, err)

	res, err := jobs.NewEvaluator(store, alerts.NewRandomGenerator(nil)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Zero(t, res.Failed)

	got, err := store.GetMetricCard(ctx, huge.ID)
	require.NoError(t, err)
	lo, hi := alerts.MockRange(1e20)
	assert.GreaterOrEqual(t, got.Value, lo)
	assert.LessOrEqual(t, got.Value, hi)
	assert.Equal(t, alerts.Classify(got.Value, got.Threshold), got.Status)

	got, err = store.GetMetricCard(ctx, normal.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Value, float64(70))
	assert.LessOrEqual(t, got.Value, float64(130))
}

// panickyGen panics for one threshold and returns a fixed value otherwise
type panickyGen struct{ bad float64 }

func (g panickyGen) NextValue(_, threshold float64) float64 {
	if threshold == g.bad {
		panic("generator failure")
	}
	return 50
}

func TestEvaluator_RecoversCardPanic(t *testing.T) {
	store := &scriptedStore{
		sources: []models.DataSource{{ID: "ds1"}},
		cards: []models.MetricCard{
			{ID: "bad", DataSource: "ds1", Threshold: 13, Owner: "u"},
			{ID: "good", DataSource: "ds1", Threshold: 100, Owner: "u"},
		},
	}

	var res jobs.EvaluationResult
	var err error
	require.NotPanics(t, func() {
		res, err = jobs.NewEvaluator(store, panickyGen{bad: 13}).Run(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"good"}, store.updated)
}

func TestErrPassInProgressIsGuardHeld(t *testing.T) {
	assert.ErrorIs(t, jobs.ErrPassInProgress, state.ErrHeld)
}
