package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/handlers"
	"pulseboard/internal/jobs"
	"pulseboard/internal/kafka"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeEvents struct{ err error }

func (e fakeEvents) HealthCheck(context.Context) error { return e.err }
func (e fakeEvents) Stats() kafka.ProducerStats        { return kafka.ProducerStats{MessagesSent: 7} }

type fakeEvaluator struct {
	res  jobs.EvaluationResult
	err  error
	runs int
}

func (f *fakeEvaluator) Run(context.Context) (jobs.EvaluationResult, error) {
	f.runs++
	return f.res, f.err
}
func (f *fakeEvaluator) Last() (jobs.EvaluationResult, bool) { return f.res, f.runs > 0 }
func (f *fakeEvaluator) Running() bool                       { return false }

type fakeDelivery struct {
	res jobs.DeliveryResult
	err error
}

func (f *fakeDelivery) Run(context.Context) (jobs.DeliveryResult, error) { return f.res, f.err }
func (f *fakeDelivery) Last() (jobs.DeliveryResult, bool)                { return jobs.DeliveryResult{}, false }
func (f *fakeDelivery) Running() bool                                    { return true }

func newRouter(cfg handlers.Config) http.Handler {
	if cfg.Store == nil {
		cfg.Store = fakePinger{}
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = &fakeEvaluator{}
	}
	if cfg.Delivery == nil {
		cfg.Delivery = &fakeDelivery{}
	}
	return handlers.NewRouter(cfg)
}

func do(t *testing.T, h http.Handler, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newRouter(handlers.Config{Events: fakeEvents{}}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]any{"storage": "ok", "kafka": "ok"}, body["checks"])

	rec, body = do(t, newRouter(handlers.Config{Store: fakePinger{errors.New("db locked")}}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestStats(t *testing.T) {
	eval := &fakeEvaluator{res: jobs.EvaluationResult{PassID: "p1", Updated: 3}, runs: 1}
	rec, body := do(t, newRouter(handlers.Config{Evaluator: eval, Events: fakeEvents{}}), http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	evaluation := body["evaluation"].(map[string]any)
	assert.Equal(t, false, evaluation["running"])
	assert.Equal(t, "p1", evaluation["last"].(map[string]any)["pass_id"])

	delivery := body["delivery"].(map[string]any)
	assert.Equal(t, true, delivery["running"])
	assert.NotContains(t, delivery, "last")

	assert.Equal(t, float64(7), body["kafka"].(map[string]any)["messages_sent"])
}

func TestTriggerEvaluation(t *testing.T) {
	eval := &fakeEvaluator{res: jobs.EvaluationResult{Alerts: 2}}
	rec, body := do(t, newRouter(handlers.Config{Evaluator: eval}), http.MethodPost, "/api/jobs/evaluate", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "evaluation", body["job"])
	assert.Equal(t, float64(2), body["result"].(map[string]any)["alerts"])
	assert.Equal(t, 1, eval.runs)
}

func TestTrigger_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"in progress", jobs.ErrPassInProgress, http.StatusConflict},
		{"storage failure", errors.New("storage unreachable"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(handlers.Config{Delivery: &fakeDelivery{err: tt.err}})
			rec, body := do(t, h, http.MethodPost, "/api/jobs/deliver", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestTrigger_RequiresToken(t *testing.T) {
	h := newRouter(handlers.Config{TriggerToken: "tok"})

	rec, _ := do(t, h, http.MethodPost, "/api/jobs/evaluate", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/jobs/evaluate", "tok")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "only /api routes are protected")
}

func TestRouting(t *testing.T) {
	h := newRouter(handlers.Config{})

	rec, body := do(t, h, http.MethodGet, "/api/jobs/evaluate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, body["success"])

	rec, _ = do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulseboard_")
}
