package mlclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/netsentry/netsentry/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMLConfig(baseURL string) config.MLConfig {
	return config.MLConfig{
		BaseURL:             baseURL,
		Timeout:             2 * time.Second,
		RetryAttempts:       3,
		RetryDelay:          time.Millisecond,
		HealthCheckInterval: time.Minute,
	}
}

func TestCheckHealthTogglesAvailability(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/health", r.URL.Path)
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(testMLConfig(srv.URL), zerolog.Nop())
	assert.False(t, c.Available(), "unavailable until first check")

	assert.True(t, c.CheckHealth(context.Background()))
	assert.True(t, c.Available())

	healthy.Store(false)
	assert.False(t, c.CheckHealth(context.Background()))
	assert.False(t, c.Available())
}

func TestPredictBatchShortCircuitsWhenUnavailable(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	c := NewClient(testMLConfig(srv.URL), zerolog.Nop())

	resp := c.PredictBatch(context.Background(), []Features{{"length": 64}, {"length": 128}})

	assert.Equal(t, StatusServiceUnavailable, resp.Status)
	require.Len(t, resp.Predictions, 2)
	assert.False(t, resp.Predictions[0].IsAnomaly)
	assert.Zero(t, requests.Load(), "no network traffic while degraded")
}

func TestPredictBatchReturnsPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			w.WriteHeader(http.StatusOK)
		case "/api/predict/batch":
			var body struct {
				Batch []Features `json:"batch"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			resp := BatchResponse{Predictions: make([]Prediction, len(body.Batch))}
			resp.Predictions[0] = Prediction{IsAnomaly: true, AttackType: "ddos", Confidence: 0.92}
			json.NewEncoder(w).Encode(resp)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(testMLConfig(srv.URL), zerolog.Nop())
	require.True(t, c.CheckHealth(context.Background()))

	resp := c.PredictBatch(context.Background(), []Features{{"length": 64}, {"length": 128}})

	assert.Empty(t, resp.Status)
	require.Len(t, resp.Predictions, 2)
	assert.True(t, resp.Predictions[0].IsAnomaly)
	assert.Equal(t, "ddos", resp.Predictions[0].AttackType)
}

func TestPredictBatchCountMismatchDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(BatchResponse{Predictions: []Prediction{{}}})
	}))
	defer srv.Close()

	c := NewClient(testMLConfig(srv.URL), zerolog.Nop())
	require.True(t, c.CheckHealth(context.Background()))

	resp := c.PredictBatch(context.Background(), []Features{{}, {}, {}})

	assert.Equal(t, StatusError, resp.Status)
	assert.Len(t, resp.Predictions, 3)
}

func TestPredictAnomalyRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Prediction{IsAnomaly: true, Confidence: 0.7})
	}))
	defer srv.Close()

	c := NewClient(testMLConfig(srv.URL), zerolog.Nop())
	require.True(t, c.CheckHealth(context.Background()))

	pred := c.PredictAnomaly(context.Background(), Features{"length": 64})

	assert.Empty(t, pred.Status)
	assert.True(t, pred.IsAnomaly)
	assert.Equal(t, int64(3), calls.Load())
}

func TestPredictAnomalyExhaustedRetriesMarksUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testMLConfig(srv.URL), zerolog.Nop())
	require.True(t, c.CheckHealth(context.Background()))

	pred := c.PredictAnomaly(context.Background(), Features{"length": 64})

	assert.Equal(t, StatusError, pred.Status)
	assert.False(t, c.Available(), "repeated failures mark the service down")
}

func TestModelInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "/api/model/info", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"model": "isolation-forest", "version": "1.2"})
	}))
	defer srv.Close()

	c := NewClient(testMLConfig(srv.URL), zerolog.Nop())
	require.True(t, c.CheckHealth(context.Background()))

	info, err := c.ModelInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "isolation-forest", info["model"])
}

func TestModelInfoUnavailable(t *testing.T) {
	c := NewClient(testMLConfig("http://127.0.0.1:0"), zerolog.Nop())
	_, err := c.ModelInfo(context.Background())
	assert.Error(t, err)
}
