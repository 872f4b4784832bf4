package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/rs/zerolog"
)

// Statuses reported on degraded results. Callers treat any non-empty
// status as "the model did not actually run".
const (
	StatusServiceUnavailable = "service_unavailable"
	StatusError              = "error"
)

// Features is one packet rendered as a numeric feature vector.
type Features map[string]float64

// Prediction is a single model verdict.
type Prediction struct {
	IsAnomaly  bool    `json:"is_anomaly"`
	AttackType string  `json:"attack_type,omitempty"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status,omitempty"`
}

// BatchResponse carries one prediction per submitted feature vector.
type BatchResponse struct {
	Predictions []Prediction `json:"predictions"`
	Status      string       `json:"status,omitempty"`
}

// Client talks to the external inference service. It tracks the
// service's availability from periodic health checks and degrades to
// neutral results instead of failing the analysis cycle when the
// service is down.
type Client struct {
	baseURL string
	httpc   *http.Client

	timeout        time.Duration
	retryAttempts  int
	retryDelay     time.Duration
	healthInterval time.Duration

	available atomic.Bool
	logger    zerolog.Logger
}

// NewClient builds a client from the inference configuration. The
// service is assumed unavailable until the first health check passes.
func NewClient(cfg config.MLConfig, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	healthInterval := cfg.HealthCheckInterval
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}

	return &Client{
		baseURL:        cfg.BaseURL,
		httpc:          &http.Client{},
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryDelay:     retryDelay,
		healthInterval: healthInterval,
		logger:         logger.With().Str("component", "ml-client").Logger(),
	}
}

// Available reports whether the last health check succeeded.
func (c *Client) Available() bool {
	return c.available.Load()
}

// Run performs an immediate health check and then re-checks on the
// configured interval until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.CheckHealth(ctx)

	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckHealth(ctx)
		}
	}
}

// CheckHealth probes the service and updates the availability flag.
func (c *Client) CheckHealth(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		c.setAvailable(false)
		return false
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.setAvailable(false)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	healthy := resp.StatusCode == http.StatusOK
	c.setAvailable(healthy)
	return healthy
}

func (c *Client) setAvailable(v bool) {
	if c.available.Swap(v) != v {
		if v {
			c.logger.Info().Msg("Inference service available")
		} else {
			c.logger.Warn().Msg("Inference service unavailable, analysis degrades to rule-based detection")
		}
	}
}

// PredictAnomaly scores a single feature vector.
func (c *Client) PredictAnomaly(ctx context.Context, f Features) Prediction {
	return c.predictOne(ctx, "/api/predict/anomaly", f)
}

// PredictAttack classifies a single feature vector by attack type.
func (c *Client) PredictAttack(ctx context.Context, f Features) Prediction {
	return c.predictOne(ctx, "/api/predict/attack", f)
}

func (c *Client) predictOne(ctx context.Context, path string, f Features) Prediction {
	if !c.Available() {
		return Prediction{Status: StatusServiceUnavailable}
	}

	var out Prediction
	if err := c.postJSON(ctx, path, map[string]interface{}{"features": f}, c.timeout, &out); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Prediction request failed")
		return Prediction{Status: StatusError}
	}
	return out
}

// PredictBatch scores many feature vectors in one request. Batch calls
// get twice the single-call timeout. When the service is unavailable or
// the call fails, the response carries one neutral prediction per input
// so callers can index it the same way.
func (c *Client) PredictBatch(ctx context.Context, features []Features) BatchResponse {
	if len(features) == 0 {
		return BatchResponse{}
	}
	if !c.Available() {
		return neutralBatch(len(features), StatusServiceUnavailable)
	}

	var out BatchResponse
	if err := c.postJSON(ctx, "/api/predict/batch", map[string]interface{}{"batch": features}, 2*c.timeout, &out); err != nil {
		c.logger.Warn().Err(err).Int("batch_size", len(features)).Msg("Batch prediction failed")
		return neutralBatch(len(features), StatusError)
	}
	if len(out.Predictions) != len(features) {
		c.logger.Warn().
			Int("expected", len(features)).
			Int("got", len(out.Predictions)).
			Msg("Batch prediction count mismatch")
		return neutralBatch(len(features), StatusError)
	}
	return out
}

// ExtractFeatures asks the service to derive feature vectors remotely.
// Callers normally use FeaturesFromPacket; this path exists for models
// with their own preprocessing.
func (c *Client) ExtractFeatures(ctx context.Context, packets []packet.Packet) ([]Features, error) {
	if !c.Available() {
		return nil, fmt.Errorf("inference service unavailable")
	}
	var out struct {
		Features []Features `json:"features"`
	}
	if err := c.postJSON(ctx, "/api/feature/extract", map[string]interface{}{"packets": packets}, c.timeout, &out); err != nil {
		return nil, err
	}
	return out.Features, nil
}

// ModelInfo fetches metadata about the loaded model.
func (c *Client) ModelInfo(ctx context.Context) (map[string]interface{}, error) {
	if !c.Available() {
		return nil, fmt.Errorf("inference service unavailable")
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/api/model/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model info returned status %d", resp.StatusCode)
	}

	var info map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return info, nil
}

// postJSON performs a POST with bounded retries. The last failure marks
// the service unavailable so subsequent calls short-circuit until the
// next health check.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}, timeout time.Duration, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		lastErr = c.doPost(ctx, path, payload, timeout, out)
		if lastErr == nil {
			return nil
		}
		if attempt < c.retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	c.setAvailable(false)
	return lastErr
}

func (c *Client) doPost(ctx context.Context, path string, payload []byte, timeout time.Duration, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func neutralBatch(n int, status string) BatchResponse {
	return BatchResponse{
		Predictions: make([]Prediction, n),
		Status:      status,
	}
}
