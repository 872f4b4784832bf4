package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/netsentry/netsentry/pkg/anomaly"
	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/events"
	"github.com/netsentry/netsentry/pkg/mlclient"
	"github.com/netsentry/netsentry/pkg/packet"
	"github.com/rs/zerolog"
)

// Attack type labels the inference service uses in batch predictions.
const (
	attackTypeDDoS     = "ddos"
	attackTypePortScan = "port_scan"
)

// Aggregate prediction counts above these bounds escalate to a single
// high-level anomaly instead of per-packet ones.
const (
	mlDDoSCountThreshold     = 30
	mlPortScanCountThreshold = 20
)

// PacketFinder refreshes the analysis window from durable storage.
type PacketFinder interface {
	FindRecentPackets(ctx context.Context, limit int) ([]packet.Packet, error)
}

// Predictor is the slice of the inference client the engine needs.
type Predictor interface {
	Available() bool
	PredictBatch(ctx context.Context, features []mlclient.Features) mlclient.BatchResponse
}

// Submitter accepts candidate anomalies.
type Submitter interface {
	Submit(ctx context.Context, a anomaly.Anomaly) bool
}

// Publisher carries analysis reports to subscribers.
type Publisher interface {
	Publish(event events.Event) error
}

// Report is the per-cycle analysis result published on the bus.
type Report struct {
	Timestamp time.Time         `json:"timestamp"`
	Anomalies []anomaly.Anomaly `json:"anomalies"`
	Stats     TrafficStats      `json:"stats"`
}

// Engine runs the periodic traffic analysis cycle: refresh the window,
// fan out the rule-based detectors and the model in parallel, then push
// accepted anomalies and a stats report downstream.
type Engine struct {
	window     *Window
	finder     PacketFinder
	predictor  Predictor
	submitter  Submitter
	validator  *anomaly.SubmissionValidator
	publisher  Publisher
	thresholds config.ThresholdsConfig
	cfg        config.AnalysisConfig
	logger     zerolog.Logger

	now func() time.Time
}

// NewEngine wires an analysis engine. finder, predictor, and publisher
// may be nil; the engine degrades to in-memory window analysis without
// them.
func NewEngine(
	window *Window,
	finder PacketFinder,
	predictor Predictor,
	submitter Submitter,
	validator *anomaly.SubmissionValidator,
	publisher Publisher,
	thresholds config.ThresholdsConfig,
	cfg config.AnalysisConfig,
	logger zerolog.Logger,
) *Engine {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MinMLPackets <= 0 {
		cfg.MinMLPackets = 10
	}
	if cfg.MLBatchSize <= 0 {
		cfg.MLBatchSize = 100
	}

	return &Engine{
		window:     window,
		finder:     finder,
		predictor:  predictor,
		submitter:  submitter,
		validator:  validator,
		publisher:  publisher,
		thresholds: thresholds,
		cfg:        cfg,
		logger:     logger.With().Str("component", "analysis").Logger(),
		now:        time.Now,
	}
}

// Name identifies the engine to the scheduler.
func (e *Engine) Name() string {
	return "traffic-analysis"
}

// Run executes one analysis cycle.
func (e *Engine) Run(ctx context.Context) {
	now := e.now()
	snapshot := e.refreshWindow(ctx)

	candidates := e.detect(ctx, snapshot, now)
	accepted := e.submit(ctx, candidates)

	report := Report{
		Timestamp: now,
		Anomalies: accepted,
		Stats:     ComputeStats(snapshot, now),
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(events.Event{
			Type:   events.EventTrafficAnalysis,
			Source: e.Name(),
			Data:   report,
		}); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to publish analysis report")
		}
	}

	e.logger.Debug().
		Int("window", len(snapshot)).
		Int("candidates", len(candidates)).
		Int("accepted", len(accepted)).
		Msg("Analysis cycle complete")
}

// refreshWindow reloads the window from storage when possible so the
// cycle sees packets from every capture source, falling back to the
// incrementally built in-memory window when storage is unreachable.
func (e *Engine) refreshWindow(ctx context.Context) []packet.Packet {
	if e.finder != nil {
		packets, err := e.finder.FindRecentPackets(ctx, e.cfg.WindowSize)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Window refresh from storage failed, using in-memory window")
		} else {
			e.window.Replace(packets)
		}
	}
	return e.window.Snapshot()
}

type candidate struct {
	source  string
	anomaly anomaly.Anomaly
}

// ruleFunc is the common detector shape: a pure function over one
// window snapshot producing zero or more candidate anomalies.
type ruleFunc func([]packet.Packet, time.Time, config.ThresholdsConfig) []anomaly.Anomaly

// singleRule adapts a detector that yields at most one anomaly.
func singleRule(fn func([]packet.Packet, time.Time, config.ThresholdsConfig) *anomaly.Anomaly) ruleFunc {
	return func(packets []packet.Packet, now time.Time, thresholds config.ThresholdsConfig) []anomaly.Anomaly {
		if a := fn(packets, now, thresholds); a != nil {
			return []anomaly.Anomaly{*a}
		}
		return nil
	}
}

// detect fans out the rule-based detectors and the model over one
// snapshot and joins their results.
func (e *Engine) detect(ctx context.Context, snapshot []packet.Packet, now time.Time) []candidate {
	if len(snapshot) == 0 {
		return nil
	}

	// The port scan rule may flag one IP per window packet in the worst
	// case, so the buffer is sized to hold every producer's output
	// without blocking.
	results := make(chan candidate, 2+len(snapshot)+e.cfg.MLBatchSize)
	var wg sync.WaitGroup

	rules := []struct {
		name string
		fn   ruleFunc
	}{
		{"ddos-detector", singleRule(DetectDDoS)},
		{"port-scan-detector", DetectPortScan},
		{"syn-flood-detector", singleRule(DetectSynFlood)},
	}

	for _, rule := range rules {
		wg.Add(1)
		go func(name string, fn ruleFunc) {
			defer wg.Done()
			for _, a := range fn(snapshot, now, e.thresholds) {
				results <- candidate{source: name, anomaly: a}
			}
		}(rule.name, rule.fn)
	}

	if e.predictor != nil && e.predictor.Available() && len(snapshot) >= e.cfg.MinMLPackets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, a := range e.runModel(ctx, snapshot, now) {
				results <- candidate{source: "ml-detector", anomaly: a}
			}
		}()
	}

	wg.Wait()
	close(results)

	var out []candidate
	for c := range results {
		out = append(out, c)
	}
	return out
}

// runModel scores the head of the snapshot and translates predictions
// into anomalies. Aggregate attack counts collapse into one anomaly per
// attack class; remaining anomalous packets are reported individually.
func (e *Engine) runModel(ctx context.Context, snapshot []packet.Packet, now time.Time) []anomaly.Anomaly {
	scored := snapshot
	if len(scored) > e.cfg.MLBatchSize {
		scored = scored[:e.cfg.MLBatchSize]
	}
	features := mlclient.FeaturesFromPackets(scored, e.cfg.MLBatchSize)

	resp := e.predictor.PredictBatch(ctx, features)
	if resp.Status != "" {
		e.logger.Debug().Str("status", resp.Status).Msg("Model predictions degraded, skipping")
		return nil
	}

	ddosCount := 0
	scanCount := 0
	var out []anomaly.Anomaly

	for i, pred := range resp.Predictions {
		if !pred.IsAnomaly {
			continue
		}
		switch pred.AttackType {
		case attackTypeDDoS:
			ddosCount++
		case attackTypePortScan, "portscan":
			scanCount++
		default:
			a := anomaly.New(now, anomaly.TypeMLDetectedAnomaly, anomaly.SeverityMedium,
				fmt.Sprintf("Model flagged packet as anomalous (confidence %.2f)", pred.Confidence))
			a.PacketID = scored[i].ID
			out = append(out, a)
		}
	}

	if ddosCount > mlDDoSCountThreshold {
		out = append(out, anomaly.New(now, anomaly.TypeMLDDoSDetection, anomaly.SeverityHigh,
			fmt.Sprintf("Model classified %d of %d packets as DDoS traffic", ddosCount, len(scored))))
	}
	if scanCount > mlPortScanCountThreshold {
		out = append(out, anomaly.New(now, anomaly.TypeMLPortScanDetection, anomaly.SeverityMedium,
			fmt.Sprintf("Model classified %d of %d packets as port scan traffic", scanCount, len(scored))))
	}

	return out
}

// submit screens candidates and records the accepted ones.
func (e *Engine) submit(ctx context.Context, candidates []candidate) []anomaly.Anomaly {
	var accepted []anomaly.Anomaly
	for _, c := range candidates {
		a := c.anomaly
		if e.validator != nil {
			if err := e.validator.Validate(c.source, &a); err != nil {
				e.logger.Warn().Err(err).Str("source", c.source).Msg("Candidate anomaly rejected")
				continue
			}
		}
		if e.submitter != nil && e.submitter.Submit(ctx, a) {
			accepted = append(accepted, a)
		}
	}
	return accepted
}
