package anomaly

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxDescriptionLen = 500

// SubmissionValidator screens anomalies before they reach the store.
// Each submitting source gets its own token bucket so a misbehaving
// detector cannot flood the pipeline.
type SubmissionValidator struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	limit  rate.Limit
	burst  int
	logger zerolog.Logger
}

// NewSubmissionValidator creates a validator allowing perSecond
// submissions per source with the given burst.
func NewSubmissionValidator(perSecond float64, burst int, logger zerolog.Logger) *SubmissionValidator {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &SubmissionValidator{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		logger:   logger.With().Str("component", "anomaly-validator").Logger(),
	}
}

func (v *SubmissionValidator) limiterFor(source string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.limiters[source]
	if !ok {
		l = rate.NewLimiter(v.limit, v.burst)
		v.limiters[source] = l
	}
	return l
}

// Validate checks an anomaly from the named source and sanitizes its
// description in place. A non-nil error means the anomaly must be
// dropped.
func (v *SubmissionValidator) Validate(source string, a *Anomaly) error {
	if a == nil {
		return fmt.Errorf("nil anomaly from %s", source)
	}
	if a.Type == "" {
		return fmt.Errorf("anomaly from %s has no type", source)
	}

	switch a.Severity {
	case SeverityHigh, SeverityMedium, SeverityLow:
	default:
		return fmt.Errorf("anomaly from %s has unknown severity %q", source, a.Severity)
	}

	a.Description = sanitizeDescription(a.Description)
	if a.Description == "" {
		return fmt.Errorf("anomaly from %s has no description", source)
	}

	if !v.limiterFor(source).Allow() {
		v.logger.Warn().Str("source", source).Str("type", string(a.Type)).Msg("Anomaly submission rate limited")
		return fmt.Errorf("submission rate exceeded for %s", source)
	}

	return nil
}

func sanitizeDescription(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		if b.Len() >= maxDescriptionLen {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
