package anomaly

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAnomaly() Anomaly {
	return New(time.Now(), TypePortScanning, SeverityMedium, "16 distinct destination ports from 10.0.0.9")
}

func TestValidateAcceptsWellFormedAnomaly(t *testing.T) {
	v := NewSubmissionValidator(10, 20, zerolog.Nop())
	a := validAnomaly()
	assert.NoError(t, v.Validate("detector", &a))
}

func TestValidateRejectsUnknownSeverity(t *testing.T) {
	v := NewSubmissionValidator(10, 20, zerolog.Nop())
	a := validAnomaly()
	a.Severity = "Catastrophic"
	assert.Error(t, v.Validate("detector", &a))
}

func TestValidateRejectsMissingTypeAndDescription(t *testing.T) {
	v := NewSubmissionValidator(10, 20, zerolog.Nop())

	a := validAnomaly()
	a.Type = ""
	assert.Error(t, v.Validate("detector", &a))

	b := validAnomaly()
	b.Description = "\x00\x01\n"
	assert.Error(t, v.Validate("detector", &b))

	assert.Error(t, v.Validate("detector", nil))
}

func TestValidateSanitizesDescription(t *testing.T) {
	v := NewSubmissionValidator(10, 20, zerolog.Nop())
	a := validAnomaly()
	a.Description = "  scan\x00 detected\n "
	require.NoError(t, v.Validate("detector", &a))
	assert.Equal(t, "scan detected", a.Description)
}

func TestValidateRateLimitsPerSource(t *testing.T) {
	v := NewSubmissionValidator(1, 2, zerolog.Nop())

	for i := 0; i < 2; i++ {
		a := validAnomaly()
		require.NoError(t, v.Validate("noisy", &a))
	}

	a := validAnomaly()
	assert.Error(t, v.Validate("noisy", &a), "burst exhausted")

	b := validAnomaly()
	assert.NoError(t, v.Validate("quiet", &b), "limits are per source")
}
