package nserrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorFormatsComponentAndType(t *testing.T) {
	err := NewCaptureError("subprocess died", fmt.Errorf("exit status 2"))
	assert.Equal(t, "[capture] subprocess: subprocess died", err.Error())
	assert.True(t, err.Recoverable)
	assert.Equal(t, SeverityHigh, err.Severity)
}

func TestPipelineErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewStorageError("batch write failed", cause, map[string]interface{}{"batch_size": 50})

	require.ErrorIs(t, err, cause)
	assert.Equal(t, 50, err.Details["batch_size"])
}

func TestInputErrorCarriesComponent(t *testing.T) {
	err := NewInputError("ingest", "not a JSON object")
	assert.Equal(t, "ingest", err.Component)
	assert.Equal(t, SeverityLow, err.Severity)
	assert.Nil(t, errors.Unwrap(err))
}
