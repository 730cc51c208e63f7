package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", "json", &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	Component(logger, "importer").WithField("batch", "b1").Info("batch done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "importer", line["component"])
	assert.Equal(t, "b1", line["batch"])
	assert.Equal(t, "batch done", line["msg"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger := New("loud", "text", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", "json", &buf)

	LogError(logger, "pending", "Resolve", "resolve pending record", map[string]int64{"id": 4}, errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["msg"])
	assert.Equal(t, "pending", line["module"])
	assert.Equal(t, "Resolve", line["funcName"])
	assert.NotNil(t, line["data"])
}
