package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
}

func TestNewLoggerWithService(t *testing.T) {
	entry := NewLoggerWithService("theorogram", "info")
	var buf bytes.Buffer
	entry.Logger.SetOutput(&buf)

	entry.WithField("k", "v").Info("hello")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "theorogram", out["service"])
	assert.Equal(t, "v", out["k"])
	assert.Equal(t, "hello", out["msg"])
}
