package common

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputSplitterRoutesByLevel(t *testing.T) {
	splitter := &OutputSplitter{}

	cases := []struct {
		name    string
		message string
		isError bool
	}{
		{"error", `time="2024-01-15T10:30:00Z" level=error msg="store unreachable"`, true},
		{"info", `time="2024-01-15T10:30:00Z" level=info msg="trigger checked"`, false},
		{"warn", `time="2024-01-15T10:30:00Z" level=warning msg="check exceeded cache ttl"`, false},
		{"error word in non-error message", `time="2024-01-15T10:30:00Z" level=info msg="no error occurred"`, false},
		{"different case is not matched", `LEVEL=ERROR`, false},
		{"empty", ``, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := splitter.Write([]byte(tc.message))
			assert.NoError(t, err)
			assert.Equal(t, len(tc.message), n)
			assert.Equal(t, tc.isError, bytes.Contains([]byte(tc.message), []byte("level=error")))
		})
	}
}

func TestOutputSplitterConcurrentWrites(t *testing.T) {
	splitter := &OutputSplitter{}
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			msg := "concurrent trigger-check log line"
			n, err := splitter.Write([]byte(msg))
			assert.NoError(t, err)
			assert.Equal(t, len(msg), n)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestLoggerUsesOutputSplitter(t *testing.T) {
	assert.NotNil(t, Logger)
	_, ok := Logger.Out.(*OutputSplitter)
	assert.True(t, ok, "Logger should route through OutputSplitter")
}

func TestContextLoggerCarriesDomainFields(t *testing.T) {
	var buf bytes.Buffer
	logger := Logger
	prevOut := logger.Out
	logger.SetOutput(&buf)
	defer logger.SetOutput(prevOut)

	cl := NewContextLogger(logger, map[string]interface{}{"trigger_id": "trigger-1"}).
		WithField("metric", "host.cpu.load").
		WithError(errors.New("fetch failed"))
	cl.Error("check failed")

	out := buf.String()
	assert.Contains(t, out, "trigger_id=trigger-1")
	assert.Contains(t, out, "metric=host.cpu.load")
	assert.Contains(t, out, "fetch failed")
	assert.Contains(t, out, "level=error")
}
