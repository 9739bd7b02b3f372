package obslog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_QuietSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Quiet)
	logger.Info("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestNew_ChattyEmitsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Chatty)
	logger.Info("progress line")

	assert.Contains(t, buf.String(), "progress line")
}

func TestNew_VerboseEmitsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Verbose)
	logger.Debug("detail line")

	assert.Contains(t, buf.String(), "detail line")
}

func TestDiscard_DoesNotPanic(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.Error("should be discarded")
		logger.Info("also discarded")
	})
}
