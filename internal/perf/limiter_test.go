package perf

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogLimiter(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mock := clock.NewMock()
	l := NewLogLimiter(zap.New(core).Sugar(), mock, 5*time.Second)

	assert.True(t, l.Warnw("a", "first"))
	assert.False(t, l.Warnw("a", "first again"))
	assert.True(t, l.Warnw("b", "other key"))

	mock.Add(4 * time.Second)
	assert.False(t, l.Warnw("a", "still suppressed"))

	mock.Add(time.Second)
	assert.True(t, l.Warnw("a", "interval elapsed"))

	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, "interval elapsed", logs.All()[2].Message)
}
