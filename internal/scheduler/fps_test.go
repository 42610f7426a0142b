package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestFPSMeter_Snapshot(t *testing.T) {
	m := NewFPSMeter(clock.NewMock(), time.Second)

	assert.Equal(t, 0, m.FPS())

	for i := 0; i < 12; i++ {
		m.Count()
	}
	assert.Equal(t, 0, m.FPS(), "not published before the window closes")

	assert.Equal(t, 12, m.Snapshot())
	assert.Equal(t, 12, m.FPS())

	m.Count()
	assert.Equal(t, 1, m.Snapshot())
	assert.Equal(t, 1, m.FPS())
}

func TestFPSMeter_DefaultWindow(t *testing.T) {
	m := NewFPSMeter(clock.NewMock(), 0)
	assert.Equal(t, time.Second, m.window)
}

func TestFPSMeter_RunStopsOnCancel(t *testing.T) {
	m := NewFPSMeter(clock.New(), 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		m.Count()
	}
	assert.Eventually(t, func() bool { return m.FPS() == 5 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
