package app

import (
	"context"
	"time"
)

// runPipeline pulls frames from the camera until ctx is done.
//
// Pipeline logic:
// 1. Wait for the next capture tick
// 2. Skip the read entirely while paused
// 3. Hand the frame to the scheduler, which owns and releases it
func (a *App) runPipeline(ctx context.Context) error {
	ticker := a.clock.Ticker(time.Second / CaptureFPS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if a.paused.Load() {
				continue
			}

			frame, err := a.camera.ReadFrame()
			if err != nil {
				a.readLog.Warnw("read", "error reading frame", "error", err)
				continue
			}

			a.sched.OnFrame(frame)
		}
	}
}
