package app

import (
	"context"
	"time"

	"gatekeeper/internal/ratelimit"
)

const janitorInterval = time.Minute

// trackedKeysReporter publishes the limiter's table sizes on every sweep
type trackedKeysReporter struct {
	app *App
}

func (r trackedKeysReporter) Sweep(time.Time) int {
	windows, blocks := r.app.General.TrackedKeys()
	r.app.Metrics.SetTrackedKeys("window", windows)
	r.app.Metrics.SetTrackedKeys("block", blocks)
	return 0
}

func (app *App) startJanitor(ctx context.Context) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		ratelimit.RunJanitor(ctx, janitorInterval, time.Now, app.General, trackedKeysReporter{app: app})
	}()
}
