package web

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"

	appLog "calreport/internal/log"
)

// StartRefresher reloads the feed cache on the given cron schedule until ctx
// is canceled. A refresh that fails keeps the previous cache.
func (s *Server) StartRefresher(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := s.Refresh(ctx); err != nil {
			appLog.Error("scheduled feed refresh failed", err, "schedule", schedule)
			return
		}
		appLog.Debug("scheduled feed refresh completed", "schedule", schedule)
	})
	if err != nil {
		return goerr.Wrap(err, "invalid refresh schedule", goerr.V("schedule", schedule))
	}

	c.Start()
	appLog.Info("feed refresher started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		// Wait for a running refresh to finish.
		<-c.Stop().Done()
		appLog.Info("feed refresher stopped")
	}()
	return nil
}
