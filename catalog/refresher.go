/*
refresher.go - Scheduled snapshot reload

Reference data drifts as other operators edit companies, contacts, and
price rules. The refresher reloads the snapshot on a cron schedule so a
long-lived process does not serve arbitrarily stale catalogs. Anything
that must be exact (custody uniqueness, sequences) never reads the
snapshot anyway.
*/
package catalog

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher periodically invalidates and reloads a Snapshot.
type Refresher struct {
	snap *Snapshot
	log  *zap.Logger
	cron *cron.Cron
}

func NewRefresher(snap *Snapshot, log *zap.Logger) *Refresher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{snap: snap, log: log, cron: cron.New()}
}

// Start schedules reloads per the cron expression (standard 5-field spec,
// e.g. "*/15 * * * *") and begins running them in the background.
func (r *Refresher) Start(spec string) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		r.snap.Invalidate()
		if err := r.snap.Load(ctx); err != nil {
			r.log.Warn("catalog refresh failed", zap.Error(err))
			return
		}
		r.log.Debug("catalog refreshed")
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running reload to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
