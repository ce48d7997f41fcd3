package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher re-runs the catalog loader on a cron schedule.
type Refresher struct {
	loader  *Loader
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	logger  *logrus.Entry
}

func NewRefresher(loader *Loader, spec string) *Refresher {
	return &Refresher{
		loader:  loader,
		cron:    cron.New(),
		spec:    spec,
		timeout: 5 * time.Minute,
		logger:  logrus.WithField("component", "catalog_refresher"),
	}
}

// Start schedules the refresh job and starts the cron runner.
func (r *Refresher) Start() error {
	_, err := r.cron.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.loader.Load(ctx); err != nil {
			r.logger.WithError(err).Error("Scheduled catalog refresh failed")
			return
		}
		r.logger.Info("Scheduled catalog refresh completed")
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.spec, err)
	}

	r.cron.Start()
	r.logger.WithField("schedule", r.spec).Info("Catalog refresher started")
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
