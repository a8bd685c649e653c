package cache

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepJob periodically removes expired rows. Cadence is configurable and
// never required for correctness - Get already enforces TTL at query
// time regardless of whether a sweep has run.
type SweepJob struct {
	cron   *cron.Cron
	cache  *Cache
	logger *zap.Logger
}

// NewSweepJob wires a cron schedule (standard 5-field cron spec, e.g.
// "*/5 * * * *" for every five minutes) to CleanupExpired.
func NewSweepJob(c *Cache, schedule string, logger *zap.Logger) (*SweepJob, error) {
	sj := &SweepJob{cron: cron.New(), cache: c, logger: logger}
	_, err := sj.cron.AddFunc(schedule, sj.run)
	if err != nil {
		return nil, err
	}
	return sj, nil
}

func (sj *SweepJob) run() {
	n, err := sj.cache.CleanupExpired()
	if err != nil {
		sj.logger.Warn("cache sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		sj.logger.Debug("cache sweep removed expired rows", zap.Int64("rows", n))
	}
}

// Start begins the background sweep schedule.
func (sj *SweepJob) Start() { sj.cron.Start() }

// Stop halts the schedule, waiting for any in-flight run to finish.
func (sj *SweepJob) Stop() { sj.cron.Stop() }
