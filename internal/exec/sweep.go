package exec

import "context"

// CacheSweepJob evicts expired entries from a ResultCache on a schedule.
// It implements scheduler.Job (Name/Run) so it can be registered with the
// shared periodic scheduler alongside any other background job.
type CacheSweepJob struct {
	cache *ResultCache
}

// NewCacheSweepJob creates a sweep job over the given cache.
func NewCacheSweepJob(cache *ResultCache) *CacheSweepJob {
	return &CacheSweepJob{cache: cache}
}

func (j *CacheSweepJob) Name() string { return "result_cache_sweep" }

func (j *CacheSweepJob) Run(_ context.Context) error {
	j.cache.Sweep()
	return nil
}
