package metrics

import (
	"sync/atomic"
)

// Collector tracks the engine's operational counters.
type Collector struct {
	jobsStarted    atomic.Int64
	jobsCompleted  atomic.Int64
	jobsFailed     atomic.Int64
	jobsCancelled  atomic.Int64
	tasksSucceeded atomic.Int64
	tasksFailed    atomic.Int64
	assetsUploaded atomic.Int64
	assetsFailed   atomic.Int64
	retries        atomic.Int64
	sessionResyncs atomic.Int64
	breakerOpens   atomic.Int64
	locksReaped    atomic.Int64
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) RecordJobStart()        { c.jobsStarted.Add(1) }
func (c *Collector) RecordJobCompletion()   { c.jobsCompleted.Add(1) }
func (c *Collector) RecordJobFailure()      { c.jobsFailed.Add(1) }
func (c *Collector) RecordJobCancellation() { c.jobsCancelled.Add(1) }
func (c *Collector) RecordTaskSuccess()     { c.tasksSucceeded.Add(1) }
func (c *Collector) RecordTaskFailure()     { c.tasksFailed.Add(1) }
func (c *Collector) RecordAssetUpload()     { c.assetsUploaded.Add(1) }
func (c *Collector) RecordAssetFailure()    { c.assetsFailed.Add(1) }
func (c *Collector) RecordRetry()           { c.retries.Add(1) }
func (c *Collector) RecordSessionResync()   { c.sessionResyncs.Add(1) }
func (c *Collector) RecordBreakerOpen()     { c.breakerOpens.Add(1) }

func (c *Collector) RecordLocksReaped(n int) { c.locksReaped.Add(int64(n)) }

// GetMetrics returns the current counters
func (c *Collector) GetMetrics() map[string]int64 {
	return map[string]int64{
		"jobs_started":    c.jobsStarted.Load(),
		"jobs_completed":  c.jobsCompleted.Load(),
		"jobs_failed":     c.jobsFailed.Load(),
		"jobs_cancelled":  c.jobsCancelled.Load(),
		"tasks_succeeded": c.tasksSucceeded.Load(),
		"tasks_failed":    c.tasksFailed.Load(),
		"assets_uploaded": c.assetsUploaded.Load(),
		"assets_failed":   c.assetsFailed.Load(),
		"retries":         c.retries.Load(),
		"session_resyncs": c.sessionResyncs.Load(),
		"breaker_opens":   c.breakerOpens.Load(),
		"locks_reaped":    c.locksReaped.Load(),
	}
}
