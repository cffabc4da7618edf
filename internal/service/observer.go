package service

import "time"

// Metrics receives counters from the scheduler components. A nil Metrics is valid.
type Metrics interface {
	CascadeFinished(status, reason string)
	RouteApplied(timeframe, outcome string)
	LifecycleApplied(kind string, applied bool)
	DuplicateEvent(source string)
	LockContended(key string)
	CycleFinished(timeframe, status string, took time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) CascadeFinished(string, string)              {}
func (nopMetrics) RouteApplied(string, string)                 {}
func (nopMetrics) LifecycleApplied(string, bool)               {}
func (nopMetrics) DuplicateEvent(string)                       {}
func (nopMetrics) LockContended(string)                        {}
func (nopMetrics) CycleFinished(string, string, time.Duration) {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
