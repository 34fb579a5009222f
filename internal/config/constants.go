package config

import "time"

const (
	// Reward bounds per execution (internal currency units)
	MinReward = 1
	MaxReward = 100_000

	// Execution count bounds per task
	MinExecutions = 1
	MaxExecutions = 10_000

	// MinRewardUnit is the smallest payable amount; per-activation splits
	// that floor below this are rejected.
	MinRewardUnit = 1

	// Task lifetime bounds
	MinTaskLifetime = 1 * time.Hour
	MaxTaskLifetime = 30 * 24 * time.Hour

	// Moderation queue paging
	QueuePageLimit    = 20
	QueuePageLimitMax = 100

	// Priority thresholds by time in queue
	QueueUrgentAfter = 12 * time.Hour
	QueueHighSpend   = 10_000

	// Anomaly detection defaults
	AnomalyWindow         = 7 * 24 * time.Hour
	AnomalyMaxTasksPerDay = 50.0
	AnomalyMinExecution   = 5 * time.Second
	AnomalyPerfectSample  = 20
	AnomalyTimingShare    = 0.8

	// Sweeper batch size per pass
	SweepBatchSize = 100

	// Verifier request timeout
	CheckRequestTimeout = 30 * time.Second

	// Notifier send timeout
	NotifyTimeout = 10 * time.Second
)
