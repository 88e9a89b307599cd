package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed metrics
	FeedNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushbot_feed_notifications_total",
		Help: "Trophy change notifications received from the feed, by outcome",
	}, []string{"result"})

	// Batch writer metrics
	BatchBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pushbot_batch_buffer_size",
		Help: "Number of trophy change records waiting for the next flush",
	})
	BatchFlushedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushbot_batch_flushed_records_total",
		Help: "Trophy change records written to PostgreSQL",
	})
	BatchFlushErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushbot_batch_flush_errors_total",
		Help: "Failed bulk writes of trophy change records",
	})
	BatchFlushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pushbot_batch_flush_latency_seconds",
		Help:    "Latency of the bulk trophy event write",
		Buckets: prometheus.DefBuckets,
	})

	// Leaderboard metrics
	LeaderboardRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushbot_leaderboard_refresh_total",
		Help: "Leaderboard refreshes per guild, by outcome",
	}, []string{"result"})
	LeaderboardPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushbot_leaderboard_pages_total",
		Help: "Leaderboard page messages created or deleted during reconciliation",
	}, []string{"action"})

	// Event log metrics
	LogDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushbot_log_dispatch_total",
		Help: "Event log batches dispatched, by delivery mode",
	}, []string{"mode"})
	LogEventsReportedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushbot_log_events_reported_total",
		Help: "Trophy events marked as reported",
	})
	TimerWatcherState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pushbot_timer_watcher_state",
		Help: "Timer watcher state: 0 idle, 1 waiting, 2 firing",
	})
	TimerWatcherRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushbot_timer_watcher_restarts_total",
		Help: "Times the timer watcher was restarted after a failure",
	})

	// Scheduler metrics
	TaskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushbot_task_runs_total",
		Help: "Background task ticks, by task and outcome",
	}, []string{"task", "result"})
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pushbot_task_duration_seconds",
		Help:    "Duration of background task ticks",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	// Feeder metrics
	FeederPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pushbot_feeder_polls_total",
		Help: "Clan roster polls, by outcome",
	}, []string{"result"})
	FeederChangesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushbot_feeder_changes_published_total",
		Help: "Trophy changes published to Kafka",
	})
	FeederPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushbot_feeder_publish_errors_total",
		Help: "Trophy changes that could not be published after retries",
	})
	FeederSnapshotSavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pushbot_feeder_snapshot_saves_total",
		Help: "Trophy snapshot saves to storage",
	})
)
