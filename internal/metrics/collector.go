package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats provides the collector access to orchestrator state.
type QueueStats interface {
	QueueDepth() int
	ActiveJobs() int
}

// SubscriberCounter reports live event stream subscribers.
type SubscriberCounter interface {
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	queue QueueStats
	subs  SubscriberCounter

	queueDepth      *prometheus.Desc
	activeJobs      *prometheus.Desc
	subscribers     *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil; its gauges then report 0.
func NewCollector(pool *pgxpool.Pool, queue QueueStats, subs SubscriberCounter) *Collector {
	return &Collector{
		pool:  pool,
		queue: queue,
		subs:  subs,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Jobs waiting for a worker.",
			nil, nil,
		),
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_jobs"),
			"Jobs currently owned by a worker.",
			nil, nil,
		),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_subscribers_active"),
			"Current number of SSE and websocket subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.activeJobs
	ch <- c.subscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var depth, active, subs float64
	if c.queue != nil {
		depth = float64(c.queue.QueueDepth())
		active = float64(c.queue.ActiveJobs())
	}
	if c.subs != nil {
		subs = float64(c.subs.SubscriberCount())
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, depth)
	ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, active)
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, subs)

	var total, acquired, idle float64
	if c.pool != nil {
		stat := c.pool.Stat()
		total = float64(stat.TotalConns())
		acquired = float64(stat.AcquiredConns())
		idle = float64(stat.IdleConns())
	}
	ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, total)
	ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, acquired)
	ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, idle)
}
