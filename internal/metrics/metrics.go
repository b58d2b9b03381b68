// Package metrics exposes operational metrics over Prometheus. The
// collector pulls from narrow provider interfaces at scrape time so
// the orchestrators never push and never block on the metrics path.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dialhub/dialhub/internal/telephony"
)

// ActiveCallsProvider exposes how many calls a flow has in flight.
type ActiveCallsProvider interface {
	ActiveCalls() int
}

// ConnStatusProvider exposes the control-plane connection health.
type ConnStatusProvider interface {
	Status() (telephony.Status, string)
}

// ChannelCounter exposes the number of tracked telephony channels.
type ChannelCounter interface {
	Len() int
}

// CallStatusCounter returns call counts grouped by lifecycle status.
type CallStatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers dialer metrics at
// scrape time. Any provider may be nil if unavailable.
type Collector struct {
	aiCalls     ActiveCallsProvider
	manualCalls ActiveCallsProvider
	conn        ConnStatusProvider
	channels    ChannelCounter
	calls       CallStatusCounter
	startTime   time.Time

	activeCallsDesc *prometheus.Desc
	connUpDesc      *prometheus.Desc
	channelsDesc    *prometheus.Desc
	callsTotalDesc  *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a metrics collector over the given providers.
func NewCollector(
	aiCalls, manualCalls ActiveCallsProvider,
	conn ConnStatusProvider,
	channels ChannelCounter,
	calls CallStatusCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		aiCalls:     aiCalls,
		manualCalls: manualCalls,
		conn:        conn,
		channels:    channels,
		calls:       calls,
		startTime:   startTime,

		activeCallsDesc: prometheus.NewDesc(
			"dialhub_active_calls",
			"Number of calls currently in flight",
			[]string{"flow"}, nil,
		),
		connUpDesc: prometheus.NewDesc(
			"dialhub_ari_connected",
			"Whether the ARI control-plane connection is up (1=connected)",
			[]string{"status"}, nil,
		),
		channelsDesc: prometheus.NewDesc(
			"dialhub_tracked_channels",
			"Number of telephony channels in the registry",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"dialhub_calls_total",
			"Total call records by lifecycle status",
			[]string{"status"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialhub_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.connUpDesc
	ch <- c.channelsDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.aiCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.aiCalls.ActiveCalls()), "ai",
		)
	}
	if c.manualCalls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.manualCalls.ActiveCalls()), "manual",
		)
	}

	if c.conn != nil {
		status, _ := c.conn.Status()
		val := 0.0
		if status == telephony.StatusConnected {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.connUpDesc, prometheus.GaugeValue, val, string(status),
		)
	}

	if c.channels != nil {
		ch <- prometheus.MustNewConstMetric(
			c.channelsDesc, prometheus.GaugeValue,
			float64(c.channels.Len()),
		)
	}

	if c.calls != nil {
		counts, err := c.calls.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by status", "error", err)
		} else {
			for _, status := range []string{"initiated", "in_progress", "completed", "failed"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[status]), status,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
