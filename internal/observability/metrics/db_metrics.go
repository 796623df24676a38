package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const dbGaugeTimeout = 2 * time.Second

type dbGauge struct {
	name  string
	help  string
	query string
}

// Backlog gauges read on each scrape.
var dbGauges = []dbGauge{
	{"event_outbox_pending", "Notification envelopes waiting for dispatch", `SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'`},
	{"event_dlq_count", "Notification envelopes in the dead letter table", `SELECT COUNT(*) FROM dead_letter_events`},
	{"bookings_awaiting_payout", "Paid or completed bookings without an owner payout", `SELECT COUNT(*) FROM bookings WHERE status IN ('paid', 'completed') AND NOT paid_out`},
	{"bookings_pending", "Bookings waiting for an owner decision", `SELECT COUNT(*) FROM bookings WHERE status = 'pending'`},
}

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	for _, g := range dbGauges {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			countFunc(db, logger, g),
		))
	}
}

func countFunc(db *sql.DB, logger *zap.Logger, g dbGauge) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), dbGaugeTimeout)
		defer cancel()
		var n int64
		if err := db.QueryRowContext(ctx, g.query).Scan(&n); err != nil {
			if logger != nil {
				logger.Warn("metrics query failed", zap.String("gauge", g.name), zap.Error(err))
			}
			return 0
		}
		return float64(max(n, 0))
	}
}
