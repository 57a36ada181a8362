package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edvin/mailcore/internal/model"
)

var (
	assignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_assignments_total",
			Help: "Folder assignments performed for sent mail, by result",
		},
		[]string{"result"},
	)

	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_sends_total",
			Help: "Send operations by outcome",
		},
		[]string{"outcome"},
	)

	busyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_busy_total",
			Help: "Operations that gave up on a lock or statement timeout",
		},
		[]string{"op"},
	)

	guardViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_guard_violations_total",
			Help: "Writes refused by a schema constraint or guard trigger",
		},
		[]string{"op"},
	)

	backfillChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mail_backfill_chunks_total",
			Help: "Backfill chunks committed",
		},
	)
)

// Send outcomes.
const (
	SendDelivered = "delivered"
	SendPartial   = "partial"
	SendFailed    = "failed"
)

func RecordAssignment(r *model.AssignResult) {
	assignmentsTotal.WithLabelValues("created").Add(float64(r.Created))
	assignmentsTotal.WithLabelValues("skipped").Add(float64(r.Skipped))
	assignmentsTotal.WithLabelValues("unresolved").Add(float64(len(r.Unresolved)))
}

func RecordSend(outcome string) {
	sendsTotal.WithLabelValues(outcome).Inc()
}

func RecordBusy(op string) {
	busyTotal.WithLabelValues(op).Inc()
}

func RecordGuardViolation(op string) {
	guardViolationsTotal.WithLabelValues(op).Inc()
}

func RecordBackfillChunk() {
	backfillChunksTotal.Inc()
}
