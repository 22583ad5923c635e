package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_enqueue_total", Help: "Queue items created by campaign enqueue and follow-ups"},
		[]string{"source"},
	)
	Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_dispatch_batches_total", Help: "Dispatch batches by result"},
		[]string{"result"},
	)
	Items = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_dispatch_items_total", Help: "Queue item outcomes"},
		[]string{"outcome"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_send_total", Help: "Transport send outcomes"},
		[]string{"account_kind", "result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "outreach_send_latency_seconds", Help: "Transport send latency"},
	)
	AccountsDisabled = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_accounts_disabled_total", Help: "Accounts taken out of rotation for credential errors"},
		[]string{"account"},
	)
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outreach_events_published_total", Help: "Dispatch events published"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Enqueues, Batches, Items, Sends, SendLatency, AccountsDisabled, EventsPublished)
}
