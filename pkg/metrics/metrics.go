package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	DatasetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cove_datasets_total",
			Help: "Number of datasets currently in the pool",
		},
	)

	BytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cove_stream_bytes_sent_total",
			Help: "Total bytes written into outgoing snapshot diff streams",
		},
	)

	// Replication metrics
	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cove_pushes_total",
			Help: "Total push operations by result",
		},
		[]string{"result"},
	)

	ReceivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cove_receives_total",
			Help: "Total receive operations by result",
		},
		[]string{"result"},
	)
)

// Register registers all metrics with the default Prometheus registry.
// Call once at startup.
func Register() {
	prometheus.MustRegister(
		DatasetsTotal,
		BytesSentTotal,
		PushesTotal,
		ReceivesTotal,
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
