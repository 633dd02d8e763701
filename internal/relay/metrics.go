package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	generated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "voucher",
		Subsystem: "relay",
		Name:      "generated_total",
		Help:      "Bridge vouchers signed and queued.",
	})

	settled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voucher",
		Subsystem: "relay",
		Name:      "settled_total",
		Help:      "Queued bridge vouchers processed by the settler, by outcome.",
	}, []string{"outcome"})
)

// RegisterMetrics adds the relay counters to reg. Later calls are no-ops.
func RegisterMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(generated, settled)
	})
}
