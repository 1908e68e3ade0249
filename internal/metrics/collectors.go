package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle results.
const (
	ResultOK          = "ok"
	ResultGlobalError = "global_error"
)

// Collectors are the counters and gauges updated by the polling loop.
type Collectors struct {
	Cycles           *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	Tracked          prometheus.Gauge
}

// NewCollectors creates the notifier collectors and registers them in reg.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homework_notifier_cycles_total",
			Help: "Number of completed polling cycles by result.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homework_notifier_notifications_total",
			Help: "Number of notifications produced by kind.",
		}, []string{"kind"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homework_notifier_delivery_failures_total",
			Help: "Number of notifications that could not be sent.",
		}),
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homework_notifier_tracked_submissions",
			Help: "Number of submissions whose status is remembered.",
		}),
	}

	for _, col := range []prometheus.Collector{c.Cycles, c.Notifications, c.DeliveryFailures, c.Tracked} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register collector: %v", err)
		}
	}
	return c, nil
}
