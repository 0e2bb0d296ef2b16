// Package metrics exposes bridge counters to Prometheus. Collectors
// pull from the bridge's own atomic counters at scrape time, so the
// cyclic hot path carries no instrumentation overhead.
package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/armbridge/armbridge/internal/bridge"
)

const namespace = "armbridge"

// Sources supplies the values the collectors read at scrape time.
type Sources struct {
	Status        func() bridge.Status
	BusPublished  func() uint64
	BusBadInbound func() uint64
}

// Register installs the bridge collectors on reg.
func Register(reg prom.Registerer, src Sources) error {
	collectors := []prom.Collector{
		prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: namespace, Name: "connected",
			Help: "1 when a live cyclic loop owns the connection",
		}, func() float64 {
			if src.Status().Connected {
				return 1
			}
			return 0
		}),
		prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Completed cyclic steps across all sessions",
		}, func() float64 { return float64(src.Status().Cycles) }),
		prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace, Name: "publish_skips_total",
			Help: "Cycles whose state publish was skipped because the consumer was busy",
		}, func() float64 { return float64(src.Status().PublishSkips) }),
		prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace, Name: "command_drops_total",
			Help: "Commands overwritten in the handoff before being read",
		}, func() float64 { return float64(src.Status().CommandDrops) }),
	}
	if src.BusPublished != nil {
		collectors = append(collectors, prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace, Name: "states_published_total",
			Help: "States delivered to the broker",
		}, func() float64 { return float64(src.BusPublished()) }))
	}
	if src.BusBadInbound != nil {
		collectors = append(collectors, prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace, Name: "bad_commands_total",
			Help: "Malformed inbound commands dropped",
		}, func() float64 { return float64(src.BusBadInbound()) }))
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics endpoint for the given gatherer.
func Handler(g prom.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
