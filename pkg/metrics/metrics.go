// Package metrics exposes pipeline counters to Prometheus. The
// endpoint is optional: it is only served when a listen address is
// configured, which is useful while a very large capture is running.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forest33/dpipe/pkg/logger"
)

// Collector registers and updates the pipeline metrics. A nil
// *Collector is valid and does nothing, so the hot path never checks
// for configuration.
type Collector struct {
	packets   prometheus.Counter
	bytes     prometheus.Counter
	tcp       prometheus.Counter
	udp       prometheus.Counter
	forwarded prometheus.Counter
	dropped   *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpipe", Name: "packets_total", Help: "Packets read from the capture.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpipe", Name: "bytes_total", Help: "Bytes read from the capture.",
		}),
		tcp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpipe", Name: "tcp_packets_total", Help: "TCP packets dispatched.",
		}),
		udp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpipe", Name: "udp_packets_total", Help: "UDP packets dispatched.",
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpipe", Name: "forwarded_packets_total", Help: "Packets written to the output capture.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpipe", Name: "dropped_packets_total", Help: "Packets dropped by blocking rules.",
		}, []string{"reason"}),
	}
	prometheus.MustRegister(c.packets, c.bytes, c.tcp, c.udp, c.forwarded, c.dropped)
	return c
}

func (c *Collector) IncPacket(size int, tcp, udp bool) {
	if c == nil {
		return
	}
	c.packets.Inc()
	c.bytes.Add(float64(size))
	if tcp {
		c.tcp.Inc()
	} else if udp {
		c.udp.Inc()
	}
}

func (c *Collector) IncForwarded() {
	if c == nil {
		return
	}
	c.forwarded.Inc()
}

func (c *Collector) IncDropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

// Serve exposes /metrics on the given address until the process ends.
func Serve(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}
