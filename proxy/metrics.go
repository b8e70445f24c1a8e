package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Messages requests by mode and outcome.",
	}, []string{"mode", "outcome"})

	upstreamErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Upstream transport and protocol failures.",
	})

	streamEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_stream_events_total",
		Help: "Claude SSE events emitted to clients.",
	})
)
