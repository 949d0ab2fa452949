package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	GRPCMetrics = grpcprometheus.NewServerMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = "IndexFS"
		},
	)

	Splits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "IndexFS",
		Name:      "partition_splits_total",
		Help:      "Completed directory partition splits.",
	})

	Redirections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "IndexFS",
		Name:      "server_redirections_total",
		Help:      "Requests answered with a bitmap redirection.",
	})

	LeaseWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "IndexFS",
		Name:      "lease_write_locks_total",
		Help:      "Mutations that write-locked a leased directory entry.",
	})
)

func init() {
	Registry.MustRegister(
		GRPCMetrics,
		Splits,
		Redirections,
		LeaseWaits,
	)
	GRPCMetrics.EnableHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = "IndexFS"
		},
	)
}
