package graph

import "github.com/prometheus/client_golang/prometheus"

var (
	rowsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dijet_rows_processed_total",
		Help: "Events read by graph runs",
	})
	nodeEvaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dijet_node_evaluations_total",
		Help: "Column expression evaluations performed by graph runs",
	})
	batchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "dijet_batch_seconds",
		Help: "Time spent evaluating the booked actions over one batch",
	})
	runLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dijet_run_seconds",
		Help:    "Graph run latency distribution",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(rowsProcessed, nodeEvaluations, batchLatency, runLatency)
}
