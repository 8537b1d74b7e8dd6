package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/bergate/internal/collate"
)

type serverMetrics struct {
	scores       *prometheus.CounterVec
	slices       *prometheus.CounterVec
	requestFails *prometheus.CounterVec
	ber          prometheus.Histogram
	duration     *prometheus.HistogramVec
	lastBER      prometheus.Gauge
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	f := promauto.With(reg)
	return &serverMetrics{
		scores: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bergate_scores_total",
				Help: "Scoring runs by verdict",
			},
			[]string{"verdict"},
		),
		slices: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bergate_slices_total",
				Help: "Candidate slices by stream and recovery outcome",
			},
			[]string{"stream", "outcome"},
		),
		requestFails: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bergate_request_errors_total",
				Help: "Rejected or failed requests by endpoint",
			},
			[]string{"endpoint"},
		),
		ber: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bergate_score_ber",
				Help:    "Distribution of scored bit-error rates",
				Buckets: prometheus.ExponentialBuckets(1e-7, 10, 8), // 1e-7 to 1
			},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bergate_request_duration_seconds",
				Help:    "Request processing time by endpoint",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		lastBER: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "bergate_last_ber",
				Help: "Bit-error rate of the most recent scoring run",
			},
		),
	}
}

func (m *serverMetrics) observeCollation(stream string, st collate.Stats) {
	m.slices.WithLabelValues(stream, "crc").Add(float64(st.CRCMatched))
	m.slices.WithLabelValues(stream, "vote").Add(float64(st.Voted))
	m.slices.WithLabelValues(stream, "failed").Add(float64(st.Failed))
	m.slices.WithLabelValues(stream, "duplicate").Add(float64(st.Duplicates))
}

func verdict(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}
