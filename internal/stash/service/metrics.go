package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stash_search_seconds",
		Help:    "Time spent serving an availability search.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	searchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stash_search_candidates",
		Help:    "Geo index candidates considered per search.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})

	droppedCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stash_search_dropped_candidates_total",
		Help: "Candidates excluded because their capacity lookup failed or timed out.",
	})

	invariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stash_capacity_invariant_violations_total",
		Help: "Observed cases of booked bags exceeding a point's total capacity.",
	})
)
