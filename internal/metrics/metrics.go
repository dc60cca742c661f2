// SPDX-License-Identifier: MIT

// Package metrics exposes the daemon's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "submux",
		Name:      "sessions_active",
		Help:      "Number of sessions currently held in the store",
	})

	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submux",
		Name:      "stage_transitions_total",
		Help:      "Total session stage transitions",
	}, []string{"to"})

	SessionsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submux",
		Name:      "sessions_terminated_total",
		Help:      "Total sessions removed from the store",
	}, []string{"outcome"})

	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submux",
		Name:      "downloads_total",
		Help:      "Total download daemon jobs by result",
	}, []string{"result"})

	MediaToolRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submux",
		Name:      "mediatool_runs_total",
		Help:      "Total media tool invocations by operation and result",
	}, []string{"op", "result"})

	ProgressEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submux",
		Name:      "progress_edits_total",
		Help:      "Status surface edits issued vs suppressed",
	}, []string{"outcome"})

	FeedItemsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "submux",
		Name:      "feed_items_published_total",
		Help:      "Total feed entries republished to target channels",
	})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "submux",
		Name:      "uploads_total",
		Help:      "Total artifact uploads by result",
	}, []string{"result"})
)
