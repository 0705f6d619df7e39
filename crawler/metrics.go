package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "muchopper",
			Name:      "pass_duration_seconds",
			Help:      "Duration of the last full pass of a periodic component.",
		},
		[]string{"component"},
	)
	lastPassEndSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "muchopper",
			Name:      "last_pass_end_seconds",
			Help:      "Unix timestamp at which a periodic component last finished a pass.",
		},
		[]string{"component"},
	)
	domainsScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muchopper",
			Subsystem: "scanner",
			Name:      "domains_scanned_total",
			Help:      "Domains the scanner has looked at, by outcome.",
		},
		[]string{"type"},
	)
	roomsScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muchopper",
			Subsystem: "watcher",
			Name:      "rooms_scanned_total",
			Help:      "Rooms the watcher has probed, by outcome.",
		},
		[]string{"result"},
	)
	candidatesAnalysedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muchopper",
			Subsystem: "analyser",
			Name:      "candidates_total",
			Help:      "Candidate addresses the analyser has classified, by outcome.",
		},
		[]string{"outcome"},
	)
	joinedRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "muchopper",
			Subsystem: "observer",
			Name:      "joined_rooms",
			Help:      "Number of rooms the observer currently occupies.",
		},
	)
)

const (
	domainScanMUC    = "muc"
	domainScanOther  = "other"
	domainScanFailed = "failed"
)
