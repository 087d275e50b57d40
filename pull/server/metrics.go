package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leasesGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_leases_granted_total",
		Help: "Total leases granted to pull agents.",
	})
	filesLeasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_files_leased_total",
		Help: "Total file reservations handed out in leases.",
	})
	filesConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitter_files_confirmed_total",
		Help: "Total files confirmed by agents, labelled by result.",
	}, []string{"result"})
	leaseExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitter_lease_files_expired_total",
		Help: "Total leased files returned to pending by the TTL sweep.",
	})
	pendingFilesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitter_pending_files",
		Help: "Child files currently waiting to be leased.",
	})
)
