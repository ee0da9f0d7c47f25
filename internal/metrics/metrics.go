// Package metrics exposes operational counters and gauges on /metrics.
// Gauges are sampled live from the session registry; counters are bumped by
// the owning service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deadhold/backend/internal/registry"
)

type Set struct {
	reg *prometheus.Registry

	SpawnsTotal        prometheus.Counter
	SpawnFailuresTotal prometheus.Counter
	TerminationsTotal  *prometheus.CounterVec
	HeartbeatsTotal    prometheus.Counter
	RaidCommitsTotal   *prometheus.CounterVec
	ListingsSoldTotal  prometheus.Counter
}

// New builds the metric set and registers live gauges over the session
// registry. Each Set owns a private prometheus registry so tests can build
// as many as they like.
func New(sessions *registry.Registry) *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		reg: reg,
		SpawnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backend_server_spawns_total",
			Help: "Match-server processes spawned.",
		}),
		SpawnFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backend_server_spawn_failures_total",
			Help: "Match-server spawn attempts that failed to start.",
		}),
		TerminationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_server_terminations_total",
			Help: "Match-server terminations by reason class.",
		}, []string{"reason"}),
		HeartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backend_server_heartbeats_total",
			Help: "Heartbeats received from match servers.",
		}),
		RaidCommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_raid_commits_total",
			Help: "Raid commit attempts by result.",
		}, []string{"result"}),
		ListingsSoldTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backend_market_listings_sold_total",
			Help: "Market listings sold.",
		}),
	}
	reg.MustRegister(
		s.SpawnsTotal, s.SpawnFailuresTotal, s.TerminationsTotal,
		s.HeartbeatsTotal, s.RaidCommitsTotal, s.ListingsSoldTotal,
	)

	for _, g := range []struct {
		name, help string
		status     registry.ServerStatus
	}{
		{"backend_servers_starting", "Servers in Starting state.", registry.StatusStarting},
		{"backend_servers_ready", "Servers in Ready state.", registry.StatusReady},
		{"backend_servers_in_game", "Servers in InGame state.", registry.StatusInGame},
		{"backend_servers_full", "Servers in Full state.", registry.StatusFull},
	} {
		status := g.status
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(sessions.Stats().ServersByStatus[status]) }))
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "backend_matches_active", Help: "Non-ended matches.",
	}, func() float64 { return float64(sessions.Stats().MatchesActive) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "backend_players_in_match", Help: "Players bound to a non-ended match.",
	}, func() float64 { return float64(sessions.Stats().PlayersInMatch) }))

	return s
}

// ObserveDomain registers live gauges over the domain services. Called once
// at boot, after the services exist; the count functions must be safe to call
// from the scrape goroutine.
func (s *Set) ObserveDomain(openLobbies, activeRaids, activeListings func() int) {
	for _, g := range []struct {
		name, help string
		count      func() int
	}{
		{"backend_lobbies_open", "Lobbies not yet torn down.", openLobbies},
		{"backend_raids_active", "Raid sessions in Preparing or Active.", activeRaids},
		{"backend_market_listings_active", "Market listings open for purchase.", activeListings},
	} {
		count := g.count
		s.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(count()) }))
	}
}

// Handler serves the set in the prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}
