// Package registry is the authoritative in-memory store of match servers,
// matches, and player→match bindings. All mutations happen under one mutex;
// accessors hand out copies so callers never observe a half-applied change.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deadhold/backend/internal/errs"
)

type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusInGame   ServerStatus = "in_game"
	StatusFull     ServerStatus = "full"
	StatusStopping ServerStatus = "stopping"
	StatusStopped  ServerStatus = "stopped"
	StatusError    ServerStatus = "error"
)

type MatchStatus string

const (
	MatchWaiting    MatchStatus = "waiting"
	MatchInProgress MatchStatus = "in_progress"
	MatchEnded      MatchStatus = "ended"
)

// Server is one match-server instance. External servers are hosts registered
// over the discovery protocol; they have no child process behind them.
type Server struct {
	ID             string       `json:"serverId"`
	Name           string       `json:"name,omitempty"`
	Host           string       `json:"host,omitempty"` // empty = backend's advertised host
	Port           int          `json:"port"`
	Status         ServerStatus `json:"status"`
	CurrentPlayers int          `json:"currentPlayers"`
	MaxPlayers     int          `json:"maxPlayers"`
	MatchID        string       `json:"matchId,omitempty"`
	GameVersion    string       `json:"gameVersion,omitempty"`
	External       bool         `json:"external,omitempty"`
	LastHeartbeat  time.Time    `json:"lastHeartbeat"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Match is one running or finished game session.
type Match struct {
	ID          string      `json:"matchId"`
	ServerID    string      `json:"serverId"`
	GameMode    string      `json:"gameMode"`
	Status      MatchStatus `json:"status"`
	Players     []string    `json:"players"`
	CurrentWave int         `json:"currentWave"`
	EndReason   string      `json:"endReason,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Stats is a consistent snapshot for /status and metrics.
type Stats struct {
	ServersByStatus map[ServerStatus]int `json:"serversByStatus"`
	ServersTotal    int                  `json:"serversTotal"`
	MatchesActive   int                  `json:"matchesActive"`
	MatchesTotal    int                  `json:"matchesTotal"`
	PlayersInMatch  int                  `json:"playersInMatch"`
}

// Starting servers get extra slack before the heartbeat sweep may reap them:
// the match server only begins heartbeating after it reports ready.
const startingGrace = 60 * time.Second

type Registry struct {
	mu      sync.Mutex
	servers map[string]*Server
	matches map[string]*Match

	// Secondary indexes, updated synchronously with the primary maps.
	byPort      map[int]string    // port → server id
	playerMatch map[string]string // player id → non-ended match id
	serverMatch map[string]string // server id → non-ended match id
}

func New() *Registry {
	return &Registry{
		servers:     make(map[string]*Server),
		matches:     make(map[string]*Match),
		byPort:      make(map[int]string),
		playerMatch: make(map[string]string),
		serverMatch: make(map[string]string),
	}
}

// RegisterServer adds a Starting entry for an orchestrator-spawned server.
// The port must be unique among live servers.
func (r *Registry) RegisterServer(id string, port, maxPlayers int) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, taken := r.byPort[port]; taken {
		return nil, &portConflictError{port: port, holder: other}
	}
	now := time.Now()
	s := &Server{
		ID:            id,
		Port:          port,
		Status:        StatusStarting,
		MaxPlayers:    maxPlayers,
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	r.servers[id] = s
	r.byPort[port] = id
	return s.clone(), nil
}

// RegisterExternal adds a Ready entry for a discovery-registered host.
// host:port must be unique among live servers; a second registration for the
// same endpoint is rejected until the first is unregistered.
func (r *Registry) RegisterExternal(name, host string, port, maxPlayers, currentPlayers int, gameVersion string) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, taken := r.byPort[port]; taken {
		if r.servers[other] == nil || r.servers[other].Host == host {
			return nil, &portConflictError{port: port, holder: other}
		}
		// Same port on a different host is fine; the index tracks local ports
		// only, so external hosts bypass it below.
	}
	for id, s := range r.servers {
		if s.External && s.Host == host && s.Port == port {
			return nil, &portConflictError{port: port, holder: id}
		}
	}
	now := time.Now()
	s := &Server{
		ID:             uuid.NewString(),
		Name:           name,
		Host:           host,
		Port:           port,
		Status:         StatusReady,
		CurrentPlayers: currentPlayers,
		MaxPlayers:     maxPlayers,
		GameVersion:    gameVersion,
		External:       true,
		LastHeartbeat:  now,
		CreatedAt:      now,
	}
	r.servers[s.ID] = s
	if s.Host == "" {
		r.byPort[port] = s.ID
	}
	return s.clone(), nil
}

// UnregisterServer removes a server. Any live match on it must be ended by
// the caller first; the orchestrator owns that decision.
func (r *Registry) UnregisterServer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return
	}
	if r.byPort[s.Port] == id {
		delete(r.byPort, s.Port)
	}
	delete(r.serverMatch, id)
	delete(r.servers, id)
}

// MarkReady transitions a server to Ready.
func (r *Registry) MarkReady(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return errs.New(errs.ServerNotFound)
	}
	s.Status = StatusReady
	s.LastHeartbeat = time.Now()
	return nil
}

// Heartbeat refreshes liveness and the player count. A full server flips to
// Full; freeing a slot flips it back to Ready unless a match claimed it.
func (r *Registry) Heartbeat(id string, playerCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return errs.New(errs.ServerNotFound)
	}
	s.LastHeartbeat = time.Now()
	s.CurrentPlayers = playerCount
	switch s.Status {
	case StatusReady:
		if playerCount >= s.MaxPlayers {
			s.Status = StatusFull
		}
	case StatusFull:
		if playerCount < s.MaxPlayers {
			s.Status = StatusReady
		}
	}
	return nil
}

// GetServer returns a copy of the server.
func (r *Registry) GetServer(id string) (*Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// FindByPort returns a copy of the local server bound to the port.
func (r *Registry) FindByPort(port int) (*Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPort[port]
	if !ok {
		return nil, false
	}
	return r.servers[id].clone(), true
}

// AvailableServer returns a Ready server with a free slot, preferring the
// lowest port so allocation stays deterministic.
func (r *Registry) AvailableServer() (*Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Server
	for _, s := range r.servers {
		if s.Status != StatusReady || s.CurrentPlayers >= s.MaxPlayers || s.External {
			continue
		}
		if best == nil || s.Port < best.Port {
			best = s
		}
	}
	if best == nil {
		return nil, false
	}
	return best.clone(), true
}

// ExternalServers returns discovery-registered hosts.
func (r *Registry) ExternalServers() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Server
	for _, s := range r.servers {
		if s.External {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Servers returns all servers sorted by port.
func (r *Registry) Servers() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// CountStartingOrReady is the pool size the orchestrator tops up against.
func (r *Registry) CountStartingOrReady() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.servers {
		if s.External {
			continue
		}
		if s.Status == StatusStarting || s.Status == StatusReady {
			n++
		}
	}
	return n
}

// TimedOut reports servers whose last heartbeat is older than timeout.
// Starting servers get startingGrace instead; the registry never unregisters
// on its own.
func (r *Registry) TimedOut(timeout time.Duration, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, s := range r.servers {
		switch s.Status {
		case StatusStopping, StatusStopped:
			continue
		case StatusStarting:
			if now.Sub(s.CreatedAt) > startingGrace {
				out = append(out, id)
			}
		default:
			if now.Sub(s.LastHeartbeat) > timeout {
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// CreateMatch opens a Waiting match on the server and claims it.
func (r *Registry) CreateMatch(serverID, gameMode string) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[serverID]
	if !ok {
		return nil, errs.New(errs.ServerNotFound)
	}
	if existing, busy := r.serverMatch[serverID]; busy {
		return r.matches[existing].clone(), nil
	}
	m := &Match{
		ID:        uuid.NewString(),
		ServerID:  serverID,
		GameMode:  gameMode,
		Status:    MatchWaiting,
		CreatedAt: time.Now(),
	}
	r.matches[m.ID] = m
	r.serverMatch[serverID] = m.ID
	s.Status = StatusInGame
	s.MatchID = m.ID
	return m.clone(), nil
}

// AddPlayer binds a player to the match. A player bound elsewhere is moved:
// the uniqueness invariant wins over a stale binding.
func (r *Registry) AddPlayer(matchID, playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok || m.Status == MatchEnded {
		return errs.New(errs.MatchNotFound)
	}
	if prev, bound := r.playerMatch[playerID]; bound && prev != matchID {
		r.removePlayerLocked(r.matches[prev], playerID)
	}
	for _, p := range m.Players {
		if p == playerID {
			return nil
		}
	}
	m.Players = append(m.Players, playerID)
	if m.Status == MatchWaiting {
		m.Status = MatchInProgress
	}
	r.playerMatch[playerID] = matchID
	return nil
}

// RemovePlayer unbinds a player from the match. Silent when absent.
func (r *Registry) RemovePlayer(matchID, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return
	}
	r.removePlayerLocked(m, playerID)
}

func (r *Registry) removePlayerLocked(m *Match, playerID string) {
	if m == nil {
		return
	}
	for i, p := range m.Players {
		if p == playerID {
			m.Players = append(m.Players[:i], m.Players[i+1:]...)
			break
		}
	}
	if r.playerMatch[playerID] == m.ID {
		delete(r.playerMatch, playerID)
	}
}

// SetWave records wave progress.
func (r *Registry) SetWave(matchID string, wave int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok || m.Status == MatchEnded {
		return errs.New(errs.MatchNotFound)
	}
	m.CurrentWave = wave
	return nil
}

// EndMatch is terminal: players are unbound and the server is released back
// to Ready if it is still alive.
func (r *Registry) EndMatch(matchID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return errs.New(errs.MatchNotFound)
	}
	if m.Status == MatchEnded {
		return nil
	}
	m.Status = MatchEnded
	m.EndReason = reason
	for _, p := range m.Players {
		if r.playerMatch[p] == matchID {
			delete(r.playerMatch, p)
		}
	}
	if r.serverMatch[m.ServerID] == matchID {
		delete(r.serverMatch, m.ServerID)
	}
	if s, live := r.servers[m.ServerID]; live {
		s.MatchID = ""
		if s.Status == StatusInGame || s.Status == StatusFull {
			s.Status = StatusReady
		}
	}
	return nil
}

// GetMatch returns a copy of the match.
func (r *Registry) GetMatch(id string) (*Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// MatchForPlayer returns the player's non-ended match, if any.
func (r *Registry) MatchForPlayer(playerID string) (*Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.playerMatch[playerID]
	if !ok {
		return nil, false
	}
	return r.matches[id].clone(), true
}

// MatchForServer returns the server's non-ended match, if any.
func (r *Registry) MatchForServer(serverID string) (*Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.serverMatch[serverID]
	if !ok {
		return nil, false
	}
	return r.matches[id].clone(), true
}

// Stats returns a consistent snapshot of counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{ServersByStatus: make(map[ServerStatus]int)}
	for _, s := range r.servers {
		st.ServersByStatus[s.Status]++
		st.ServersTotal++
	}
	for _, m := range r.matches {
		st.MatchesTotal++
		if m.Status != MatchEnded {
			st.MatchesActive++
			st.PlayersInMatch += len(m.Players)
		}
	}
	return st
}

func (s *Server) clone() *Server {
	c := *s
	return &c
}

func (m *Match) clone() *Match {
	c := *m
	c.Players = append([]string(nil), m.Players...)
	return &c
}

type portConflictError struct {
	port   int
	holder string
}

func (e *portConflictError) Error() string {
	return fmt.Sprintf("port %d already registered to server %s", e.port, e.holder)
}
