// Package social holds player presence, the friend graph, pending friend
// requests, and game invites. Everything is in-memory; no history is kept.
package social

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
)

// inviteTTL bounds how long a game invite stays deliverable.
const inviteTTL = 5 * time.Minute

// Presence is one player's live state.
type Presence struct {
	PlayerID    string    `json:"playerId"`
	Name        string    `json:"name"`
	Online      bool      `json:"online"`
	CurrentGame string    `json:"currentGame,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// FriendRequest is a pending from→to request.
type FriendRequest struct {
	From   string    `json:"from"`
	SentAt time.Time `json:"sentAt"`
}

// ServerInfo points an invitee at the sender's game.
type ServerInfo struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	MatchID string `json:"matchId,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Invite is a pending game invite to one recipient.
type Invite struct {
	From   string     `json:"from"`
	Server ServerInfo `json:"server"`
	SentAt time.Time  `json:"sentAt"`
}

// Directory serializes all social mutations behind one mutex; the critical
// sections are tiny map updates.
type Directory struct {
	mu       sync.Mutex
	presence map[string]*Presence
	friends  map[string]map[string]bool     // symmetric edges
	pending  map[string]map[string]time.Time // to → from → sent at
	invites  map[string][]Invite             // to → newest-last
	log      *zap.Logger
}

func NewDirectory(log *zap.Logger) *Directory {
	return &Directory{
		presence: make(map[string]*Presence),
		friends:  make(map[string]map[string]bool),
		pending:  make(map[string]map[string]time.Time),
		invites:  make(map[string][]Invite),
		log:      log.Named("social"),
	}
}

// UpdatePresence upserts a presence record.
func (d *Directory) UpdatePresence(playerID, name string, online bool, currentGame string) *Presence {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.ensureLocked(playerID)
	if name != "" {
		p.Name = name
	}
	p.Online = online
	p.CurrentGame = currentGame
	p.LastSeen = time.Now()
	return clonePresence(p)
}

// SendRequest files a friend request. Re-sending an identical request is a
// no-op success; self-requests and requests to existing friends fail.
func (d *Directory) SendRequest(from, to string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from == "" || to == "" || from == to {
		return errs.New(errs.InvalidRequest)
	}
	if d.friends[from][to] {
		return errs.New(errs.InvalidRequest)
	}
	d.ensureLocked(from)
	d.ensureLocked(to)
	if d.pending[to] == nil {
		d.pending[to] = make(map[string]time.Time)
	}
	if _, dup := d.pending[to][from]; dup {
		return nil // idempotent
	}
	d.pending[to][from] = time.Now()
	return nil
}

// Accept consumes the pending request and adds a symmetric edge. Returns the
// new friend's presence view.
func (d *Directory) Accept(playerID, from string) (*Presence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[playerID][from]; !ok {
		return nil, errs.New(errs.InvalidRequest)
	}
	delete(d.pending[playerID], from)
	d.addEdgeLocked(playerID, from)
	return clonePresence(d.ensureLocked(from)), nil
}

// Decline drops the pending request. Silent when absent.
func (d *Directory) Decline(playerID, from string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending[playerID], from)
}

// Remove deletes the symmetric edge. Silent when absent.
func (d *Directory) Remove(playerID, friendID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.friends[playerID], friendID)
	delete(d.friends[friendID], playerID)
}

// ListFriends returns the player's friends with live presence, sorted by id.
func (d *Directory) ListFriends(playerID string) []*Presence {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Presence, 0, len(d.friends[playerID]))
	for id := range d.friends[playerID] {
		out = append(out, clonePresence(d.ensureLocked(id)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// ListPending returns requests awaiting the player's answer, oldest first.
func (d *Directory) ListPending(playerID string) []FriendRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]FriendRequest, 0, len(d.pending[playerID]))
	for from, at := range d.pending[playerID] {
		out = append(out, FriendRequest{From: from, SentAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

// SendInvite delivers a game invite. A newer invite from the same sender
// replaces the previous one.
func (d *Directory) SendInvite(from, to string, server ServerInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from == "" || to == "" || from == to {
		return errs.New(errs.InvalidRequest)
	}
	inv := Invite{From: from, Server: server, SentAt: time.Now()}
	list := d.invites[to]
	for i := range list {
		if list[i].From == from {
			list[i] = inv
			d.invites[to] = list
			return nil
		}
	}
	d.invites[to] = append(list, inv)
	return nil
}

// ListInvites returns the player's live invites, culling expired ones.
func (d *Directory) ListInvites(playerID string) []Invite {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-inviteTTL)
	kept := d.invites[playerID][:0]
	for _, inv := range d.invites[playerID] {
		if inv.SentAt.After(cutoff) {
			kept = append(kept, inv)
		}
	}
	if len(kept) == 0 {
		delete(d.invites, playerID)
		return nil
	}
	d.invites[playerID] = kept
	return append([]Invite(nil), kept...)
}

func (d *Directory) ensureLocked(playerID string) *Presence {
	p, ok := d.presence[playerID]
	if !ok {
		p = &Presence{PlayerID: playerID, Name: playerID}
		d.presence[playerID] = p
	}
	return p
}

func (d *Directory) addEdgeLocked(a, b string) {
	if d.friends[a] == nil {
		d.friends[a] = make(map[string]bool)
	}
	if d.friends[b] == nil {
		d.friends[b] = make(map[string]bool)
	}
	d.friends[a][b] = true
	d.friends[b][a] = true
}

func clonePresence(p *Presence) *Presence {
	c := *p
	return &c
}
