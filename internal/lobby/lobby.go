// Package lobby implements code-addressed pre-match groups. A member's
// position in the roster is their spawn index; the backend, not the client,
// is the authority on that assignment.
package lobby

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
)

// Codes avoid 0/O/1/I so players can read them aloud.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
	staleAfter   = time.Hour
	maxLobbySize = 8
)

type State string

const (
	StateWaiting  State = "waiting"
	StateStarting State = "starting"
	StateInGame   State = "in_game"
)

// Member is one roster slot. Slice position is the spawn index.
type Member struct {
	PlayerID string `json:"id"`
	Ready    bool   `json:"ready"`
}

// Lobby is one pre-match group. The code doubles as the id.
type Lobby struct {
	Code       string    `json:"lobbyId"`
	Leader     string    `json:"leader"`
	GameMode   string    `json:"gameMode"`
	MaxPlayers int       `json:"maxPlayers"`
	State      State     `json:"state"`
	Members    []Member  `json:"players"`
	ServerHost string    `json:"serverHost,omitempty"`
	ServerPort int       `json:"serverPort,omitempty"`
	ServerID   string    `json:"serverId,omitempty"`
	MatchID    string    `json:"matchId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ServerAttach is the server assignment recorded when a lobby starts.
type ServerAttach struct {
	Host     string
	Port     int
	ServerID string
	MatchID  string
}

// SpawnClaim is the authoritative spawn assignment handed to match servers.
type SpawnClaim struct {
	PlayerID   string `json:"playerId"`
	GroupName  string `json:"groupName"`
	SpawnIndex int    `json:"spawnIndex"`
	LobbyID    string `json:"lobbyId"`
}

type Service struct {
	mu        sync.Mutex
	lobbies   map[string]*Lobby
	playerIdx map[string]string // player id → lobby code
	matchIdx  map[string]string // match id → lobby code
	log       *zap.Logger
}

func NewService(log *zap.Logger) *Service {
	return &Service{
		lobbies:   make(map[string]*Lobby),
		playerIdx: make(map[string]string),
		matchIdx:  make(map[string]string),
		log:       log.Named("lobby"),
	}
}

// Create opens a lobby with the creator as leader at spawn index 0.
func (s *Service) Create(leader, gameMode string, maxPlayers int) (*Lobby, error) {
	if leader == "" || maxPlayers < 1 || maxPlayers > maxLobbySize {
		return nil, errs.New(errs.InvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, in := s.playerIdx[leader]; in {
		s.leaveLocked(prev, leader)
	}
	code := s.newCodeLocked()
	lb := &Lobby{
		Code:       code,
		Leader:     leader,
		GameMode:   gameMode,
		MaxPlayers: maxPlayers,
		State:      StateWaiting,
		Members:    []Member{{PlayerID: leader}},
		CreatedAt:  time.Now(),
	}
	s.lobbies[code] = lb
	s.playerIdx[leader] = code
	s.log.Info("lobby created", zap.String("code", code), zap.String("leader", leader))
	return lb.clone(), nil
}

// Join adds a player at the next spawn index. The lookup is prefix-tolerant:
// an exact code wins, otherwise the first code starting with the input.
// Safe because codes are drawn from a sparsely populated space.
func (s *Service) Join(code, playerID string) (*Lobby, error) {
	if playerID == "" {
		return nil, errs.New(errs.InvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lb := s.lookupLocked(code)
	if lb == nil {
		return nil, errs.New(errs.LobbyNotFound)
	}
	if lb.State != StateWaiting {
		return nil, errs.New(errs.LobbyNotWaiting)
	}
	if len(lb.Members) >= lb.MaxPlayers {
		return nil, errs.New(errs.LobbyFull)
	}
	if prev, in := s.playerIdx[playerID]; in {
		if prev == lb.Code {
			return lb.clone(), nil
		}
		s.leaveLocked(prev, playerID)
	}
	lb.Members = append(lb.Members, Member{PlayerID: playerID})
	s.playerIdx[playerID] = lb.Code
	return lb.clone(), nil
}

// Leave removes a player, keeps spawn indices dense, promotes a new leader
// when the leader left, and deletes the lobby when it empties.
func (s *Service) Leave(playerID string) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, in := s.playerIdx[playerID]
	if !in {
		return nil, errs.New(errs.LobbyNotFound)
	}
	lb := s.leaveLocked(code, playerID)
	if lb == nil {
		return nil, nil
	}
	return lb.clone(), nil
}

// SetReady toggles a member's ready flag.
func (s *Service) SetReady(playerID string, ready bool) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, in := s.playerIdx[playerID]
	if !in {
		return nil, errs.New(errs.LobbyNotFound)
	}
	lb := s.lobbies[code]
	for i := range lb.Members {
		if lb.Members[i].PlayerID == playerID {
			lb.Members[i].Ready = ready
		}
	}
	return lb.clone(), nil
}

// BeginStart validates a start request and moves the lobby to Starting.
// The caller attaches a server with AttachServer or rolls back with
// AbortStart if acquisition fails.
func (s *Service) BeginStart(leader, code string) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb := s.lookupLocked(code)
	if lb == nil {
		return nil, errs.New(errs.LobbyNotFound)
	}
	if lb.Leader != leader {
		return nil, errs.New(errs.NotLeader)
	}
	if lb.State != StateWaiting {
		return nil, errs.New(errs.LobbyNotWaiting)
	}
	for _, m := range lb.Members {
		if m.PlayerID != lb.Leader && !m.Ready {
			return nil, errs.New(errs.InvalidRequest)
		}
	}
	lb.State = StateStarting
	return lb.clone(), nil
}

// AttachServer records the assigned server on a Starting lobby.
func (s *Service) AttachServer(code string, attach ServerAttach) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb := s.lobbies[code]
	if lb == nil {
		return nil, errs.New(errs.LobbyNotFound)
	}
	lb.ServerHost = attach.Host
	lb.ServerPort = attach.Port
	lb.ServerID = attach.ServerID
	lb.MatchID = attach.MatchID
	if attach.MatchID != "" {
		s.matchIdx[attach.MatchID] = code
	}
	return lb.clone(), nil
}

// AbortStart rolls a Starting lobby back to Waiting.
func (s *Service) AbortStart(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lb := s.lobbies[code]; lb != nil && lb.State == StateStarting {
		lb.State = StateWaiting
	}
}

// MarkInGameByMatch flips the lobby to InGame once its match reports play.
func (s *Service) MarkInGameByMatch(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.matchIdx[matchID]; ok {
		if lb := s.lobbies[code]; lb != nil {
			lb.State = StateInGame
		}
	}
}

// ClaimSpawn returns the authoritative spawn assignment for a member. Match
// servers call this instead of trusting client-supplied indices.
func (s *Service) ClaimSpawn(code, playerID string) (*SpawnClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb := s.lookupLocked(code)
	if lb == nil {
		return nil, errs.New(errs.LobbyNotFound)
	}
	for i, m := range lb.Members {
		if m.PlayerID == playerID {
			return &SpawnClaim{
				PlayerID:   playerID,
				GroupName:  lb.Code,
				SpawnIndex: i,
				LobbyID:    lb.Code,
			}, nil
		}
	}
	return nil, errs.New(errs.InvalidRequest)
}

// Get returns a copy of the lobby.
func (s *Service) Get(code string) (*Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb := s.lookupLocked(code)
	if lb == nil {
		return nil, errs.New(errs.LobbyNotFound)
	}
	return lb.clone(), nil
}

// List returns all lobbies, newest first.
func (s *Service) List() []*Lobby {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Lobby, 0, len(s.lobbies))
	for _, lb := range s.lobbies {
		out = append(out, lb.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Count returns the number of open lobbies.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}

// CleanupStale drops lobbies idle for over an hour that never reached InGame.
func (s *Service) CleanupStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for code, lb := range s.lobbies {
		if lb.State == StateInGame {
			continue
		}
		if now.Sub(lb.CreatedAt) > staleAfter {
			s.deleteLocked(code)
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("cleaned stale lobbies", zap.Int("count", removed))
	}
	return removed
}

// lookupLocked resolves a code exactly, else by unique-enough prefix.
func (s *Service) lookupLocked(code string) *Lobby {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	if lb, ok := s.lobbies[code]; ok {
		return lb
	}
	codes := make([]string, 0, len(s.lobbies))
	for c := range s.lobbies {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		if strings.HasPrefix(c, code) {
			return s.lobbies[c]
		}
	}
	return nil
}

// leaveLocked removes the player and returns the surviving lobby, or nil if
// the lobby was deleted.
func (s *Service) leaveLocked(code, playerID string) *Lobby {
	lb := s.lobbies[code]
	if lb == nil {
		delete(s.playerIdx, playerID)
		return nil
	}
	for i, m := range lb.Members {
		if m.PlayerID == playerID {
			lb.Members = append(lb.Members[:i], lb.Members[i+1:]...)
			break
		}
	}
	delete(s.playerIdx, playerID)
	if len(lb.Members) == 0 {
		s.deleteLocked(code)
		return nil
	}
	if lb.Leader == playerID {
		lb.Leader = lb.Members[0].PlayerID
	}
	return lb
}

func (s *Service) deleteLocked(code string) {
	lb := s.lobbies[code]
	if lb == nil {
		return
	}
	for _, m := range lb.Members {
		if s.playerIdx[m.PlayerID] == code {
			delete(s.playerIdx, m.PlayerID)
		}
	}
	if lb.MatchID != "" {
		delete(s.matchIdx, lb.MatchID)
	}
	delete(s.lobbies, code)
}

func (s *Service) newCodeLocked() string {
	for {
		b := make([]byte, codeLength)
		for i := range b {
			b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(b)
		if _, taken := s.lobbies[code]; !taken {
			return code
		}
	}
}

func (l *Lobby) clone() *Lobby {
	c := *l
	c.Members = append([]Member(nil), l.Members...)
	return &c
}
