package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/lobby"
)

type lobbyReq struct {
	PlayerID   string `json:"playerId"`
	LobbyID    string `json:"lobbyId,omitempty"`
	GameMode   string `json:"gameMode,omitempty"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
	Ready      bool   `json:"ready,omitempty"`
}

func (a *API) handleLobbyCreate(w http.ResponseWriter, r *http.Request) {
	var req lobbyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = a.cfg.Orchestrator.MaxPlayers
	}
	lb, err := a.lobbies.Create(req.PlayerID, req.GameMode, req.MaxPlayers)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobby": lb})
}

func (a *API) handleLobbyJoin(w http.ResponseWriter, r *http.Request) {
	var req lobbyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	lb, err := a.lobbies.Join(req.LobbyID, req.PlayerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobby": lb})
}

func (a *API) handleLobbyLeave(w http.ResponseWriter, r *http.Request) {
	var req lobbyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	lb, err := a.lobbies.Leave(req.PlayerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobby": lb})
}

func (a *API) handleLobbyReady(w http.ResponseWriter, r *http.Request) {
	var req lobbyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	lb, err := a.lobbies.SetReady(req.PlayerID, req.Ready)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobby": lb})
}

// handleLobbyStart acquires a server (spawning and waiting if the pool is
// empty), creates the match, and binds every member to it. Any failure
// rolls the lobby back to Waiting.
func (a *API) handleLobbyStart(w http.ResponseWriter, r *http.Request) {
	var req lobbyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	lb, err := a.lobbies.BeginStart(req.PlayerID, req.LobbyID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	srv, err := a.orch.AcquireServer()
	if err != nil {
		a.lobbies.AbortStart(lb.Code)
		a.writeError(w, err)
		return
	}
	m, err := a.sessions.CreateMatch(srv.ID, lb.GameMode)
	if err != nil {
		a.lobbies.AbortStart(lb.Code)
		a.writeError(w, err)
		return
	}
	for _, member := range lb.Members {
		if err := a.sessions.AddPlayer(m.ID, member.PlayerID); err != nil {
			a.log.Warn("lobby member bind failed",
				zap.String("lobby", lb.Code),
				zap.String("player", member.PlayerID),
				zap.Error(err),
			)
		}
	}
	lb, err = a.lobbies.AttachServer(lb.Code, lobby.ServerAttach{
		Host:     a.hostFor(srv),
		Port:     srv.Port,
		ServerID: srv.ID,
		MatchID:  m.ID,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.log.Info("lobby started",
		zap.String("lobby", lb.Code),
		zap.String("match", m.ID),
		zap.String("server", srv.ID),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"matchId":    m.ID,
		"serverHost": a.hostFor(srv),
		"serverPort": srv.Port,
		"lobby":      lb,
	})
}

func (a *API) handleLobbyStatus(w http.ResponseWriter, r *http.Request) {
	var req lobbyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	lb, err := a.lobbies.Get(req.LobbyID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobby": lb})
}

func (a *API) handleClaimSpawn(w http.ResponseWriter, r *http.Request) {
	var req lobbyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	claim, err := a.lobbies.ClaimSpawn(req.LobbyID, req.PlayerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (a *API) handleLobbyList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lobbies": a.lobbies.List()})
}
