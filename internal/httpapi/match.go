package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
)

type matchFindReq struct {
	PlayerID string `json:"playerId"`
	GameMode string `json:"gameMode"`
}

// handleMatchFind is quick play: return the player's existing match, else
// place them on an available server, spawning and waiting for one if the
// pool is empty.
func (a *API) handleMatchFind(w http.ResponseWriter, r *http.Request) {
	var req matchFindReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.PlayerID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	if m, ok := a.sessions.MatchForPlayer(req.PlayerID); ok {
		srv, ok := a.sessions.GetServer(m.ServerID)
		if ok {
			writeJSON(w, http.StatusOK, a.matchResponse(m, srv, "already_matched"))
			return
		}
	}

	srv, err := a.orch.AcquireServer()
	if err != nil {
		a.writeError(w, err)
		return
	}
	m, err := a.sessions.CreateMatch(srv.ID, req.GameMode)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.sessions.AddPlayer(m.ID, req.PlayerID); err != nil {
		a.writeError(w, err)
		return
	}
	a.log.Info("match found",
		zap.String("player", req.PlayerID),
		zap.String("match", m.ID),
		zap.String("server", srv.ID),
	)
	writeJSON(w, http.StatusOK, a.matchResponse(m, srv, "matched"))
}

func (a *API) handleMatchGet(w http.ResponseWriter, r *http.Request) {
	m, ok := a.sessions.GetMatch(mux.Vars(r)["matchId"])
	if !ok {
		a.writeError(w, errs.New(errs.MatchNotFound))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type gameEventReq struct {
	MatchID       string `json:"matchId"`
	PlayerID      string `json:"playerId,omitempty"`
	WaveNumber    int    `json:"waveNumber,omitempty"`
	ZombiesKilled int    `json:"zombiesKilled,omitempty"`
	Reason        string `json:"reason,omitempty"`
	FinalWave     int    `json:"finalWave,omitempty"`
}

func (a *API) handlePlayerJoined(w http.ResponseWriter, r *http.Request) {
	var req gameEventReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.sessions.AddPlayer(req.MatchID, req.PlayerID); err != nil {
		a.writeError(w, err)
		return
	}
	a.lobbies.MarkInGameByMatch(req.MatchID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) handlePlayerLeft(w http.ResponseWriter, r *http.Request) {
	var req gameEventReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	a.sessions.RemovePlayer(req.MatchID, req.PlayerID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) handleWaveComplete(w http.ResponseWriter, r *http.Request) {
	var req gameEventReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.sessions.SetWave(req.MatchID, req.WaveNumber); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (a *API) handleMatchEnd(w http.ResponseWriter, r *http.Request) {
	var req gameEventReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "completed"
	}
	if err := a.sessions.EndMatch(req.MatchID, reason); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}
