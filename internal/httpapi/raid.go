package httpapi

import (
	"net/http"

	"github.com/deadhold/backend/internal/raid"
)

type raidPrepareReq struct {
	CharacterID string       `json:"characterId"`
	LobbyID     string       `json:"lobbyId,omitempty"`
	Loadout     raid.Loadout `json:"loadout"`
}

func (a *API) handleRaidPrepare(w http.ResponseWriter, r *http.Request) {
	var req raidPrepareReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	session, err := a.raids.Prepare(req.CharacterID, req.LobbyID, req.Loadout)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type raidStartReq struct {
	ServerSecret string   `json:"serverSecret"`
	RaidID       string   `json:"raidId"`
	MatchID      string   `json:"matchId"`
	PlayerIDs    []string `json:"playerIds,omitempty"`
}

func (a *API) handleRaidStart(w http.ResponseWriter, r *http.Request) {
	var req raidStartReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	session, err := a.raids.Start(req.ServerSecret, req.RaidID, req.MatchID, req.PlayerIDs)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type raidLoadoutReq struct {
	ServerSecret string `json:"serverSecret"`
	RaidID       string `json:"raidId"`
	CharacterID  string `json:"characterId"`
}

func (a *API) handleRaidLoadout(w http.ResponseWriter, r *http.Request) {
	var req raidLoadoutReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	view, err := a.raids.GetLoadout(req.ServerSecret, req.RaidID, req.CharacterID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type raidCommitReq struct {
	ServerSecret string         `json:"serverSecret"`
	RaidID       string         `json:"raidId"`
	MatchID      string         `json:"matchId"`
	Outcomes     []raid.Outcome `json:"outcomes"`
	Signature    string         `json:"signature"`
}

func (a *API) handleRaidCommit(w http.ResponseWriter, r *http.Request) {
	var req raidCommitReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.raids.Commit(req.ServerSecret, req.RaidID, req.MatchID, req.Outcomes, req.Signature); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

type raidCancelReq struct {
	CharacterID string `json:"characterId"`
	RaidID      string `json:"raidId"`
}

func (a *API) handleRaidCancel(w http.ResponseWriter, r *http.Request) {
	var req raidCancelReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.raids.Cancel(req.CharacterID, req.RaidID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}
