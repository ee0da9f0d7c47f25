package httpapi

import (
	"net/http"

	"github.com/deadhold/backend/internal/errs"
	"github.com/deadhold/backend/internal/social"
)

type friendReq struct {
	PlayerID    string             `json:"playerId"`
	TargetID    string             `json:"targetId,omitempty"`
	From        string             `json:"from,omitempty"`
	Name        string             `json:"name,omitempty"`
	Online      bool               `json:"online,omitempty"`
	CurrentGame string             `json:"currentGame,omitempty"`
	Server      *social.ServerInfo `json:"server,omitempty"`
}

func (a *API) handleFriendAdd(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.social.SendRequest(req.PlayerID, req.TargetID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (a *API) handleFriendRemove(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	a.social.Remove(req.PlayerID, req.TargetID)
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (a *API) handleFriendAccept(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	friend, err := a.social.Accept(req.PlayerID, req.From)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"friend": friend})
}

func (a *API) handleFriendDecline(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	a.social.Decline(req.PlayerID, req.From)
	writeJSON(w, http.StatusOK, map[string]any{"declined": true})
}

// handleFriendStatus upserts presence and returns the player's social view
// in one round trip: the client polls this.
func (a *API) handleFriendStatus(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.PlayerID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	me := a.social.UpdatePresence(req.PlayerID, req.Name, req.Online, req.CurrentGame)
	writeJSON(w, http.StatusOK, map[string]any{
		"presence": me,
		"friends":  a.social.ListFriends(req.PlayerID),
		"invites":  a.social.ListInvites(req.PlayerID),
	})
}

func (a *API) handleFriendRequests(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": a.social.ListPending(req.PlayerID)})
}

func (a *API) handleFriendInvite(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.Server == nil {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	if err := a.social.SendInvite(req.PlayerID, req.TargetID, *req.Server); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invited": true})
}

func (a *API) handleFriendList(w http.ResponseWriter, r *http.Request) {
	var req friendReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"friends": a.social.ListFriends(req.PlayerID)})
}
