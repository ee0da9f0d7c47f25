package httpapi

import (
	"net/http"

	"github.com/deadhold/backend/internal/errs"
)

type invReq struct {
	CharacterID string `json:"characterId"`
	OpID        string `json:"opId,omitempty"`
	IID         string `json:"iid,omitempty"`
	X           int    `json:"x,omitempty"`
	Y           int    `json:"y,omitempty"`
	Rotation    int    `json:"rotation,omitempty"`
	Amount      int    `json:"amount,omitempty"`
}

func (a *API) handleInvSnapshot(w http.ResponseWriter, r *http.Request) {
	var req invReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	snap, err := a.inv.Snapshot(req.CharacterID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleInvMove(w http.ResponseWriter, r *http.Request) {
	var req invReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.IID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	res, err := a.inv.MoveItem(req.CharacterID, req.OpID, req.IID, req.X, req.Y, req.Rotation)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleInvSplit(w http.ResponseWriter, r *http.Request) {
	var req invReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.IID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	res, err := a.inv.SplitStack(req.CharacterID, req.OpID, req.IID, req.Amount, req.X, req.Y)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleInvDiscard(w http.ResponseWriter, r *http.Request) {
	var req invReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.IID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	res, err := a.inv.DiscardItem(req.CharacterID, req.OpID, req.IID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
