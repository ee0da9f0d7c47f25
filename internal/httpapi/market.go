package httpapi

import (
	"net/http"

	"github.com/deadhold/backend/internal/errs"
)

type marketReq struct {
	CharacterID   string `json:"characterId"`
	OpID          string `json:"opId,omitempty"`
	IID           string `json:"iid,omitempty"`
	ListingID     string `json:"listingId,omitempty"`
	Price         int    `json:"price,omitempty"`
	DurationHours int    `json:"durationHours,omitempty"`
}

func (a *API) handleMarketCreate(w http.ResponseWriter, r *http.Request) {
	var req marketReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.IID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	res, err := a.market.Create(req.CharacterID, req.OpID, req.IID, req.Price, req.DurationHours)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMarketCancel(w http.ResponseWriter, r *http.Request) {
	var req marketReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.market.Cancel(req.CharacterID, req.ListingID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMarketBuy(w http.ResponseWriter, r *http.Request) {
	var req marketReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.market.Buy(req.CharacterID, req.OpID, req.ListingID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMarketMine(w http.ResponseWriter, r *http.Request) {
	var req marketReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": a.market.GetMine(req.CharacterID)})
}

func (a *API) handleMarketBrowse(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"listings": a.market.Browse()})
}
