package httpapi

import (
	"net/http"

	"github.com/deadhold/backend/internal/errs"
)

type traderReq struct {
	CharacterID string `json:"characterId"`
	OpID        string `json:"opId,omitempty"`
	TraderID    string `json:"traderId"`
	OfferID     string `json:"offerId,omitempty"`
	IID         string `json:"iid,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

func (a *API) handleTraderList(w http.ResponseWriter, r *http.Request) {
	var req traderReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	catalog, err := a.traders.ListOffers(req.TraderID, req.CharacterID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (a *API) handleTraderBuy(w http.ResponseWriter, r *http.Request) {
	var req traderReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.OfferID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	res, err := a.traders.Buy(req.CharacterID, req.OpID, req.TraderID, req.OfferID, req.Quantity)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleTraderSell(w http.ResponseWriter, r *http.Request) {
	var req traderReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.IID == "" {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	res, err := a.traders.Sell(req.CharacterID, req.OpID, req.TraderID, req.IID, req.Quantity)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
