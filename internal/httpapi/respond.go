package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a service error onto {"error": kind} with the status the
// kind's category dictates.
func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	if kind == "" {
		a.log.Error("unhandled error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, statusFor(kind), map[string]string{"error": string(kind)})
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.InvalidRequest, errs.InvalidSignature, errs.PriceOutOfRange,
		errs.InvalidStack, errs.PositionOutOfBound, errs.PositionBlocked:
		return http.StatusBadRequest
	case errs.InvalidServerSecret:
		return http.StatusUnauthorized
	case errs.NotLeader, errs.NotYourRaid, errs.NotYourListing:
		return http.StatusForbidden
	case errs.CharacterNotFound, errs.ItemNotFound, errs.ListingNotFound,
		errs.MatchNotFound, errs.ServerNotFound, errs.LobbyNotFound,
		errs.TraderNotFound, errs.RaidNotFound:
		return http.StatusNotFound
	case errs.AlreadyInRaid, errs.RaidNotPreparing, errs.AlreadyCommitted,
		errs.ItemsAlreadyLocked, errs.LobbyNotWaiting, errs.LobbyFull,
		errs.ItemLockedRaid, errs.ItemLockedEscrow, errs.ListingNotActive,
		errs.ListingExpired, errs.ItemNonTradeable, errs.ItemQuestBound,
		errs.OutOfStock, errs.InsufficientFunds, errs.LevelTooLow,
		errs.ReputationTooLow:
		return http.StatusConflict
	case errs.NoServersAvailable, errs.ServerFailedToStart:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode parses the JSON body into v; a malformed body is invalid_request.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.New(errs.InvalidRequest)
	}
	return nil
}
