// Package httpapi routes HTTP requests onto the backend services. Handlers
// parse JSON, validate the minimum fields, dispatch, and serialize; nothing
// here holds state of its own.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/config"
	"github.com/deadhold/backend/internal/inventory"
	"github.com/deadhold/backend/internal/lobby"
	"github.com/deadhold/backend/internal/market"
	"github.com/deadhold/backend/internal/metrics"
	"github.com/deadhold/backend/internal/orchestrator"
	"github.com/deadhold/backend/internal/raid"
	"github.com/deadhold/backend/internal/registry"
	"github.com/deadhold/backend/internal/social"
	"github.com/deadhold/backend/internal/trader"
)

// API bundles every service a handler can reach.
type API struct {
	cfg      *config.Config
	sessions *registry.Registry
	orch     *orchestrator.Orchestrator
	social   *social.Directory
	lobbies  *lobby.Service
	inv      *inventory.Service
	raids    *raid.Service
	market   *market.Service
	traders  *trader.Service
	met      *metrics.Set
	log      *zap.Logger
}

func New(
	cfg *config.Config,
	sessions *registry.Registry,
	orch *orchestrator.Orchestrator,
	socialDir *social.Directory,
	lobbies *lobby.Service,
	inv *inventory.Service,
	raids *raid.Service,
	marketSvc *market.Service,
	traders *trader.Service,
	met *metrics.Set,
	log *zap.Logger,
) *API {
	return &API{
		cfg:      cfg,
		sessions: sessions,
		orch:     orch,
		social:   socialDir,
		lobbies:  lobbies,
		inv:      inv,
		raids:    raids,
		market:   marketSvc,
		traders:  traders,
		met:      met,
		log:      log.Named("http"),
	}
}

// Router builds the full route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/servers", a.handleServers).Methods(http.MethodGet)
	r.HandleFunc("/servers/ready", a.handleServerReady).Methods(http.MethodPost)
	r.HandleFunc("/servers/heartbeat", a.handleServerHeartbeat).Methods(http.MethodPost)
	r.Handle("/metrics", a.met.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/match/find", a.handleMatchFind).Methods(http.MethodPost)
	r.HandleFunc("/match/{matchId}", a.handleMatchGet).Methods(http.MethodGet)
	r.HandleFunc("/game/player_joined", a.handlePlayerJoined).Methods(http.MethodPost)
	r.HandleFunc("/game/player_left", a.handlePlayerLeft).Methods(http.MethodPost)
	r.HandleFunc("/game/wave_complete", a.handleWaveComplete).Methods(http.MethodPost)
	r.HandleFunc("/game/match_end", a.handleMatchEnd).Methods(http.MethodPost)

	r.HandleFunc("/friends/add", a.handleFriendAdd).Methods(http.MethodPost)
	r.HandleFunc("/friends/remove", a.handleFriendRemove).Methods(http.MethodPost)
	r.HandleFunc("/friends/accept", a.handleFriendAccept).Methods(http.MethodPost)
	r.HandleFunc("/friends/decline", a.handleFriendDecline).Methods(http.MethodPost)
	r.HandleFunc("/friends/status", a.handleFriendStatus).Methods(http.MethodPost)
	r.HandleFunc("/friends/requests", a.handleFriendRequests).Methods(http.MethodPost)
	r.HandleFunc("/friends/invite", a.handleFriendInvite).Methods(http.MethodPost)
	r.HandleFunc("/friends/list", a.handleFriendList).Methods(http.MethodPost)

	r.HandleFunc("/lobby/create", a.handleLobbyCreate).Methods(http.MethodPost)
	r.HandleFunc("/lobby/join", a.handleLobbyJoin).Methods(http.MethodPost)
	r.HandleFunc("/lobby/leave", a.handleLobbyLeave).Methods(http.MethodPost)
	r.HandleFunc("/lobby/ready", a.handleLobbyReady).Methods(http.MethodPost)
	r.HandleFunc("/lobby/start", a.handleLobbyStart).Methods(http.MethodPost)
	r.HandleFunc("/lobby/status", a.handleLobbyStatus).Methods(http.MethodPost)
	r.HandleFunc("/lobby/claim_spawn", a.handleClaimSpawn).Methods(http.MethodPost)
	r.HandleFunc("/lobby/list", a.handleLobbyList).Methods(http.MethodGet)

	r.HandleFunc("/inventory/snapshot", a.handleInvSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/inventory/move", a.handleInvMove).Methods(http.MethodPost)
	r.HandleFunc("/inventory/split", a.handleInvSplit).Methods(http.MethodPost)
	r.HandleFunc("/inventory/discard", a.handleInvDiscard).Methods(http.MethodPost)

	r.HandleFunc("/raid/prepare", a.handleRaidPrepare).Methods(http.MethodPost)
	r.HandleFunc("/raid/start", a.handleRaidStart).Methods(http.MethodPost)
	r.HandleFunc("/raid/loadout", a.handleRaidLoadout).Methods(http.MethodPost)
	r.HandleFunc("/raid/commit", a.handleRaidCommit).Methods(http.MethodPost)
	r.HandleFunc("/raid/cancel", a.handleRaidCancel).Methods(http.MethodPost)

	r.HandleFunc("/market/create", a.handleMarketCreate).Methods(http.MethodPost)
	r.HandleFunc("/market/cancel", a.handleMarketCancel).Methods(http.MethodPost)
	r.HandleFunc("/market/buy", a.handleMarketBuy).Methods(http.MethodPost)
	r.HandleFunc("/market/mine", a.handleMarketMine).Methods(http.MethodPost)
	r.HandleFunc("/market/browse", a.handleMarketBrowse).Methods(http.MethodGet)

	r.HandleFunc("/trader/list", a.handleTraderList).Methods(http.MethodPost)
	r.HandleFunc("/trader/buy", a.handleTraderBuy).Methods(http.MethodPost)
	r.HandleFunc("/trader/sell", a.handleTraderSell).Methods(http.MethodPost)

	return r
}

// hostFor returns the address clients should dial for a server: its own
// host for external entries, the backend's advertised host otherwise.
func (a *API) hostFor(srv *registry.Server) string {
	if srv.Host != "" {
		return srv.Host
	}
	return a.cfg.Server.Host
}
