package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/config"
	"github.com/deadhold/backend/internal/data"
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

const testSecret = "test-secret"

type testEnv struct {
	api      *API
	router   http.Handler
	sessions *registry.Registry
	inv      *inventory.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Name:      "Test Backend",
			Host:      "203.0.113.5",
			Secret:    testSecret,
			StartTime: time.Now().Unix(),
		},
		Orchestrator: config.OrchestratorConfig{
			PortBase:         27015,
			PortCount:        4,
			MaxPlayers:       8,
			Tick:             time.Second,
			HeartbeatTimeout: 6 * time.Second,
		},
	}

	items := data.NewItemTable([]*data.ItemDef{
		{ID: "rifle", Name: "Rifle", Category: "weapon", Width: 4, Height: 2, MaxStack: 1, BaseValue: 1800},
		{ID: "pistol", Name: "Pistol", Category: "weapon", Width: 2, Height: 1, MaxStack: 1, BaseValue: 400},
		{ID: "ammo", Name: "Ammo", Category: "ammo", Width: 1, Height: 1, MaxStack: 60, BaseValue: 4},
	})
	traderTable := data.NewTraderTable([]*data.TraderDef{{
		ID: "armorer", Name: "The Armorer", BuybackRate: 0.5,
		Offers: []*data.TraderOffer{
			{ID: "o_pistol", DefID: "pistol", Price: 400, Stock: -1, MinLevel: 1},
		},
	}})

	log := zap.NewNop()
	inv := inventory.NewService(items, log)
	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, inv.Seed(&data.SeedCharacter{
			ID: id, Name: id, XP: 1000, Gold: 5000, StashWidth: 8, StashHeight: 8,
			Items: []data.SeedItem{
				{DefID: "rifle", Stack: 1, Durability: 0.9, X: 0, Y: 0},
				{DefID: "pistol", Stack: 1, Durability: 1, X: 0, Y: 2},
			},
		}))
	}

	sessions := registry.New()
	met := metrics.New(sessions)
	ports := registry.NewPortPool(cfg.Orchestrator.PortBase, cfg.Orchestrator.PortCount)
	orch := orchestrator.New(cfg.Orchestrator, cfg.Server.Host, 8080, sessions, ports, met, log)
	api := New(
		cfg, sessions, orch,
		social.NewDirectory(log),
		lobby.NewService(log),
		inv,
		raid.NewService(cfg.Server.Secret, inv, met, log),
		market.NewService(inv, met, log),
		trader.NewService(traderTable, items, inv, log),
		met, log,
	)
	return &testEnv{api: api, router: api.Router(), sessions: sessions, inv: inv}
}

// readyServer registers a Ready match server the handlers can hand out.
func (e *testEnv) readyServer(t *testing.T, id string, port int) {
	t.Helper()
	_, err := e.sessions.RegisterServer(id, port, 8)
	require.NoError(t, err)
	require.NoError(t, e.sessions.MarkReady(id))
}

func (e *testEnv) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func (e *testEnv) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func (e *testEnv) iidOf(t *testing.T, characterID, defID string) string {
	t.Helper()
	snap, err := e.inv.Snapshot(characterID)
	require.NoError(t, err)
	for _, it := range snap.Items {
		if it.DefID == defID {
			return it.IID
		}
	}
	t.Fatalf("no instance of %s", defID)
	return ""
}

func TestHealthAndStatus(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = e.get(t, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Test Backend", body["name"])
}

func TestServerReadyRegistersUnknownPort(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.post(t, "/servers/ready", map[string]any{"port": 27020})
	require.Equal(t, http.StatusOK, code)
	serverID, _ := body["serverId"].(string)
	require.NotEmpty(t, serverID)

	srv, ok := e.sessions.GetServer(serverID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusReady, srv.Status)

	code, _ = e.post(t, "/servers/ready", map[string]any{"port": 0})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServerHeartbeat(t *testing.T) {
	e := newTestEnv(t)
	e.readyServer(t, "srv1", 27015)

	code, _ := e.post(t, "/servers/heartbeat", map[string]any{"serverId": "srv1", "playerCount": 3})
	assert.Equal(t, http.StatusOK, code)
	srv, _ := e.sessions.GetServer("srv1")
	assert.Equal(t, 3, srv.CurrentPlayers)

	code, body := e.post(t, "/servers/heartbeat", map[string]any{"serverId": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "server_not_found", body["error"])
}

func TestMatchFindAndGet(t *testing.T) {
	e := newTestEnv(t)
	e.readyServer(t, "srv1", 27015)

	code, body := e.post(t, "/match/find", map[string]any{"playerId": "p1", "gameMode": "survival"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "matched", body["status"])
	assert.Equal(t, "203.0.113.5", body["serverHost"])
	assert.Equal(t, float64(27015), body["serverPort"])
	matchID, _ := body["matchId"].(string)
	require.NotEmpty(t, matchID)

	// The same player asking again gets the same match back.
	code, body = e.post(t, "/match/find", map[string]any{"playerId": "p1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "already_matched", body["status"])
	assert.Equal(t, matchID, body["matchId"])

	code, body = e.get(t, "/match/"+matchID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, matchID, body["matchId"])

	code, body = e.get(t, "/match/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "match_not_found", body["error"])
}

func TestMatchFindValidation(t *testing.T) {
	e := newTestEnv(t)
	code, body := e.post(t, "/match/find", map[string]any{"gameMode": "survival"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestGameEventFlow(t *testing.T) {
	e := newTestEnv(t)
	e.readyServer(t, "srv1", 27015)
	_, body := e.post(t, "/match/find", map[string]any{"playerId": "p1", "gameMode": "survival"})
	matchID := body["matchId"].(string)

	code, _ := e.post(t, "/game/player_joined", map[string]any{"matchId": matchID, "playerId": "p2"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.post(t, "/game/wave_complete", map[string]any{"matchId": matchID, "waveNumber": 7})
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.post(t, "/game/player_left", map[string]any{"matchId": matchID, "playerId": "p2"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.post(t, "/game/match_end", map[string]any{"matchId": matchID})
	assert.Equal(t, http.StatusOK, code)

	m, ok := e.sessions.GetMatch(matchID)
	require.True(t, ok)
	assert.Equal(t, registry.MatchEnded, m.Status)
	assert.Equal(t, "completed", m.EndReason)
	assert.Equal(t, 7, m.CurrentWave)

	// The server is free again for the next match.
	srv, _ := e.sessions.GetServer("srv1")
	assert.Equal(t, registry.StatusReady, srv.Status)
}

func TestLobbyFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	e.readyServer(t, "srv1", 27015)

	code, body := e.post(t, "/lobby/create", map[string]any{"playerId": "p1", "gameMode": "survival"})
	require.Equal(t, http.StatusOK, code)
	lobbyID := body["lobby"].(map[string]any)["lobbyId"].(string)
	require.NotEmpty(t, lobbyID)

	code, _ = e.post(t, "/lobby/join", map[string]any{"playerId": "p2", "lobbyId": lobbyID})
	require.Equal(t, http.StatusOK, code)

	// Starting before everyone is ready fails.
	code, _ = e.post(t, "/lobby/start", map[string]any{"playerId": "p1", "lobbyId": lobbyID})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.post(t, "/lobby/ready", map[string]any{"playerId": "p2", "ready": true})
	require.Equal(t, http.StatusOK, code)

	code, body = e.post(t, "/lobby/start", map[string]any{"playerId": "p1", "lobbyId": lobbyID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(27015), body["serverPort"])
	matchID := body["matchId"].(string)

	// Both members are bound to the match.
	m, ok := e.sessions.GetMatch(matchID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"p1", "p2"}, m.Players)

	// Spawn claims are positional.
	code, body = e.post(t, "/lobby/claim_spawn", map[string]any{"playerId": "p2", "lobbyId": lobbyID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["spawnIndex"])

	// The first in-game report flips the lobby.
	e.post(t, "/game/player_joined", map[string]any{"matchId": matchID, "playerId": "p1"})
	code, body = e.post(t, "/lobby/status", map[string]any{"lobbyId": lobbyID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "in_game", body["lobby"].(map[string]any)["state"])
}

func TestLobbyStartNoServersRollsBack(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.post(t, "/lobby/create", map[string]any{"playerId": "p1"})
	lobbyID := body["lobby"].(map[string]any)["lobbyId"].(string)

	// No ready servers and no launchable binary: acquisition fails.
	code, _ := e.post(t, "/lobby/start", map[string]any{"playerId": "p1", "lobbyId": lobbyID})
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, body = e.post(t, "/lobby/status", map[string]any{"lobbyId": lobbyID})
	assert.Equal(t, "waiting", body["lobby"].(map[string]any)["state"])
}

func TestFriendFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	code, _ := e.post(t, "/friends/add", map[string]any{"playerId": "p1", "targetId": "p2"})
	require.Equal(t, http.StatusOK, code)

	code, body := e.post(t, "/friends/requests", map[string]any{"playerId": "p2"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["requests"], 1)

	code, _ = e.post(t, "/friends/accept", map[string]any{"playerId": "p2", "from": "p1"})
	require.Equal(t, http.StatusOK, code)

	code, body = e.post(t, "/friends/list", map[string]any{"playerId": "p1"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["friends"], 1)

	// Invites need a server block.
	code, _ = e.post(t, "/friends/invite", map[string]any{"playerId": "p1", "targetId": "p2"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.post(t, "/friends/invite", map[string]any{
		"playerId": "p1", "targetId": "p2",
		"server": map[string]any{"host": "203.0.113.5", "port": 27015},
	})
	require.Equal(t, http.StatusOK, code)

	code, body = e.post(t, "/friends/status", map[string]any{"playerId": "p2", "online": true})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["invites"], 1)
}

func TestInventoryOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	rifle := e.iidOf(t, "c1", "rifle")

	code, body := e.post(t, "/inventory/snapshot", map[string]any{"characterId": "c1"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "c1", body["characterId"])

	code, _ = e.post(t, "/inventory/move", map[string]any{
		"characterId": "c1", "iid": rifle, "x": 0, "y": 4,
	})
	require.Equal(t, http.StatusOK, code)

	code, body = e.post(t, "/inventory/move", map[string]any{
		"characterId": "c1", "iid": rifle, "x": 7, "y": 7,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "position_out_of_bounds", body["error"])

	code, body = e.post(t, "/inventory/snapshot", map[string]any{"characterId": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "character_not_found", body["error"])

	code, _ = e.post(t, "/inventory/move", map[string]any{"characterId": "c1"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRaidFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	rifle := e.iidOf(t, "c1", "rifle")

	code, body := e.post(t, "/raid/prepare", map[string]any{
		"characterId": "c1",
		"loadout":     map[string]any{"primary": rifle},
	})
	require.Equal(t, http.StatusOK, code)
	raidID := body["raidId"].(string)
	assert.Equal(t, "preparing", body["status"])

	// Match servers must present the shared secret.
	code, body = e.post(t, "/raid/start", map[string]any{
		"serverSecret": "wrong", "raidId": raidID, "matchId": "m1",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_server_secret", body["error"])

	code, _ = e.post(t, "/raid/start", map[string]any{
		"serverSecret": testSecret, "raidId": raidID, "matchId": "m1", "playerIds": []string{"c1"},
	})
	require.Equal(t, http.StatusOK, code)

	code, body = e.post(t, "/raid/loadout", map[string]any{
		"serverSecret": testSecret, "raidId": raidID, "characterId": "c1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)

	outcomes := []raid.Outcome{{
		CharacterID:     "c1",
		Status:          "extracted",
		ProvisionalLoot: []inventory.LootStack{{DefID: "ammo", Stack: 30}},
		GoldGained:      250,
	}}
	sig := raid.Sign(raidID, "m1", outcomes, testSecret)

	code, body = e.post(t, "/raid/commit", map[string]any{
		"serverSecret": testSecret, "raidId": raidID, "matchId": "m1",
		"outcomes": outcomes, "signature": "forged",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_signature", body["error"])

	code, body = e.post(t, "/raid/commit", map[string]any{
		"serverSecret": testSecret, "raidId": raidID, "matchId": "m1",
		"outcomes": outcomes, "signature": sig,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["committed"])

	gold, _ := e.inv.Gold("c1")
	assert.Equal(t, 5250, gold)

	// The retry hits the at-most-once guard.
	code, body = e.post(t, "/raid/commit", map[string]any{
		"serverSecret": testSecret, "raidId": raidID, "matchId": "m1",
		"outcomes": outcomes, "signature": sig,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_committed", body["error"])
}

func TestMarketFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	pistol := e.iidOf(t, "c1", "pistol")

	code, body := e.post(t, "/market/create", map[string]any{
		"characterId": "c1", "iid": pistol, "price": 1000, "durationHours": 24,
	})
	require.Equal(t, http.StatusOK, code)
	listingID := body["listing"].(map[string]any)["listingId"].(string)

	code, body = e.get(t, "/market/browse")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["listings"], 1)

	code, _ = e.post(t, "/market/buy", map[string]any{"characterId": "c2", "listingId": listingID})
	require.Equal(t, http.StatusOK, code)

	sellerGold, _ := e.inv.Gold("c1")
	buyerGold, _ := e.inv.Gold("c2")
	assert.Equal(t, 5900, sellerGold) // 5000 - 50 fee + 950 proceeds
	assert.Equal(t, 4000, buyerGold)

	code, body = e.post(t, "/market/mine", map[string]any{"characterId": "c1"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["listings"], 1)
}

func TestTraderFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.post(t, "/trader/list", map[string]any{"characterId": "c1", "traderId": "armorer"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["offers"], 1)

	code, body = e.post(t, "/trader/buy", map[string]any{
		"characterId": "c1", "traderId": "armorer", "offerId": "o_pistol", "quantity": 1,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(400), body["goldSpent"])

	pistol := e.iidOf(t, "c1", "pistol")
	code, _ = e.post(t, "/trader/sell", map[string]any{
		"characterId": "c1", "traderId": "armorer", "iid": pistol, "quantity": 1,
	})
	require.Equal(t, http.StatusOK, code)

	code, body = e.post(t, "/trader/list", map[string]any{"characterId": "c1", "traderId": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "trader_not_found", body["error"])
}
