package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
	"github.com/deadhold/backend/internal/registry"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   a.cfg.Server.Name,
		"uptime": time.Now().Unix() - a.cfg.Server.StartTime,
		"stats":  a.sessions.Stats(),
	})
}

func (a *API) handleServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": a.sessions.Servers()})
}

type serverReadyReq struct {
	Port int `json:"port"`
}

// handleServerReady flips a Starting server to Ready. A port the backend
// never spawned (a manually launched server) is registered on the fly.
func (a *API) handleServerReady(w http.ResponseWriter, r *http.Request) {
	var req serverReadyReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.Port <= 0 {
		a.writeError(w, errs.New(errs.InvalidRequest))
		return
	}
	srv, ok := a.sessions.FindByPort(req.Port)
	if !ok {
		registered, err := a.sessions.RegisterServer(uuid.NewString(), req.Port, a.cfg.Orchestrator.MaxPlayers)
		if err != nil {
			a.writeError(w, err)
			return
		}
		srv = registered
		a.log.Info("unknown port reported ready, registered",
			zap.Int("port", req.Port),
			zap.String("server", srv.ID),
		)
	}
	if err := a.sessions.MarkReady(srv.ID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"serverId": srv.ID})
}

type heartbeatReq struct {
	ServerID    string `json:"serverId"`
	PlayerCount int    `json:"playerCount"`
}

func (a *API) handleServerHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.sessions.Heartbeat(req.ServerID, req.PlayerCount); err != nil {
		a.writeError(w, err)
		return
	}
	a.met.HeartbeatsTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{})
}

// matchResponse is the shared shape of matchmaking answers.
func (a *API) matchResponse(m *registry.Match, srv *registry.Server, status string) map[string]any {
	return map[string]any{
		"matchId":    m.ID,
		"status":     status,
		"serverHost": a.hostFor(srv),
		"serverPort": srv.Port,
		"gameMode":   m.GameMode,
	}
}
