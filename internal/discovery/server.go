package discovery

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/registry"
)

// Server accepts long-lived discovery connections. A connection owns the
// sessions it registers: when it drops, they are unregistered.
type Server struct {
	sessions *registry.Registry
	log      *zap.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

func NewServer(sessions *registry.Registry, log *zap.Logger) *Server {
	return &Server{sessions: sessions, log: log.Named("discovery")}
}

// Listen binds addr and starts accepting connections.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Close stops accepting and waits for connection handlers to drain.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Error("accept failed", zap.Error(err))
			}
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

type registerHostReq struct {
	Name           string `json:"name"`
	Port           int    `json:"port"`
	MaxPlayers     int    `json:"maxPlayers"`
	CurrentPlayers int    `json:"currentPlayers"`
	GameVersion    string `json:"gameVersion"`
}

type heartbeatReq struct {
	SessionID      string `json:"sessionId"`
	CurrentPlayers int    `json:"currentPlayers"`
}

type sessionEntry struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	HostIP         string `json:"hostIp"`
	HostPort       int    `json:"hostPort"`
	MaxPlayers     int    `json:"maxPlayers"`
	CurrentPlayers int    `json:"currentPlayers"`
	GameVersion    string `json:"gameVersion"`
}

type joinInfo struct {
	HostIP   string `json:"hostIp"`
	HostPort int    `json:"hostPort"`
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Sessions registered on this connection; removed on disconnect.
	owned := make(map[string]bool)
	defer func() {
		for id := range owned {
			s.sessions.UnregisterServer(id)
		}
	}()

	hostIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))

	for {
		msgType, payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("connection closed", zap.Error(err))
			}
			return
		}

		switch msgType {
		case MsgRegisterHost:
			var req registerHostReq
			if err := json.Unmarshal(payload, &req); err != nil || req.Port <= 0 {
				s.reply(conn, MsgError, []byte("malformed register payload"))
				continue
			}
			if req.MaxPlayers < 1 {
				req.MaxPlayers = 1
			}
			srv, err := s.sessions.RegisterExternal(req.Name, hostIP, req.Port, req.MaxPlayers, req.CurrentPlayers, req.GameVersion)
			if err != nil {
				s.reply(conn, MsgError, []byte("port already registered"))
				continue
			}
			owned[srv.ID] = true
			log.Info("host registered", zap.String("session", srv.ID), zap.String("name", req.Name))
			s.reply(conn, MsgSessionCreated, []byte(srv.ID))

		case MsgUnregisterHost:
			id := string(payload)
			if owned[id] {
				s.sessions.UnregisterServer(id)
				delete(owned, id)
			}

		case MsgListSessions:
			list := make([]sessionEntry, 0)
			for _, srv := range s.sessions.ExternalServers() {
				list = append(list, sessionEntry{
					ID:             srv.ID,
					Name:           srv.Name,
					HostIP:         srv.Host,
					HostPort:       srv.Port,
					MaxPlayers:     srv.MaxPlayers,
					CurrentPlayers: srv.CurrentPlayers,
					GameVersion:    srv.GameVersion,
				})
			}
			raw, _ := json.Marshal(list)
			s.reply(conn, MsgSessionList, raw)

		case MsgJoinSession:
			srv, ok := s.sessions.GetServer(string(payload))
			if !ok || !srv.External {
				s.reply(conn, MsgError, []byte("session not found"))
				continue
			}
			raw, _ := json.Marshal(joinInfo{HostIP: srv.Host, HostPort: srv.Port})
			s.reply(conn, MsgJoinInfo, raw)

		case MsgHeartbeat:
			var req heartbeatReq
			if err := json.Unmarshal(payload, &req); err != nil {
				s.reply(conn, MsgError, []byte("malformed heartbeat payload"))
				continue
			}
			if err := s.sessions.Heartbeat(req.SessionID, req.CurrentPlayers); err != nil {
				s.reply(conn, MsgError, []byte("session not found"))
				continue
			}
			s.reply(conn, MsgHeartbeatAck, nil)

		default:
			s.reply(conn, MsgError, []byte("unknown message type"))
		}
	}
}

func (s *Server) reply(conn net.Conn, msgType byte, payload []byte) {
	if err := WriteFrame(conn, msgType, payload); err != nil {
		s.log.Debug("reply write failed", zap.Error(err))
	}
}
