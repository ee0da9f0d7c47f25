package discovery

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/registry"
)

func startServer(t *testing.T) (*Server, *registry.Registry, net.Conn) {
	t.Helper()
	sessions := registry.New()
	srv := NewServer(sessions, zap.NewNop())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	t.Cleanup(srv.Close)

	conn, err := net.Dial("tcp", srv.ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return srv, sessions, conn
}

func request(t *testing.T, conn net.Conn, msgType byte, payload any) (byte, []byte) {
	t.Helper()
	var raw []byte
	switch p := payload.(type) {
	case nil:
	case []byte:
		raw = p
	default:
		var err error
		raw, err = json.Marshal(p)
		require.NoError(t, err)
	}
	require.NoError(t, WriteFrame(conn, msgType, raw))
	replyType, reply, err := ReadFrame(conn)
	require.NoError(t, err)
	return replyType, reply
}

func TestRegisterListJoinHeartbeat(t *testing.T) {
	_, sessions, conn := startServer(t)

	replyType, reply := request(t, conn, MsgRegisterHost, registerHostReq{
		Name: "garage", Port: 7777, MaxPlayers: 4, GameVersion: "1.2",
	})
	require.Equal(t, MsgSessionCreated, replyType)
	sessionID := string(reply)
	require.NotEmpty(t, sessionID)

	srv, ok := sessions.GetServer(sessionID)
	require.True(t, ok)
	assert.True(t, srv.External)
	assert.Equal(t, "127.0.0.1", srv.Host)
	assert.Equal(t, 7777, srv.Port)

	replyType, reply = request(t, conn, MsgListSessions, nil)
	require.Equal(t, MsgSessionList, replyType)
	var list []sessionEntry
	require.NoError(t, json.Unmarshal(reply, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "garage", list[0].Name)
	assert.Equal(t, 7777, list[0].HostPort)

	replyType, reply = request(t, conn, MsgJoinSession, []byte(sessionID))
	require.Equal(t, MsgJoinInfo, replyType)
	var info joinInfo
	require.NoError(t, json.Unmarshal(reply, &info))
	assert.Equal(t, "127.0.0.1", info.HostIP)
	assert.Equal(t, 7777, info.HostPort)

	replyType, _ = request(t, conn, MsgHeartbeat, heartbeatReq{SessionID: sessionID, CurrentPlayers: 3})
	assert.Equal(t, MsgHeartbeatAck, replyType)
	srv, _ = sessions.GetServer(sessionID)
	assert.Equal(t, 3, srv.CurrentPlayers)
}

func TestJoinUnknownSession(t *testing.T) {
	_, _, conn := startServer(t)
	replyType, _ := request(t, conn, MsgJoinSession, []byte("nope"))
	assert.Equal(t, MsgError, replyType)
}

func TestMalformedRegister(t *testing.T) {
	_, _, conn := startServer(t)
	replyType, _ := request(t, conn, MsgRegisterHost, []byte("not json"))
	assert.Equal(t, MsgError, replyType)

	replyType, _ = request(t, conn, MsgRegisterHost, registerHostReq{Name: "noport"})
	assert.Equal(t, MsgError, replyType)
}

func TestUnknownMessageType(t *testing.T) {
	_, _, conn := startServer(t)
	replyType, _ := request(t, conn, 42, []byte("???"))
	assert.Equal(t, MsgError, replyType)
}

func TestDisconnectUnregistersOwnedSessions(t *testing.T) {
	_, sessions, conn := startServer(t)

	replyType, reply := request(t, conn, MsgRegisterHost, registerHostReq{Name: "garage", Port: 7777, MaxPlayers: 4})
	require.Equal(t, MsgSessionCreated, replyType)
	sessionID := string(reply)

	conn.Close()

	require.Eventually(t, func() bool {
		_, ok := sessions.GetServer(sessionID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnregisterOwnedOnly(t *testing.T) {
	_, sessions, conn := startServer(t)

	// A session this connection does not own survives its unregister request.
	ext, err := sessions.RegisterExternal("other", "10.0.0.9", 7000, 4, 0, "1.0")
	require.NoError(t, err)

	require.NoError(t, WriteFrame(conn, MsgUnregisterHost, []byte(ext.ID)))
	replyType, _ := request(t, conn, MsgListSessions, nil)
	require.Equal(t, MsgSessionList, replyType)

	_, ok := sessions.GetServer(ext.ID)
	assert.True(t, ok)
}
