package social

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
)

func newDirectory() *Directory {
	return NewDirectory(zap.NewNop())
}

func TestSendRequestValidation(t *testing.T) {
	d := newDirectory()
	assert.ErrorIs(t, d.SendRequest("p1", "p1"), errs.New(errs.InvalidRequest))
	assert.ErrorIs(t, d.SendRequest("", "p2"), errs.New(errs.InvalidRequest))
	assert.ErrorIs(t, d.SendRequest("p1", ""), errs.New(errs.InvalidRequest))
}

func TestSendRequestIdempotent(t *testing.T) {
	d := newDirectory()
	require.NoError(t, d.SendRequest("p1", "p2"))
	require.NoError(t, d.SendRequest("p1", "p2"))
	assert.Len(t, d.ListPending("p2"), 1)
}

func TestAcceptCreatesSymmetricEdge(t *testing.T) {
	d := newDirectory()
	require.NoError(t, d.SendRequest("p1", "p2"))

	friend, err := d.Accept("p2", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", friend.PlayerID)

	// Both sides see the edge; the request is consumed.
	require.Len(t, d.ListFriends("p1"), 1)
	require.Len(t, d.ListFriends("p2"), 1)
	assert.Equal(t, "p2", d.ListFriends("p1")[0].PlayerID)
	assert.Empty(t, d.ListPending("p2"))

	// A fresh request to an existing friend is rejected.
	assert.ErrorIs(t, d.SendRequest("p2", "p1"), errs.New(errs.InvalidRequest))
}

func TestAcceptWithoutPendingRequest(t *testing.T) {
	d := newDirectory()
	_, err := d.Accept("p2", "p1")
	assert.ErrorIs(t, err, errs.New(errs.InvalidRequest))
}

func TestDeclineDropsRequest(t *testing.T) {
	d := newDirectory()
	require.NoError(t, d.SendRequest("p1", "p2"))
	d.Decline("p2", "p1")
	assert.Empty(t, d.ListPending("p2"))
	assert.Empty(t, d.ListFriends("p2"))

	// Declining again is silent.
	d.Decline("p2", "p1")
}

func TestRemoveDeletesBothDirections(t *testing.T) {
	d := newDirectory()
	d.SendRequest("p1", "p2")
	d.Accept("p2", "p1")

	d.Remove("p1", "p2")
	assert.Empty(t, d.ListFriends("p1"))
	assert.Empty(t, d.ListFriends("p2"))
}

func TestUpdatePresence(t *testing.T) {
	d := newDirectory()
	p := d.UpdatePresence("p1", "Vasya", true, "survival")
	assert.Equal(t, "Vasya", p.Name)
	assert.True(t, p.Online)
	assert.Equal(t, "survival", p.CurrentGame)

	// An empty name keeps the previous one.
	p = d.UpdatePresence("p1", "", false, "")
	assert.Equal(t, "Vasya", p.Name)
	assert.False(t, p.Online)
}

func TestInviteReplacedBySameSender(t *testing.T) {
	d := newDirectory()
	require.NoError(t, d.SendInvite("p1", "p2", ServerInfo{Host: "a", Port: 1}))
	require.NoError(t, d.SendInvite("p1", "p2", ServerInfo{Host: "b", Port: 2}))
	require.NoError(t, d.SendInvite("p3", "p2", ServerInfo{Host: "c", Port: 3}))

	invites := d.ListInvites("p2")
	require.Len(t, invites, 2)
	assert.Equal(t, "b", invites[0].Server.Host)
}

func TestInviteExpiry(t *testing.T) {
	d := newDirectory()
	require.NoError(t, d.SendInvite("p1", "p2", ServerInfo{Host: "a", Port: 1}))

	d.mu.Lock()
	d.invites["p2"][0].SentAt = time.Now().Add(-inviteTTL - time.Minute)
	d.mu.Unlock()

	assert.Empty(t, d.ListInvites("p2"))
}

func TestSendInviteValidation(t *testing.T) {
	d := newDirectory()
	assert.ErrorIs(t, d.SendInvite("p1", "p1", ServerInfo{}), errs.New(errs.InvalidRequest))
	assert.ErrorIs(t, d.SendInvite("", "p2", ServerInfo{}), errs.New(errs.InvalidRequest))
}
