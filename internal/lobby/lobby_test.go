package lobby

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
)

func newService() *Service {
	return NewService(zap.NewNop())
}

func TestCreateCodeFormat(t *testing.T) {
	s := newService()
	lb, err := s.Create("p1", "survival", 4)
	require.NoError(t, err)

	assert.Len(t, lb.Code, codeLength)
	for _, ch := range lb.Code {
		assert.Contains(t, codeAlphabet, string(ch))
	}
	assert.Equal(t, "p1", lb.Leader)
	assert.Equal(t, StateWaiting, lb.State)
	require.Len(t, lb.Members, 1)
	assert.Equal(t, "p1", lb.Members[0].PlayerID)
}

func TestCreateValidation(t *testing.T) {
	s := newService()
	_, err := s.Create("", "survival", 4)
	assert.ErrorIs(t, err, errs.New(errs.InvalidRequest))
	_, err = s.Create("p1", "survival", 0)
	assert.ErrorIs(t, err, errs.New(errs.InvalidRequest))
	_, err = s.Create("p1", "survival", maxLobbySize+1)
	assert.ErrorIs(t, err, errs.New(errs.InvalidRequest))
}

func TestCreateLeavesPreviousLobby(t *testing.T) {
	s := newService()
	first, err := s.Create("p1", "survival", 4)
	require.NoError(t, err)

	second, err := s.Create("p1", "survival", 4)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)

	// The first lobby emptied out and is gone.
	_, err = s.Get(first.Code)
	assert.ErrorIs(t, err, errs.New(errs.LobbyNotFound))
}

func TestJoinPrefixLookup(t *testing.T) {
	s := newService()
	lb, err := s.Create("p1", "survival", 4)
	require.NoError(t, err)

	joined, err := s.Join(strings.ToLower(lb.Code[:4]), "p2")
	require.NoError(t, err)
	assert.Equal(t, lb.Code, joined.Code)
	require.Len(t, joined.Members, 2)
	assert.Equal(t, "p2", joined.Members[1].PlayerID)
}

func TestJoinRejoinSameLobbyIdempotent(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	_, err := s.Join(lb.Code, "p2")
	require.NoError(t, err)
	again, err := s.Join(lb.Code, "p2")
	require.NoError(t, err)
	assert.Len(t, again.Members, 2)
}

func TestJoinFullLobby(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 2)
	_, err := s.Join(lb.Code, "p2")
	require.NoError(t, err)
	_, err = s.Join(lb.Code, "p3")
	assert.ErrorIs(t, err, errs.New(errs.LobbyFull))
}

func TestLeaveKeepsSpawnIndicesDense(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	s.Join(lb.Code, "p2")
	s.Join(lb.Code, "p3")

	_, err := s.Leave("p2")
	require.NoError(t, err)

	claim, err := s.ClaimSpawn(lb.Code, "p3")
	require.NoError(t, err)
	assert.Equal(t, 1, claim.SpawnIndex)
	assert.Equal(t, lb.Code, claim.GroupName)
}

func TestLeaderPromotionOnLeave(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	s.Join(lb.Code, "p2")
	s.Join(lb.Code, "p3")

	got, err := s.Leave("p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p2", got.Leader)

	claim, _ := s.ClaimSpawn(lb.Code, "p2")
	assert.Equal(t, 0, claim.SpawnIndex)
}

func TestLeaveLastMemberDeletesLobby(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	got, err := s.Leave("p1")
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = s.Get(lb.Code)
	assert.ErrorIs(t, err, errs.New(errs.LobbyNotFound))
}

func TestBeginStartRequiresReadyMembers(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	s.Join(lb.Code, "p2")

	// Non-leader not ready yet.
	_, err := s.BeginStart("p1", lb.Code)
	assert.ErrorIs(t, err, errs.New(errs.InvalidRequest))

	_, err = s.BeginStart("p2", lb.Code)
	assert.ErrorIs(t, err, errs.New(errs.NotLeader))

	// The leader's own ready flag is irrelevant.
	s.SetReady("p2", true)
	got, err := s.BeginStart("p1", lb.Code)
	require.NoError(t, err)
	assert.Equal(t, StateStarting, got.State)

	// A Starting lobby rejects joins and a second start.
	_, err = s.Join(lb.Code, "p3")
	assert.ErrorIs(t, err, errs.New(errs.LobbyNotWaiting))
	_, err = s.BeginStart("p1", lb.Code)
	assert.ErrorIs(t, err, errs.New(errs.LobbyNotWaiting))
}

func TestAbortStartRollsBack(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	_, err := s.BeginStart("p1", lb.Code)
	require.NoError(t, err)

	s.AbortStart(lb.Code)
	got, _ := s.Get(lb.Code)
	assert.Equal(t, StateWaiting, got.State)
}

func TestAttachServerAndMarkInGame(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	_, err := s.BeginStart("p1", lb.Code)
	require.NoError(t, err)

	got, err := s.AttachServer(lb.Code, ServerAttach{
		Host: "127.0.0.1", Port: 27015, ServerID: "srv1", MatchID: "m1",
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MatchID)
	assert.Equal(t, 27015, got.ServerPort)

	s.MarkInGameByMatch("m1")
	got, _ = s.Get(lb.Code)
	assert.Equal(t, StateInGame, got.State)
}

func TestClaimSpawnUnknownMember(t *testing.T) {
	s := newService()
	lb, _ := s.Create("p1", "survival", 4)
	_, err := s.ClaimSpawn(lb.Code, "stranger")
	assert.ErrorIs(t, err, errs.New(errs.InvalidRequest))
}

func TestCleanupStaleSkipsInGame(t *testing.T) {
	s := newService()
	waiting, _ := s.Create("p1", "survival", 4)
	playing, _ := s.Create("p2", "survival", 4)
	s.BeginStart("p2", playing.Code)
	s.AttachServer(playing.Code, ServerAttach{MatchID: "m1"})
	s.MarkInGameByMatch("m1")

	removed := s.CleanupStale(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, removed)

	_, err := s.Get(waiting.Code)
	assert.ErrorIs(t, err, errs.New(errs.LobbyNotFound))
	_, err = s.Get(playing.Code)
	require.NoError(t, err)
}
