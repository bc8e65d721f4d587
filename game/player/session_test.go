package player

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSession_NotifyAndPoll(t *testing.T) {
	s := NewSession(uuid.New(), "alice", zap.NewNop())
	s.Notify("hello")
	s.Notify("world")

	pkts := s.Poll(0)
	require.Len(t, pkts, 2)
	assert.Equal(t, uint64(1), pkts[0].Seq)
	assert.Equal(t, uint64(2), pkts[1].Seq)
	assert.Equal(t, "message", pkts[0].Type)

	var p messagePayload
	require.NoError(t, json.Unmarshal(pkts[1].Payload, &p))
	assert.Equal(t, "world", p.Message)
	assert.Empty(t, s.Poll(0))
}

func TestSession_PollLimit(t *testing.T) {
	s := NewSession(uuid.New(), "bob", zap.NewNop())
	for i := 0; i < 5; i++ {
		s.Notify("x")
	}
	assert.Len(t, s.Poll(3), 3)
	assert.Len(t, s.Poll(3), 2)
}

func TestSession_CloseStopsDelivery(t *testing.T) {
	s := NewSession(uuid.New(), "carol", zap.NewNop())
	assert.True(t, s.Online())
	s.Close()
	s.Close()
	assert.False(t, s.Online())
	s.Notify("late")
	assert.Empty(t, s.Poll(0))
}

func TestSession_DropsWhenFull(t *testing.T) {
	s := NewSession(uuid.New(), "dave", zap.NewNop())
	for i := 0; i < sendChanBuf+10; i++ {
		s.Notify("spam")
	}
	assert.Len(t, s.Poll(0), sendChanBuf)
}

func TestSessionManager_RegisterDisplaces(t *testing.T) {
	sm := NewSessionManager(zap.NewNop())
	id := uuid.New()
	first := NewSession(id, "erin", zap.NewNop())
	assert.Nil(t, sm.Register(first))

	second := NewSession(id, "erin", zap.NewNop())
	assert.Same(t, first, sm.Register(second))
	assert.False(t, first.Online())
	assert.Same(t, second, sm.Get(id))
	assert.Equal(t, 1, sm.Count())
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager(zap.NewNop())
	s := NewSession(uuid.New(), "Frank", zap.NewNop())
	sm.Register(s)

	assert.Same(t, s, sm.GetByName("frank"))
	assert.Same(t, s, sm.Unregister(s.Identity()))
	assert.False(t, s.Online())
	assert.False(t, sm.IsOnline(s.Identity()))
	assert.Nil(t, sm.Unregister(s.Identity()))
}

func TestSessionManager_BroadcastAndCloseAll(t *testing.T) {
	sm := NewSessionManager(zap.NewNop())
	a := NewSession(uuid.New(), "a", zap.NewNop())
	b := NewSession(uuid.New(), "b", zap.NewNop())
	sm.Register(a)
	sm.Register(b)

	sm.BroadcastSystemMessage("restart soon")
	assert.Len(t, a.Poll(0), 1)
	assert.Len(t, b.Poll(0), 1)

	closed := sm.CloseAllSessions()
	assert.Len(t, closed, 2)
	assert.Equal(t, 0, sm.Count())
	assert.False(t, a.Online())
}
