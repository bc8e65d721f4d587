package quest

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/questkeeper/plugin/hook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lifecycleDefs = `
quests:
  - id: 10
    name: Errand
    branches:
      - stages: [{type: signal}]
  - id: 11
    name: Daily Patrol
    repeatable: true
    cooldown: 1h
    branches:
      - stages: [{type: signal}, {type: signal}]
  - id: 20
    name: Bounty A
    repeatable: true
    branches:
      - stages: [{type: signal}]
  - id: 21
    name: Bounty B
    repeatable: true
    branches:
      - stages: [{type: signal}]
  - id: 30
    name: Relic
    branches:
      - stages: [{type: signal}]
pools:
  - id: 1
    name: Bounty Board
    quests: [20, 21]
    cooldown: 1m
    redo: true
  - id: 2
    name: Museum
    quests: [30]
`

func TestQuest_StartTwice(t *testing.T) {
	e := newEnv(t, lifecycleDefs)
	acc, _ := e.join("alice")

	require.NoError(t, e.start(acc, 10))
	assert.ErrorIs(t, e.start(acc, 10), ErrAlreadyStarted)
}

func TestQuest_NotRepeatable(t *testing.T) {
	e := newEnv(t, lifecycleDefs)
	acc, sess := e.join("bob")

	require.NoError(t, e.start(acc, 10))
	require.NoError(t, e.signal(acc, 10, "0:0"))
	assert.Contains(t, sess.messages(), "Quest finished: Errand")
	assert.ErrorIs(t, e.start(acc, 10), ErrNotRepeatable)
}

func TestQuest_CooldownBetweenRuns(t *testing.T) {
	e := newEnv(t, lifecycleDefs)
	acc, _ := e.join("carol")

	require.NoError(t, e.start(acc, 11))
	require.NoError(t, e.signal(acc, 11, "0:0"))
	require.NoError(t, e.signal(acc, 11, "0:1"))

	var timer int64
	e.on(func() { timer = acc.QuestEntryIfPresent(11).Timer() })
	assert.Equal(t, e.now.Load(), timer)

	err := e.start(acc, 11)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Contains(t, err.Error(), "1h0m0s left")

	e.advance(30 * time.Minute)
	var left time.Duration
	e.on(func() { left = e.quest(11).CooldownLeft(acc) })
	assert.Equal(t, 30*time.Minute, left)

	e.advance(30 * time.Minute)
	require.NoError(t, e.start(acc, 11))
	assert.Empty(t, e.flow(acc, 11))

	var finished int
	e.on(func() { finished = acc.QuestEntryIfPresent(11).Finished() })
	assert.Equal(t, 1, finished)
}

func TestQuest_StartCancelledByHook(t *testing.T) {
	e := newEnv(t, lifecycleDefs)
	e.hooks.Register(hook.OnQuestStart, 0, "test", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data, hook.ErrInterrupt
	})
	acc, sess := e.join("dave")

	assert.ErrorIs(t, e.start(acc, 10), ErrStartCancelled)
	var started bool
	e.on(func() { started = e.quest(10).HasStarted(acc) })
	assert.False(t, started)
	assert.Empty(t, sess.messages())
	assert.Empty(t, e.events.types())
}

func TestQuest_Cancel(t *testing.T) {
	e := newEnv(t, lifecycleDefs)
	acc, sess := e.join("erin")

	var cancelled bool
	e.on(func() { cancelled = e.quest(11).Cancel(acc) })
	assert.False(t, cancelled)

	require.NoError(t, e.start(acc, 11))
	e.on(func() { cancelled = e.quest(11).Cancel(acc) })
	assert.True(t, cancelled)
	assert.Contains(t, sess.messages(), "Quest cancelled: Daily Patrol")
	assert.ErrorIs(t, e.signal(acc, 11, "0:0"), ErrStageNotActive)

	// A cancelled quest can be started again at once.
	require.NoError(t, e.start(acc, 11))
}

func TestPool_GivesInOrderWithCooldown(t *testing.T) {
	e := newEnv(t, lifecycleDefs)
	acc, _ := e.join("frank")
	pool := e.reg.Pool(1)
	require.NotNil(t, pool)

	give := func() (int, error) {
		var q *Quest
		var err error
		e.on(func() { q, err = pool.Give(acc) })
		if q == nil {
			return 0, err
		}
		return q.ID(), err
	}

	id, err := give()
	require.NoError(t, err)
	assert.Equal(t, 20, id)

	_, err = give()
	assert.ErrorIs(t, err, ErrPoolCooldown)

	e.advance(time.Minute)
	id, err = give()
	require.NoError(t, err)
	assert.Equal(t, 21, id, "a started quest is skipped")

	require.NoError(t, e.signal(acc, 20, "0:0"))
	require.NoError(t, e.signal(acc, 21, "0:0"))
	var completed []int
	e.on(func() { completed = acc.PoolEntryIfPresent(1).CompletedQuests() })
	assert.ElementsMatch(t, []int{20, 21}, completed)

	e.advance(time.Minute)
	id, err = give()
	require.NoError(t, err)
	assert.Equal(t, 20, id, "a redo pool starts over")
	e.on(func() { completed = acc.PoolEntryIfPresent(1).CompletedQuests() })
	assert.Empty(t, completed)
}

func TestPool_Exhausted(t *testing.T) {
	e := newEnv(t, lifecycleDefs)
	acc, _ := e.join("grace")
	pool := e.reg.Pool(2)

	var err error
	e.on(func() { _, err = pool.Give(acc) })
	require.NoError(t, err)
	require.NoError(t, e.signal(acc, 30, "0:0"))

	e.on(func() { _, err = pool.Give(acc) })
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestRegistry_RemoveQuestLeavesPool(t *testing.T) {
	e := newEnv(t, lifecycleDefs)

	assert.Same(t, e.reg.Pool(1), e.reg.Quest(20).Pool())
	require.NotNil(t, e.reg.removeQuest(20))
	assert.Nil(t, e.reg.Quest(20))
	assert.Equal(t, []int{21}, e.reg.Pool(1).Quests())
	assert.Nil(t, e.reg.removeQuest(20))

	require.NotNil(t, e.reg.removePool(1))
	assert.Nil(t, e.reg.Quest(21).Pool())
	assert.Len(t, e.reg.Pools(), 1)
}
