package account_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func defaultCfg() account.LoaderConfig {
	return account.LoaderConfig{Attempts: 2, AttemptTimeout: time.Second}
}

func TestJoin_CreatesAccount(t *testing.T) {
	f := newFixture(t, defaultCfg())
	s := newSession("alice")

	acc, err := f.loader.Join(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, acc)

	assert.Equal(t, s.Identity(), acc.Identity())
	assert.Greater(t, acc.RowID(), int64(0))
	assert.True(t, acc.IsCurrent())
	assert.Same(t, acc, f.cache.Get(s.Identity()))
	assert.Equal(t, int32(1), f.flaky.creates.Load())
}

func TestJoin_LoadsExistingProgress(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()
	s := newSession("bob")

	rowID, err := f.store.CreateAccount(ctx, s.Identity())
	require.NoError(t, err)
	require.NoError(t, f.store.SaveQuestEntries(ctx, rowID, []account.QuestEntrySnapshot{
		{QuestID: 3, Branch: 0, Stage: 1, Flow: []string{"0:0"}},
	}))
	require.NoError(t, f.store.SavePoolEntry(ctx, rowID, account.PoolEntrySnapshot{PoolID: 2, LastGive: 5, Completed: []int{3}}))

	acc, err := f.loader.Join(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, rowID, acc.RowID())
	assert.Equal(t, int32(0), f.flaky.creates.Load())

	f.onLoop(t, func() {
		e := acc.QuestEntryIfPresent(3)
		require.NotNil(t, e)
		assert.Equal(t, 1, e.Stage())
		assert.Equal(t, []string{"0:0"}, e.Flow())
		p := acc.PoolEntryIfPresent(2)
		require.NotNil(t, p)
		assert.True(t, p.HasCompleted(3))
	})
}

func TestJoin_RetriesAfterFailure(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.flaky.findFailures.Store(1)
	s := newSession("carol")

	acc, err := f.loader.Join(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, int32(2), f.flaky.finds.Load())
	assert.Equal(t, int32(1), f.flaky.creates.Load(), "no duplicate creation")
}

func TestJoin_RetriesAfterTimeout(t *testing.T) {
	f := newFixture(t, account.LoaderConfig{Attempts: 2, AttemptTimeout: 30 * time.Millisecond})
	f.flaky.blockFinds.Store(1)
	s := newSession("dave")

	acc, err := f.loader.Join(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, int32(2), f.flaky.finds.Load())
}

func TestJoin_FailsAfterAllAttempts(t *testing.T) {
	f := newFixture(t, account.LoaderConfig{Attempts: 3, AttemptTimeout: time.Second})
	f.flaky.findFailures.Store(10)
	s := newSession("erin")

	acc, err := f.loader.Join(context.Background(), s)
	assert.Nil(t, acc)
	assert.ErrorIs(t, err, account.ErrLoadFailed)
	assert.Equal(t, int32(3), f.flaky.finds.Load())
	assert.Nil(t, f.cache.Get(s.Identity()))
}

func TestJoin_LeftDuringLoadDeletesCreatedAccount(t *testing.T) {
	f := newFixture(t, defaultCfg())
	s := newSession("frank")
	f.flaky.onCreate = func() { s.offline.Store(true) }

	acc, err := f.loader.Join(context.Background(), s)
	assert.Nil(t, acc)
	assert.ErrorIs(t, err, account.ErrLeftDuringLoad)
	assert.Nil(t, f.cache.Get(s.Identity()))

	_, found, err := f.store.FindAccount(context.Background(), s.Identity())
	require.NoError(t, err)
	assert.False(t, found, "row created for the departed session must be deleted")
}

func TestJoin_LeftDuringLoadKeepsExistingAccount(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()
	s := newSession("gina")
	_, err := f.store.CreateAccount(ctx, s.Identity())
	require.NoError(t, err)
	s.offline.Store(true)

	_, err = f.loader.Join(ctx, s)
	assert.ErrorIs(t, err, account.ErrLeftDuringLoad)
	_, found, _ := f.store.FindAccount(ctx, s.Identity())
	assert.True(t, found)
}

func TestFetch_NoCreation(t *testing.T) {
	f := newFixture(t, defaultCfg())
	req := account.NewFetchRequest(newSession("x").Identity(), false, false)

	acc, err := f.loader.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, acc)
	assert.Equal(t, account.FetchNotLoaded, req.State())
	assert.Equal(t, int32(0), f.flaky.creates.Load())
}

func TestFetch_ReturnsCachedAccount(t *testing.T) {
	f := newFixture(t, defaultCfg())
	s := newSession("hal")
	joined, err := f.loader.Join(context.Background(), s)
	require.NoError(t, err)

	req := account.NewFetchRequest(s.Identity(), false, false)
	acc, err := f.loader.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, joined, acc)
	assert.Equal(t, account.SourceCache, req.LoadedFrom())
}

func TestFetch_ShouldCache(t *testing.T) {
	f := newFixture(t, defaultCfg())
	id := newSession("ivy").Identity()

	req := account.NewFetchRequest(id, true, true)
	acc, err := f.loader.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, account.FetchCreated, req.State())
	assert.Same(t, acc, f.cache.Get(id))
	assert.False(t, acc.IsCurrent(), "fetched accounts have no session")
}

func TestLeave_FlushesAndEvicts(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()
	s := newSession("jay")
	acc, err := f.loader.Join(ctx, s)
	require.NoError(t, err)

	f.onLoop(t, func() {
		e := f.cache.QuestEntry(acc, 8)
		e.SetBranch(0)
		e.SetStage(2)
		e.AddFlow("0:0")
		e.AddFlow("0:1")
	})

	var hooked bool
	snap, err := f.loader.Leave(ctx, s.Identity(), func(*account.Account) { hooked = true })
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, hooked)
	assert.Nil(t, f.cache.Get(s.Identity()))
	assert.False(t, acc.IsCurrent())

	rows, err := f.store.LoadQuestEntries(ctx, acc.RowID())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Stage)

	again, err := f.loader.Join(ctx, newSessionWithID(s))
	require.NoError(t, err)
	f.onLoop(t, func() {
		assert.Equal(t, []string{"0:0", "0:1"}, again.QuestEntryIfPresent(8).Flow())
	})
}

func TestLeave_NotCached(t *testing.T) {
	f := newFixture(t, defaultCfg())
	snap, err := f.loader.Leave(context.Background(), newSession("k").Identity(), nil)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestJoin_FlushesStaleAccount(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()
	s := newSession("lee")
	acc, err := f.loader.Join(ctx, s)
	require.NoError(t, err)
	f.onLoop(t, func() { f.cache.QuestEntry(acc, 1).SetBranch(0) })

	again, err := f.loader.Join(ctx, newSessionWithID(s))
	require.NoError(t, err)
	assert.NotSame(t, acc, again)
	f.onLoop(t, func() {
		require.NotNil(t, again.QuestEntryIfPresent(1))
		assert.Equal(t, 0, again.QuestEntryIfPresent(1).Branch())
	})
}

func TestJoin_ReloadsWhenEvictedAccountFlushedDuringLoad(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()
	s := newSession("nora")
	acc, err := f.loader.Join(ctx, s)
	require.NoError(t, err)
	f.onLoop(t, func() {
		e := f.cache.QuestEntry(acc, 5)
		e.SetBranch(0)
		e.SetStage(0)
	})
	_, err = f.loader.Leave(ctx, s.Identity(), nil)
	require.NoError(t, err)

	// The evicted account advances after the rejoin read the store.
	var once sync.Once
	f.flaky.onLoadQuests = func() {
		once.Do(func() {
			_ = f.loop.Do(context.Background(), func() {
				acc.QuestEntryIfPresent(5).SetStage(1)
				f.cache.Reflush(acc)
			})
		})
	}

	again, err := f.loader.Join(ctx, newSessionWithID(s))
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.flaky.finds.Load(), "the stale load is made again")
	f.onLoop(t, func() {
		e := again.QuestEntryIfPresent(5)
		require.NotNil(t, e)
		assert.Equal(t, 1, e.Stage())
	})
}

func TestJoin_PublishOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Task 1 evicts, task 2 publishes.
	exec := &cancellingExec{Executor: f.loop, at: 2, cancel: cancel}
	loader := account.NewLoader(f.cache, exec, defaultCfg(), nil, zap.NewNop())
	s := newSession("olga")

	acc, err := loader.Join(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Same(t, acc, f.cache.Get(s.Identity()))
	assert.True(t, acc.IsCurrent())
}

func TestLeave_EvictsAndFlushesWithCancelledContext(t *testing.T) {
	f := newFixture(t, defaultCfg())
	s := newSession("pia")
	acc, err := f.loader.Join(context.Background(), s)
	require.NoError(t, err)
	f.onLoop(t, func() { f.cache.QuestEntry(acc, 2).SetBranch(0) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, _ := f.loader.Leave(ctx, s.Identity(), nil)
	require.NotNil(t, snap)
	assert.Nil(t, f.cache.Get(s.Identity()))

	require.NoError(t, f.cache.Sync(context.Background()))
	rows, err := f.store.LoadQuestEntries(context.Background(), acc.RowID())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Branch)
}

func TestAccountData_PersistedAndReloaded(t *testing.T) {
	var rep *account.DataKey[int]
	f := newFixture(t, defaultCfg(), func(r *account.DataRegistry) {
		var err error
		rep, err = account.RegisterData(r, "reputation", "", 0)
		require.NoError(t, err)
	})
	ctx := context.Background()
	require.NoError(t, f.loader.Prepare(ctx))
	_, err := account.RegisterData(f.data, "late", "", 0)
	assert.ErrorIs(t, err, account.ErrDataFrozen)

	s := newSession("mia")
	acc, err := f.loader.Join(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 0, account.GetData(acc, rep))
	require.NoError(t, account.SetData(acc, rep, 42))
	require.NoError(t, f.cache.Sync(ctx))

	_, err = f.loader.Leave(ctx, s.Identity(), nil)
	require.NoError(t, err)
	again, err := f.loader.Join(ctx, newSessionWithID(s))
	require.NoError(t, err)
	assert.Equal(t, 42, account.GetData(again, rep))

	require.NoError(t, <-f.cache.ResetData(again))
	assert.Equal(t, 0, account.GetData(again, rep))
	raw, err := f.store.LoadAccountData(ctx, again.RowID(), []string{"reputation"})
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func newSessionWithID(s *testSession) *testSession {
	n := newSession(s.name)
	n.id = s.id
	return n
}
