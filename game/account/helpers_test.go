package account_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/game/loop"
	"github.com/kasuganosora/questkeeper/store"
	"github.com/kasuganosora/questkeeper/testutil"
	"go.uber.org/zap"
)

type testSession struct {
	id      uuid.UUID
	name    string
	offline atomic.Bool
	mu      sync.Mutex
	msgs    []string
}

func newSession(name string) *testSession {
	return &testSession{id: uuid.New(), name: name}
}

func (s *testSession) Identity() uuid.UUID { return s.id }
func (s *testSession) Name() string        { return s.name }
func (s *testSession) Online() bool        { return !s.offline.Load() }
func (s *testSession) Notify(msg string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

var errFlaky = errors.New("flaky store")

// flakyStore wraps a real store and injects failures and hooks.
type flakyStore struct {
	account.EntryStore
	findFailures atomic.Int32
	blockFinds   atomic.Int32
	finds        atomic.Int32
	creates      atomic.Int32
	onCreate     func()
	onLoadQuests func()
}

func (f *flakyStore) FindAccount(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	f.finds.Add(1)
	if f.blockFinds.Add(-1) >= 0 {
		<-ctx.Done()
		return 0, false, ctx.Err()
	}
	if f.findFailures.Add(-1) >= 0 {
		return 0, false, errFlaky
	}
	return f.EntryStore.FindAccount(ctx, id)
}

func (f *flakyStore) CreateAccount(ctx context.Context, id uuid.UUID) (int64, error) {
	f.creates.Add(1)
	row, err := f.EntryStore.CreateAccount(ctx, id)
	if f.onCreate != nil {
		f.onCreate()
	}
	return row, err
}

func (f *flakyStore) LoadQuestEntries(ctx context.Context, rowID int64) ([]account.QuestEntrySnapshot, error) {
	rows, err := f.EntryStore.LoadQuestEntries(ctx, rowID)
	if f.onLoadQuests != nil {
		f.onLoadQuests()
	}
	return rows, err
}

// cancellingExec cancels the caller's context when its at-th task is submitted.
type cancellingExec struct {
	account.Executor
	calls  atomic.Int32
	at     int32
	cancel context.CancelFunc
}

func (e *cancellingExec) Do(ctx context.Context, fn func()) error {
	if e.calls.Add(1) == e.at {
		e.cancel()
	}
	return e.Executor.Do(ctx, fn)
}

type fixture struct {
	store  *store.GormStore
	flaky  *flakyStore
	loop   *loop.Loop
	cache  *account.Cache
	loader *account.Loader
	data   *account.DataRegistry
}

func newFixture(t *testing.T, cfg account.LoaderConfig, register ...func(r *account.DataRegistry)) *fixture {
	t.Helper()
	logger := zap.NewNop()
	gs := store.New(testutil.SetupTestDB(t))
	fs := &flakyStore{EntryStore: gs}
	l := loop.New(64, logger)
	go l.Run()

	data := account.NewDataRegistry()
	for _, fn := range register {
		fn(data)
	}
	cache := account.NewCache(fs, data, time.Second, nil, logger)
	loader := account.NewLoader(cache, l, cfg, nil, logger)
	t.Cleanup(func() {
		_ = cache.Close(context.Background())
		l.Stop()
		<-l.Done()
	})
	return &fixture{store: gs, flaky: fs, loop: l, cache: cache, loader: loader, data: data}
}

// onLoop runs fn on the main loop and waits.
func (f *fixture) onLoop(t *testing.T, fn func()) {
	t.Helper()
	if err := f.loop.Do(context.Background(), fn); err != nil {
		t.Fatalf("loop: %v", err)
	}
}
