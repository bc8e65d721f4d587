package quest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/game/loop"
	"github.com/kasuganosora/questkeeper/plugin/hook"
	"github.com/kasuganosora/questkeeper/scheduler"
	"github.com/kasuganosora/questkeeper/store"
	"github.com/kasuganosora/questkeeper/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	id      uuid.UUID
	name    string
	offline atomic.Bool
	mu      sync.Mutex
	msgs    []string
}

func (s *fakeSession) Identity() uuid.UUID { return s.id }
func (s *fakeSession) Name() string        { return s.name }
func (s *fakeSession) Online() bool        { return !s.offline.Load() }
func (s *fakeSession) Notify(msg string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *fakeSession) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) Publish(ev ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// stageLog records the lifecycle calls of trace stages.
type stageLog struct {
	mu    sync.Mutex
	calls []string
}

func (p *stageLog) add(s string) {
	p.mu.Lock()
	p.calls = append(p.calls, s)
	p.mu.Unlock()
}

func (p *stageLog) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type traceStage struct{ log *stageLog }

func (traceStage) Type() string { return "trace" }

func (p traceStage) StageStarted(c *StageController, _ *account.Account) {
	p.log.add("start " + c.FlowID())
}

func (p traceStage) StageEnded(c *StageController, _ *account.Account) {
	p.log.add("end " + c.FlowID())
}

func (p traceStage) AccountJoined(c *StageController, _ *account.Account) {
	p.log.add("join " + c.FlowID())
}

func (p traceStage) AccountLeft(c *StageController, _ *account.Account) {
	p.log.add("leave " + c.FlowID())
}

type env struct {
	t      *testing.T
	loop   *loop.Loop
	cache  *account.Cache
	loader *account.Loader
	sched  *scheduler.Scheduler
	hooks  *hook.HookCenter
	events *eventRecorder
	traces *stageLog
	rt     *Runtime
	reg    *Registry
	now    atomic.Int64
}

// newEnv builds a runtime over a real store and loop and loads defs.
func newEnv(t *testing.T, defs string) *env {
	t.Helper()
	logger := zap.NewNop()
	e := &env{
		t:      t,
		loop:   loop.New(256, logger),
		sched:  scheduler.New(logger),
		hooks:  hook.NewHookCenter(),
		events: &eventRecorder{},
		traces: &stageLog{},
	}
	e.now.Store(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).UnixMilli())
	go e.loop.Run()

	e.cache = account.NewCache(store.New(testutil.SetupTestDB(t)), nil, time.Second, nil, logger)
	e.loader = account.NewLoader(e.cache, e.loop, account.LoaderConfig{Attempts: 2, AttemptTimeout: time.Second}, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	e.rt = NewRuntime(ctx, Deps{
		Cache:     e.cache,
		Exec:      e.loop,
		Scheduler: e.sched,
		Hooks:     e.hooks,
		Events:    e.events,
		Logger:    logger,
		Options:   Options{StageEndRewardsMessage: true, QuestUpdateMessage: true},
		Now:       func() time.Time { return time.UnixMilli(e.now.Load()) },
	})
	types, err := DefaultTypes(StageType{Name: "trace", New: func(*Runtime, StageDef) (Stage, error) {
		return traceStage{log: e.traces}, nil
	}})
	require.NoError(t, err)
	parsed, err := ParseDefinitions([]byte(defs))
	require.NoError(t, err)
	e.reg, err = Build(e.rt, types, parsed)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		e.sched.Stop()
		_ = e.cache.Close(context.Background())
		e.loop.Stop()
		<-e.loop.Done()
	})
	return e
}

func (e *env) advance(d time.Duration) { e.now.Add(d.Milliseconds()) }

func (e *env) join(name string) (*account.Account, *fakeSession) {
	e.t.Helper()
	s := &fakeSession{id: uuid.New(), name: name}
	acc, err := e.loader.Join(context.Background(), s)
	require.NoError(e.t, err)
	return acc, s
}

// on runs fn on the main loop and waits for it.
func (e *env) on(fn func()) {
	e.t.Helper()
	require.NoError(e.t, e.loop.Do(context.Background(), fn))
}

func (e *env) quest(id int) *Quest {
	e.t.Helper()
	q := e.reg.Quest(id)
	require.NotNil(e.t, q)
	return q
}

// position reads branch, stage and ending flag of acc on quest id.
func (e *env) position(acc *account.Account, id int) (branch, stage int, ending bool) {
	e.on(func() {
		entry := acc.QuestEntryIfPresent(id)
		if entry == nil {
			branch, stage = -1, -1
			return
		}
		branch, stage, ending = entry.Branch(), entry.Stage(), entry.InEndingStages()
	})
	return
}

func (e *env) signal(acc *account.Account, questID int, ref string) error {
	e.t.Helper()
	r, err := ParseStageRef(ref)
	require.NoError(e.t, err)
	var serr error
	e.on(func() { serr = e.quest(questID).Signal(acc, r) })
	return serr
}

func (e *env) start(acc *account.Account, questID int) error {
	var err error
	e.on(func() { err = e.quest(questID).Start(acc) })
	return err
}

func (e *env) flow(acc *account.Account, questID int) []string {
	var out []string
	e.on(func() {
		if entry := acc.QuestEntryIfPresent(questID); entry != nil {
			out = entry.Flow()
		}
	})
	return out
}
