package quest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/metrics"
	"github.com/kasuganosora/questkeeper/plugin/hook"
	"github.com/kasuganosora/questkeeper/scheduler"
	"go.uber.org/zap"
)

// Progress event kinds.
const (
	EventStarted   = "started"
	EventUpdated   = "updated"
	EventFinished  = "finished"
	EventCancelled = "cancelled"
	EventRemoved   = "removed"
	EventJoined    = "joined"
	EventLeft      = "left"
)

// ProgressEvent describes a change of an account's quest progress.
type ProgressEvent struct {
	Type        string    `json:"type"`
	Account     uuid.UUID `json:"account"`
	Player      string    `json:"player,omitempty"`
	QuestID     int       `json:"quest_id,omitempty"`
	Quest       string    `json:"quest,omitempty"`
	Branch      int       `json:"branch"`
	Stage       int       `json:"stage"`
	Ending      bool      `json:"ending"`
	Finished    int       `json:"finished"`
	Description string    `json:"description,omitempty"`
	At          int64     `json:"at"`
}

// EventSink receives progress events in the order they happen on the main loop.
// Publish must not block.
type EventSink interface {
	Publish(ev ProgressEvent)
}

type Options struct {
	// StageEndRewardsMessage tells players what a completed stage granted them.
	StageEndRewardsMessage bool
	// QuestUpdateMessage tells players when a quest moves to a new stage.
	QuestUpdateMessage bool
}

// Deps are the collaborators of a Runtime. Cache and Exec are required.
type Deps struct {
	Cache     *account.Cache
	Exec      account.Executor
	Scheduler *scheduler.Scheduler
	Hooks     *hook.HookCenter
	Events    EventSink
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Options   Options
	Now       func() time.Time
}

// Runtime is shared by every quest, branch and stage built from the same definitions.
type Runtime struct {
	ctx     context.Context
	cache   *account.Cache
	exec    account.Executor
	sched   *scheduler.Scheduler
	hooks   *hook.HookCenter
	events  EventSink
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
	busy    *busySet
}

// NewRuntime creates a Runtime. ctx bounds asynchronous reward granting.
func NewRuntime(ctx context.Context, d Deps) *Runtime {
	rt := &Runtime{
		ctx:     ctx,
		cache:   d.Cache,
		exec:    d.Exec,
		sched:   d.Scheduler,
		hooks:   d.Hooks,
		events:  d.Events,
		metrics: d.Metrics,
		logger:  d.Logger,
		opts:    d.Options,
		now:     d.Now,
		busy:    newBusySet(),
	}
	if rt.hooks == nil {
		rt.hooks = hook.NewHookCenter()
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	if rt.now == nil {
		rt.now = time.Now
	}
	return rt
}

func (rt *Runtime) Cache() *account.Cache           { return rt.cache }
func (rt *Runtime) Hooks() *hook.HookCenter         { return rt.hooks }
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.sched }
func (rt *Runtime) Logger() *zap.Logger             { return rt.logger }

// Now returns the runtime clock.
func (rt *Runtime) Now() time.Time { return rt.now() }

// Busy reports whether acc is waiting on asynchronous rewards of questID.
func (rt *Runtime) Busy(acc *account.Account, questID int) bool {
	return rt.busy.contains(busyKey{acc.Identity(), questID})
}

// BusyCount returns how many account quests are waiting on asynchronous rewards.
func (rt *Runtime) BusyCount() int { return rt.busy.len() }

// cached reports whether acc is the account cached for its identity. An
// evicted account still completing a stage is not.
func (rt *Runtime) cached(acc *account.Account) bool {
	return rt.cache != nil && rt.cache.Get(acc.Identity()) == acc
}

func (rt *Runtime) emit(kind string, acc *account.Account, q *Quest) {
	if rt.events == nil || !rt.cached(acc) {
		return
	}
	ev := ProgressEvent{Type: kind, Account: acc.Identity(), At: rt.now().UnixMilli(), Branch: -1, Stage: -1}
	if s := acc.Session(); s != nil {
		ev.Player = s.Name()
	}
	if q != nil {
		ev.QuestID = q.ID()
		ev.Quest = q.Name()
		if e := acc.QuestEntryIfPresent(q.ID()); e != nil {
			ev.Branch = e.Branch()
			ev.Stage = e.Stage()
			ev.Ending = e.InEndingStages()
			ev.Finished = e.Finished()
		}
		if desc, ok := q.DescriptionLine(acc); ok {
			ev.Description = desc
		}
	}
	rt.events.Publish(ev)
}
