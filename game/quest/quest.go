package quest

import (
	"fmt"
	"time"

	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/plugin/hook"
	"go.uber.org/zap"
)

// QuestEvent is the payload of the quest lifecycle hooks.
type QuestEvent struct {
	Subject Subject
	Quest   string
}

// Quest is a set of branches; branch 0 is where every run starts.
type Quest struct {
	rt         *Runtime
	id         int
	name       string
	repeatable bool
	cooldown   time.Duration
	branches   []*Branch
	pool       *Pool
}

func (q *Quest) ID() int                 { return q.id }
func (q *Quest) Name() string            { return q.name }
func (q *Quest) Repeatable() bool        { return q.repeatable }
func (q *Quest) Cooldown() time.Duration { return q.cooldown }
func (q *Quest) Branches() []*Branch     { return q.branches }
func (q *Quest) Pool() *Pool             { return q.pool }

// Branch returns branch id, or nil.
func (q *Quest) Branch(id int) *Branch {
	if id < 0 || id >= len(q.branches) {
		return nil
	}
	return q.branches[id]
}

// Stage returns the stage at ref, or nil.
func (q *Quest) Stage(ref StageRef) *StageController {
	b := q.Branch(ref.Branch)
	if b == nil {
		return nil
	}
	return b.Stage(ref)
}

// HasStarted reports whether acc is running the quest.
func (q *Quest) HasStarted(acc *account.Account) bool {
	e := acc.QuestEntryIfPresent(q.id)
	return e != nil && e.Started()
}

// CurrentBranch returns the branch acc is on, or nil.
func (q *Quest) CurrentBranch(acc *account.Account) *Branch {
	e := acc.QuestEntryIfPresent(q.id)
	if e == nil {
		return nil
	}
	return q.Branch(e.Branch())
}

// CooldownLeft returns how long acc must wait before starting the quest again.
func (q *Quest) CooldownLeft(acc *account.Account) time.Duration {
	e := acc.QuestEntryIfPresent(q.id)
	if e == nil || q.cooldown <= 0 || e.Timer() == 0 {
		return 0
	}
	left := time.UnixMilli(e.Timer()).Add(q.cooldown).Sub(q.rt.now())
	if left < 0 {
		return 0
	}
	return left
}

// CanStart checks whether acc may start the quest now.
func (q *Quest) CanStart(acc *account.Account) error {
	e := acc.QuestEntryIfPresent(q.id)
	if e == nil {
		return nil
	}
	if e.Started() {
		return ErrAlreadyStarted
	}
	if e.HasFinishedOnce() && !q.repeatable {
		return ErrNotRepeatable
	}
	if left := q.CooldownLeft(acc); left > 0 {
		return fmt.Errorf("%w: %s left", ErrCooldown, left.Round(time.Second))
	}
	return nil
}

// Start begins the quest for acc on branch 0. The quest flow of a previous run is discarded.
func (q *Quest) Start(acc *account.Account) error {
	if err := q.CanStart(acc); err != nil {
		return err
	}
	rt := q.rt
	subj := newSubject(acc, q.id, StageRef{Index: -1})
	if _, err := rt.hooks.Trigger(rt.ctx, hook.OnQuestStart, &QuestEvent{Subject: subj, Quest: q.name}); err != nil {
		return ErrStartCancelled
	}
	entry := rt.cache.QuestEntry(acc, q.id)
	entry.ResetFlow()

	rt.metrics.QuestStarted()
	rt.logger.Info("quest started", zap.String("account", acc.Identity().String()), zap.Int("quest_id", q.id))
	subj.Notify("Quest started: " + q.name)
	q.branches[0].Start(acc)
	rt.emit(EventStarted, acc, q)
	return nil
}

// Finish completes the quest for acc: the finish counter and timer are updated
// and a pool completion is recorded.
func (q *Quest) Finish(acc *account.Account) {
	rt := q.rt
	entry := rt.cache.QuestEntry(acc, q.id)
	entry.SetBranch(-1)
	entry.IncrementFinished()
	entry.SetTimer(rt.now().UnixMilli())
	if q.pool != nil {
		rt.cache.PoolEntry(acc, q.pool.id).AddCompletedQuest(q.id)
	}

	subj := newSubject(acc, q.id, StageRef{Index: -1})
	rt.metrics.QuestFinished()
	rt.logger.Info("quest finished",
		zap.String("account", acc.Identity().String()),
		zap.Int("quest_id", q.id),
		zap.Int("times", entry.Finished()))
	subj.Notify("Quest finished: " + q.name)
	_, _ = rt.hooks.Trigger(rt.ctx, hook.OnQuestComplete, &QuestEvent{Subject: subj, Quest: q.name})
	rt.emit(EventFinished, acc, q)
}

// Cancel stops the quest for acc, ending its active stages. It reports whether the quest was running.
func (q *Quest) Cancel(acc *account.Account) bool {
	b := q.CurrentBranch(acc)
	if b == nil {
		return false
	}
	b.remove(acc, true)
	q.rt.logger.Info("quest cancelled", zap.String("account", acc.Identity().String()), zap.Int("quest_id", q.id))
	newSubject(acc, q.id, StageRef{Index: -1}).Notify("Quest cancelled: " + q.name)
	q.rt.emit(EventCancelled, acc, q)
	return true
}

// Signal completes the stage at ref for acc once its validation requirements pass.
func (q *Quest) Signal(acc *account.Account, ref StageRef) error {
	c := q.Stage(ref)
	if c == nil {
		return fmt.Errorf("%w: %s of quest %d", ErrUnknownStage, ref, q.id)
	}
	if c.IsLaunched(acc) && !c.CanUpdate(q.rt.ctx, acc) {
		return ErrRequirements
	}
	return c.Finish(acc)
}

// DescriptionLine renders acc's progress. ok is false when the quest is not running.
func (q *Quest) DescriptionLine(acc *account.Account) (line string, ok bool) {
	b := q.CurrentBranch(acc)
	if b == nil {
		return "", false
	}
	return b.DescriptionLine(acc), true
}

func (q *Quest) updated(acc *account.Account) {
	rt := q.rt
	subj := newSubject(acc, q.id, StageRef{Index: -1})
	if rt.opts.QuestUpdateMessage {
		subj.Notify("Quest updated: " + q.name)
	}
	_, _ = rt.hooks.Trigger(rt.ctx, hook.OnQuestUpdate, &QuestEvent{Subject: subj, Quest: q.name})
	rt.emit(EventUpdated, acc, q)
}

// launched returns the stages acc has active on the quest.
func (q *Quest) launched(acc *account.Account) []*StageController {
	if b := q.CurrentBranch(acc); b != nil {
		return b.launched(acc)
	}
	return nil
}
