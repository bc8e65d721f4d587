package quest

import (
	"strings"

	"github.com/kasuganosora/questkeeper/game/account"
	"go.uber.org/zap"
)

// endStage runs the end of a completed stage then cont.
//
// For an account without a live session, the stage is ended, its rewards are
// given inline and cont runs at once. Otherwise actionable requirements are
// triggered and rewards are given: inline when they are all synchronous, on a
// separate goroutine otherwise. While that goroutine runs the account is busy
// for the quest; cont is then posted back to the main loop with the account
// currently cached for the identity (see resume). A reward that interrupts the
// branch skips cont.
func (b *Branch) endStage(acc *account.Account, c *StageController, cont func(*account.Account)) {
	rt := b.rt()
	subj := newSubject(acc, b.quest.id, c.ref)

	if !acc.IsCurrent() {
		c.End(acc)
		if b.giveRewards(c, subj) {
			cont(acc)
		}
		return
	}

	c.End(acc)
	for _, r := range c.requirements {
		if a, ok := r.(Actionable); ok {
			if err := a.Trigger(rt.ctx, subj); err != nil {
				rt.logger.Error("stage requirement action failed", append(c.logFields(acc), zap.Error(err))...)
			}
		}
	}

	if !c.rewards.HasAsync() {
		if b.giveRewards(c, subj) {
			cont(acc)
		}
		return
	}

	key := b.busyKey(acc)
	rt.busy.add(key)
	rt.metrics.AsyncRewardStarted()
	rt.emit(EventUpdated, acc, b.quest)
	go func() {
		proceed := func() bool {
			defer func() {
				rt.busy.remove(key)
				rt.metrics.AsyncRewardDone()
			}()
			return b.giveRewards(c, subj)
		}()
		next := func() {
			if proceed {
				b.resume(acc, cont)
				return
			}
			rt.emit(EventUpdated, acc, b.quest)
		}
		if !rt.exec.Post(next) {
			rt.logger.Warn("main loop stopped, dropping stage continuation",
				zap.String("account", subj.Identity.String()),
				zap.Int("quest_id", subj.QuestID),
				zap.String("stage", subj.Stage.FlowID()))
		}
	}()
}

// resume runs cont once asynchronous rewards are done. The account may have
// left or rejoined meanwhile: cont then runs on the account cached for the
// identity, or on the evicted one, which is flushed again afterwards.
func (b *Branch) resume(acc *account.Account, cont func(*account.Account)) {
	rt := b.rt()
	switch cur := rt.cache.Get(acc.Identity()); {
	case cur == acc:
		cont(acc)
	case cur != nil:
		rt.logger.Debug("account rejoined while rewards were pending",
			zap.String("account", cur.Identity().String()), zap.Int("quest_id", b.quest.id))
		cont(cur)
	default:
		cont(acc)
		rt.cache.Reflush(acc)
	}
}

// giveRewards grants the stage's rewards and reports whether the branch may
// continue. A failed reward is logged and reported to the player; progression
// still continues. A panicking reward counts as failed.
func (b *Branch) giveRewards(c *StageController, subj Subject) (proceed bool) {
	if len(c.rewards) == 0 {
		return true
	}
	rt := b.rt()
	fields := []zap.Field{
		zap.String("account", subj.Identity.String()),
		zap.Int("quest_id", subj.QuestID),
		zap.String("stage", subj.Stage.FlowID()),
	}
	defer func() {
		if r := recover(); r != nil {
			rt.metrics.RewardOutcome("failed")
			rt.logger.Error("stage reward panicked", append(fields, zap.Any("recover", r))...)
			subj.Notify("An error occurred while giving your rewards. Please contact an administrator.")
			proceed = true
		}
	}()

	given, err := c.rewards.Apply(rt.ctx, subj)
	switch {
	case IsInterrupt(err):
		rt.metrics.RewardOutcome("interrupted")
		rt.logger.Debug("branch progression interrupted by a reward", append(fields, zap.Error(err))...)
		return false
	case err != nil:
		rt.metrics.RewardOutcome("failed")
		rt.logger.Error("an error occurred while giving stage end rewards", append(fields, zap.Error(err))...)
		subj.Notify("An error occurred while giving your rewards. Please contact an administrator.")
		return true
	}
	rt.metrics.RewardOutcome("granted")
	if len(given) > 0 && rt.opts.StageEndRewardsMessage {
		subj.Notify("You obtained: " + strings.Join(given, ", "))
	}
	return true
}
