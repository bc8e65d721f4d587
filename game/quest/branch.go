package quest

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/questkeeper/game/account"
	"go.uber.org/zap"
)

// PendingRewardsLine is shown instead of the stage description while rewards
// are being granted asynchronously.
const PendingRewardsLine = "Rewards are being granted..."

// EndingStage is a stage raced against its siblings at the end of a branch.
// Next is the branch started when it wins, or nil to finish the quest.
type EndingStage struct {
	Stage *StageController
	Next  *Branch
}

// Branch is one path through a quest: regular stages run in order, then every
// ending stage runs at once and the first one completed decides what follows.
//
// Every method must be called on the main loop.
type Branch struct {
	quest   *Quest
	id      int
	regular []*StageController
	ending  []*EndingStage
}

func (b *Branch) ID() int                           { return b.id }
func (b *Branch) Quest() *Quest                     { return b.quest }
func (b *Branch) RegularStages() []*StageController { return b.regular }
func (b *Branch) EndingStages() []*EndingStage      { return b.ending }

// Stage returns the stage at ref, or nil.
func (b *Branch) Stage(ref StageRef) *StageController {
	if ref.Branch != b.id || ref.Index < 0 {
		return nil
	}
	if ref.Ending {
		if ref.Index >= len(b.ending) {
			return nil
		}
		return b.ending[ref.Index].Stage
	}
	if ref.Index >= len(b.regular) {
		return nil
	}
	return b.regular[ref.Index]
}

func (b *Branch) rt() *Runtime { return b.quest.rt }

func (b *Branch) busyKey(acc *account.Account) busyKey {
	return busyKey{acc.Identity(), b.quest.id}
}

// Start puts acc on the first stage of the branch, or straight into the ending
// stages when the branch has no regular stage.
func (b *Branch) Start(acc *account.Account) {
	entry := b.rt().cache.QuestEntry(acc, b.quest.id)
	entry.SetBranch(b.id)
	if len(b.regular) > 0 {
		b.setStage(acc, 0)
		return
	}
	b.setEndingStages(acc)
}

func (b *Branch) setStage(acc *account.Account, index int) {
	entry := b.rt().cache.QuestEntry(acc, b.quest.id)
	if entry.Branch() != b.id {
		b.rt().logger.Error("refusing to set a stage of a branch the account is not in",
			zap.String("account", acc.Identity().String()), zap.Int("quest_id", b.quest.id),
			zap.Int("branch", b.id), zap.Int("entry_branch", entry.Branch()))
		return
	}
	entry.SetStage(index)
	b.regular[index].Start(acc)
}

func (b *Branch) setEndingStages(acc *account.Account) {
	entry := b.rt().cache.QuestEntry(acc, b.quest.id)
	if entry.Branch() != b.id {
		b.rt().logger.Error("refusing to enter ending stages of a branch the account is not in",
			zap.String("account", acc.Identity().String()), zap.Int("quest_id", b.quest.id),
			zap.Int("branch", b.id), zap.Int("entry_branch", entry.Branch()))
		return
	}
	entry.SetInEndingStages()
	for _, e := range b.ending {
		e.Stage.Start(acc)
	}
}

// launched returns the stages acc currently has active on this branch.
func (b *Branch) launched(acc *account.Account) []*StageController {
	entry := acc.QuestEntryIfPresent(b.quest.id)
	if entry == nil || entry.Branch() != b.id {
		return nil
	}
	if entry.InEndingStages() {
		out := make([]*StageController, len(b.ending))
		for i, e := range b.ending {
			out[i] = e.Stage
		}
		return out
	}
	if entry.Stage() >= 0 && entry.Stage() < len(b.regular) {
		return []*StageController{b.regular[entry.Stage()]}
	}
	return nil
}

func (b *Branch) hasStageLaunched(acc *account.Account, c *StageController) bool {
	if acc == nil || b.rt().busy.contains(b.busyKey(acc)) {
		return false
	}
	entry := acc.QuestEntryIfPresent(b.quest.id)
	if entry == nil || entry.Branch() != b.id {
		return false
	}
	if entry.InEndingStages() {
		return c.ref.Ending
	}
	return !c.ref.Ending && entry.Stage() == c.ref.Index
}

// remove takes acc off the branch. With end set, its active stages are ended first.
func (b *Branch) remove(acc *account.Account, end bool) {
	entry := acc.QuestEntryIfPresent(b.quest.id)
	if entry == nil {
		return
	}
	if end {
		for _, c := range b.launched(acc) {
			c.End(acc)
		}
	}
	entry.SetBranch(-1)
}

// FinishStage completes c for acc and advances the branch. A signal for a
// stage acc does not have active is logged and ignored: duplicate and late
// signals are expected.
//
// Among ending stages the first caller claims the entry's completion token;
// the siblings are ended without their own completion running.
func (b *Branch) FinishStage(acc *account.Account, c *StageController) error {
	rt := b.rt()
	if c.branch != b || !b.hasStageLaunched(acc, c) {
		rt.metrics.StateMismatch()
		rt.logger.Warn("stage finished for an account that did not have it started", c.logFields(acc)...)
		return ErrStageNotActive
	}
	entry := acc.QuestEntryIfPresent(b.quest.id)
	if c.ref.Ending {
		if !entry.ClaimEnding() {
			rt.metrics.StateMismatch()
			rt.logger.Warn("ending stage lost the race", c.logFields(acc)...)
			return ErrStageNotActive
		}
		for _, e := range b.ending {
			if e.Stage != c {
				e.Stage.End(acc)
			}
		}
	} else {
		entry.SetStage(-1)
	}
	entry.AddFlow(c.FlowID())
	rt.metrics.StageCompleted(c.ref.Ending)
	rt.logger.Debug("stage finished", c.logFields(acc)...)

	b.endStage(acc, c, func(a *account.Account) { b.advance(a, c) })
	return nil
}

// advance moves acc past the completed stage c. It is abandoned when the
// quest was reset, cancelled or moved while rewards were being granted.
func (b *Branch) advance(acc *account.Account, c *StageController) {
	entry := acc.QuestEntryIfPresent(b.quest.id)
	if entry == nil || entry.Branch() != b.id || entry.Stage() != -1 || entry.InEndingStages() {
		b.rt().logger.Debug("quest changed while the stage was ending, not advancing", c.logFields(acc)...)
		return
	}
	if !c.ref.Ending {
		next := c.ref.Index + 1
		if next == len(b.regular) {
			if len(b.ending) == 0 {
				b.remove(acc, false)
				b.quest.Finish(acc)
				return
			}
			b.setEndingStages(acc)
		} else {
			b.setStage(acc, next)
		}
	} else {
		b.remove(acc, false)
		linked := b.ending[c.ref.Index].Next
		if linked == nil {
			b.quest.Finish(acc)
			return
		}
		linked.Start(acc)
	}
	b.quest.updated(acc)
}

// DescriptionLine renders acc's progress on this branch.
func (b *Branch) DescriptionLine(acc *account.Account) string {
	entry := acc.QuestEntryIfPresent(b.quest.id)
	if entry == nil || entry.Branch() != b.id {
		return ""
	}
	if b.rt().busy.contains(b.busyKey(acc)) {
		return PendingRewardsLine
	}
	if entry.InEndingStages() {
		lines := make([]string, 0, len(b.ending))
		for _, e := range b.ending {
			if line := e.Stage.DescriptionLine(acc); line != "" {
				lines = append(lines, line)
			}
		}
		return strings.Join(lines, "\nor\n")
	}
	if entry.Stage() < 0 {
		return fmt.Sprintf("error: no stage set for branch %d", b.id)
	}
	if entry.Stage() >= len(b.regular) {
		return "error: data do not match"
	}
	return fmt.Sprintf("Stage %d/%d: %s", entry.Stage()+1, len(b.regular),
		b.regular[entry.Stage()].DescriptionLine(acc))
}
