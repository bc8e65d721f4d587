package quest

import (
	"context"

	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/plugin/hook"
	"go.uber.org/zap"
)

// Stage is the behaviour of one stage variant. Variants opt into lifecycle
// callbacks by implementing the capability interfaces below.
type Stage interface {
	Type() string
}

// Startable stages are told when an account enters them.
type Startable interface {
	StageStarted(c *StageController, acc *account.Account)
}

// Endable stages are told when an account leaves them, whether by completing
// them or by being cancelled. It must be safe to call on an account that never started.
type Endable interface {
	StageEnded(c *StageController, acc *account.Account)
}

// Joiner stages are told when an account with the stage active joins.
type Joiner interface {
	AccountJoined(c *StageController, acc *account.Account)
}

// Leaver stages are told when an account with the stage active leaves.
type Leaver interface {
	AccountLeft(c *StageController, acc *account.Account)
}

// Describer stages render their own progress line.
type Describer interface {
	Describe(c *StageController, acc *account.Account) string
}

// StageEvent is the payload of hook.OnStageStart.
type StageEvent struct {
	Subject Subject
	Type    string
}

// StageController binds a Stage to its position in a branch.
type StageController struct {
	branch       *Branch
	ref          StageRef
	stage        Stage
	text         string
	rewards      RewardList
	requirements []Requirement
}

func (c *StageController) Branch() *Branch { return c.branch }
func (c *StageController) Quest() *Quest   { return c.branch.quest }
func (c *StageController) Ref() StageRef   { return c.ref }
func (c *StageController) Stage() Stage    { return c.stage }
func (c *StageController) FlowID() string  { return c.ref.FlowID() }

// Rewards returns the rewards granted when the stage is completed.
func (c *StageController) Rewards() RewardList { return c.rewards }

// ValidationRequirements returns the requirements checked when the stage is signalled.
func (c *StageController) ValidationRequirements() []Requirement { return c.requirements }

func (c *StageController) runtime() *Runtime { return c.branch.quest.rt }

// Start launches the stage for acc.
func (c *StageController) Start(acc *account.Account) {
	if s, ok := c.stage.(Startable); ok {
		s.StageStarted(c, acc)
	}
	rt := c.runtime()
	_, _ = rt.hooks.Trigger(rt.ctx, hook.OnStageStart, &StageEvent{
		Subject: newSubject(acc, c.Quest().ID(), c.ref),
		Type:    c.stage.Type(),
	})
}

// End stops the stage for acc. Calling it on an account without the stage is a no-op.
func (c *StageController) End(acc *account.Account) {
	if s, ok := c.stage.(Endable); ok {
		s.StageEnded(c, acc)
	}
}

func (c *StageController) joined(acc *account.Account) {
	if s, ok := c.stage.(Joiner); ok {
		s.AccountJoined(c, acc)
	}
}

func (c *StageController) left(acc *account.Account) {
	if s, ok := c.stage.(Leaver); ok {
		s.AccountLeft(c, acc)
	}
}

// DescriptionLine returns the stage's custom text, or the variant's own description.
func (c *StageController) DescriptionLine(acc *account.Account) string {
	if c.text != "" {
		return c.text
	}
	if d, ok := c.stage.(Describer); ok {
		return d.Describe(c, acc)
	}
	return ""
}

// IsLaunched reports whether acc currently has this stage active.
func (c *StageController) IsLaunched(acc *account.Account) bool {
	return c.branch.hasStageLaunched(acc, c)
}

// CanUpdate reports whether every validation requirement passes for acc.
func (c *StageController) CanUpdate(ctx context.Context, acc *account.Account) bool {
	subj := newSubject(acc, c.Quest().ID(), c.ref)
	for _, r := range c.requirements {
		if !r.Test(ctx, subj) {
			return false
		}
	}
	return true
}

// Finish completes the stage for acc. Must be called on the main loop.
func (c *StageController) Finish(acc *account.Account) error {
	return c.branch.FinishStage(acc, c)
}

func (c *StageController) logFields(acc *account.Account) []zap.Field {
	return []zap.Field{
		zap.String("account", acc.Identity().String()),
		zap.Int("quest_id", c.Quest().ID()),
		zap.String("stage", c.FlowID()),
	}
}
