package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/plugin/hook"
	"go.uber.org/zap"
)

func BuiltinStages() []StageType {
	return []StageType{
		{Name: "signal", New: newSignalStage},
		{Name: "timer", New: newTimerStage},
	}
}

func BuiltinRewards() []RewardType {
	return []RewardType{
		{Name: "message", New: newMessageReward},
		{Name: "hook", New: newHookReward},
	}
}

func BuiltinRequirements() []RequirementType {
	return []RequirementType{
		{Name: "hook", New: newHookRequirement},
		{Name: "hook_action", New: newHookActionRequirement},
	}
}

// ---- signal ----

// signalStage completes only when the surrounding system signals it.
type signalStage struct{}

func newSignalStage(*Runtime, StageDef) (Stage, error) { return signalStage{}, nil }

func (signalStage) Type() string { return "signal" }

func (signalStage) Describe(*StageController, *account.Account) string {
	return "Complete the objective"
}

// ---- timer ----

// timerStage completes itself once its duration has elapsed. The deadline is
// kept in the quest entry so that the countdown survives a reconnect.
type timerStage struct {
	rt       *Runtime
	duration time.Duration
}

func newTimerStage(rt *Runtime, def StageDef) (Stage, error) {
	if def.Duration <= 0 {
		return nil, errors.New("timer stage needs a positive duration")
	}
	if rt.sched == nil {
		return nil, errors.New("timer stage needs a scheduler")
	}
	return &timerStage{rt: rt, duration: def.Duration}, nil
}

func (s *timerStage) Type() string { return "timer" }

func deadlineKey(c *StageController) string { return "timer:" + c.FlowID() }

func (s *timerStage) taskName(c *StageController, acc *account.Account) string {
	return fmt.Sprintf("stage_timer:%s:%d:%s", acc.Identity(), c.Quest().ID(), c.FlowID())
}

func (s *timerStage) StageStarted(c *StageController, acc *account.Account) {
	entry := acc.QuestEntryIfPresent(c.Quest().ID())
	if entry == nil {
		return
	}
	entry.SetData(deadlineKey(c), s.rt.now().Add(s.duration).UnixMilli())
	if s.rt.cached(acc) {
		s.arm(c, acc, s.duration)
	}
}

func (s *timerStage) StageEnded(c *StageController, acc *account.Account) {
	s.rt.sched.Remove(s.taskName(c, acc))
	if entry := acc.QuestEntryIfPresent(c.Quest().ID()); entry != nil {
		entry.SetData(deadlineKey(c), nil)
	}
}

func (s *timerStage) AccountJoined(c *StageController, acc *account.Account) {
	s.arm(c, acc, s.remaining(c, acc))
}

func (s *timerStage) AccountLeft(c *StageController, acc *account.Account) {
	s.rt.sched.Remove(s.taskName(c, acc))
}

func (s *timerStage) Describe(c *StageController, acc *account.Account) string {
	return "Wait " + s.remaining(c, acc).Round(time.Second).String()
}

func (s *timerStage) remaining(c *StageController, acc *account.Account) time.Duration {
	entry := acc.QuestEntryIfPresent(c.Quest().ID())
	if entry == nil {
		return s.duration
	}
	raw, ok := entry.Data(deadlineKey(c))
	if !ok {
		return s.duration
	}
	deadline, ok := toMillis(raw)
	if !ok {
		return s.duration
	}
	left := time.UnixMilli(deadline).Sub(s.rt.now())
	if left < 0 {
		return 0
	}
	return left
}

func (s *timerStage) arm(c *StageController, acc *account.Account, delay time.Duration) {
	rt := s.rt
	id := acc.Identity()
	rt.sched.AddDelay(s.taskName(c, acc), delay, func() {
		ok := rt.exec.Post(func() {
			a := rt.cache.Get(id)
			if a == nil || !c.IsLaunched(a) {
				return
			}
			_ = c.Finish(a)
		})
		if !ok {
			rt.logger.Warn("main loop stopped, timer stage not completed", c.logFields(acc)...)
		}
	})
}

// toMillis reads a timestamp stored in quest data, which comes back from the
// store as a JSON number.
func toMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	}
	return 0, false
}

// ---- rewards ----

type messageReward struct{ text string }

func newMessageReward(_ *Runtime, def RewardDef) (Reward, error) {
	if def.Text == "" {
		return nil, errors.New("message reward needs text")
	}
	return messageReward{text: def.Text}, nil
}

func (messageReward) Async() bool { return false }

func (r messageReward) Give(_ context.Context, subj Subject) ([]string, error) {
	subj.Notify(r.text)
	return nil, nil
}

// RewardGrant is the payload of hook.OnRewardGrant. Handlers grant the reward
// named Name and append what they gave to Granted.
type RewardGrant struct {
	Subject Subject
	Name    string
	Params  map[string]string
	Granted []string
}

// hookReward delegates granting to the hook center.
type hookReward struct {
	rt     *Runtime
	name   string
	params map[string]string
	async  bool
}

func newHookReward(rt *Runtime, def RewardDef) (Reward, error) {
	if def.Name == "" {
		return nil, errors.New("hook reward needs a name")
	}
	return &hookReward{rt: rt, name: def.Name, params: def.Params, async: def.Async}, nil
}

func (r *hookReward) Async() bool { return r.async }

func (r *hookReward) Give(ctx context.Context, subj Subject) ([]string, error) {
	g := &RewardGrant{Subject: subj, Name: r.name, Params: r.params}
	_, err := r.rt.hooks.TriggerStrict(ctx, hook.OnRewardGrant, g)
	switch {
	case errors.Is(err, hook.ErrInterrupt):
		return g.Granted, fmt.Errorf("%w: reward %s", ErrInterruptBranch, r.name)
	case err != nil:
		return g.Granted, fmt.Errorf("quest: reward %s: %w", r.name, err)
	}
	return g.Granted, nil
}

// ---- requirements ----

// RequirementCheck is the payload of hook.OnRequirementCheck and
// hook.OnRequirementAction. A check handler clears Passed to veto.
type RequirementCheck struct {
	Subject Subject
	Name    string
	Params  map[string]string
	Passed  bool
}

type hookRequirement struct {
	rt     *Runtime
	name   string
	params map[string]string
}

func newHookRequirement(rt *Runtime, def RequirementDef) (Requirement, error) {
	if def.Name == "" {
		return nil, errors.New("hook requirement needs a name")
	}
	return &hookRequirement{rt: rt, name: def.Name, params: def.Params}, nil
}

func (r *hookRequirement) Test(ctx context.Context, subj Subject) bool {
	chk := &RequirementCheck{Subject: subj, Name: r.name, Params: r.params, Passed: true}
	if _, err := r.rt.hooks.Trigger(ctx, hook.OnRequirementCheck, chk); err != nil {
		r.rt.logger.Debug("requirement check interrupted", zap.String("requirement", r.name), zap.Error(err))
		return false
	}
	return chk.Passed
}

type hookActionRequirement struct {
	*hookRequirement
}

func newHookActionRequirement(rt *Runtime, def RequirementDef) (Requirement, error) {
	req, err := newHookRequirement(rt, def)
	if err != nil {
		return nil, err
	}
	return hookActionRequirement{req.(*hookRequirement)}, nil
}

func (r hookActionRequirement) Trigger(ctx context.Context, subj Subject) error {
	_, err := r.rt.hooks.TriggerStrict(ctx, hook.OnRequirementAction,
		&RequirementCheck{Subject: subj, Name: r.name, Params: r.params, Passed: true})
	return err
}
