package quest

import (
	"fmt"
	"sort"
)

type (
	StageFactory       func(rt *Runtime, def StageDef) (Stage, error)
	RewardFactory      func(rt *Runtime, def RewardDef) (Reward, error)
	RequirementFactory func(rt *Runtime, def RequirementDef) (Requirement, error)
)

type StageType struct {
	Name string
	New  StageFactory
}

type RewardType struct {
	Name string
	New  RewardFactory
}

type RequirementType struct {
	Name string
	New  RequirementFactory
}

// Types maps definition type names to factories. It is immutable once built.
type Types struct {
	stages       map[string]StageFactory
	rewards      map[string]RewardFactory
	requirements map[string]RequirementFactory
}

// NewTypes builds a type table. Duplicate names are rejected.
func NewTypes(stages []StageType, rewards []RewardType, requirements []RequirementType) (*Types, error) {
	t := &Types{
		stages:       make(map[string]StageFactory, len(stages)),
		rewards:      make(map[string]RewardFactory, len(rewards)),
		requirements: make(map[string]RequirementFactory, len(requirements)),
	}
	for _, s := range stages {
		if _, dup := t.stages[s.Name]; dup || s.New == nil {
			return nil, fmt.Errorf("quest: stage type %q declared twice or without factory", s.Name)
		}
		t.stages[s.Name] = s.New
	}
	for _, r := range rewards {
		if _, dup := t.rewards[r.Name]; dup || r.New == nil {
			return nil, fmt.Errorf("quest: reward type %q declared twice or without factory", r.Name)
		}
		t.rewards[r.Name] = r.New
	}
	for _, r := range requirements {
		if _, dup := t.requirements[r.Name]; dup || r.New == nil {
			return nil, fmt.Errorf("quest: requirement type %q declared twice or without factory", r.Name)
		}
		t.requirements[r.Name] = r.New
	}
	return t, nil
}

// DefaultTypes returns the built-in types, plus extra stage types.
func DefaultTypes(extra ...StageType) (*Types, error) {
	return NewTypes(append(BuiltinStages(), extra...), BuiltinRewards(), BuiltinRequirements())
}

func (t *Types) StageNames() []string       { return sortedKeys(t.stages) }
func (t *Types) RewardNames() []string      { return sortedKeys(t.rewards) }
func (t *Types) RequirementNames() []string { return sortedKeys(t.requirements) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
