package quest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Definitions is the YAML description of every quest and pool.
type Definitions struct {
	Quests []QuestDef `yaml:"quests"`
	Pools  []PoolDef  `yaml:"pools"`
}

type QuestDef struct {
	ID         int           `yaml:"id"`
	Name       string        `yaml:"name"`
	Repeatable bool          `yaml:"repeatable"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Branches   []BranchDef   `yaml:"branches"`
}

type BranchDef struct {
	Stages []StageDef  `yaml:"stages"`
	Ending []EndingDef `yaml:"ending"`
}

// EndingDef is an ending stage; Branch is the index of the branch it leads to.
type EndingDef struct {
	StageDef `yaml:",inline"`
	Branch   *int `yaml:"branch"`
}

type StageDef struct {
	Type         string            `yaml:"type"`
	Text         string            `yaml:"text"`
	Duration     time.Duration     `yaml:"duration"`
	Params       map[string]string `yaml:"params"`
	Rewards      []RewardDef       `yaml:"rewards"`
	Requirements []RequirementDef  `yaml:"requirements"`
}

type RewardDef struct {
	Type   string            `yaml:"type"`
	Name   string            `yaml:"name"`
	Text   string            `yaml:"text"`
	Async  bool              `yaml:"async"`
	Params map[string]string `yaml:"params"`
}

type RequirementDef struct {
	Type   string            `yaml:"type"`
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params"`
}

type PoolDef struct {
	ID       int           `yaml:"id"`
	Name     string        `yaml:"name"`
	Quests   []int         `yaml:"quests"`
	Cooldown time.Duration `yaml:"cooldown"`
	Redo     bool          `yaml:"redo"`
}

// ParseDefinitions decodes YAML definitions. Unknown fields are rejected.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		if errors.Is(err, io.EOF) {
			return &defs, nil
		}
		return nil, fmt.Errorf("quest: parse definitions: %w", err)
	}
	return &defs, nil
}

// LoadDefinitions reads YAML definitions from path.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("quest: read definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// Build validates defs and instantiates every quest and pool on rt.
func Build(rt *Runtime, types *Types, defs *Definitions) (*Registry, error) {
	reg := newRegistry(rt)
	for i := range defs.Quests {
		qd := &defs.Quests[i]
		if _, dup := reg.quests[qd.ID]; dup {
			return nil, fmt.Errorf("quest: duplicate quest id %d", qd.ID)
		}
		q, err := buildQuest(rt, types, qd)
		if err != nil {
			return nil, err
		}
		reg.quests[q.id] = q
	}
	for i := range defs.Pools {
		pd := &defs.Pools[i]
		if _, dup := reg.pools[pd.ID]; dup {
			return nil, fmt.Errorf("quest: duplicate pool id %d", pd.ID)
		}
		p := &Pool{rt: rt, reg: reg, id: pd.ID, name: pd.Name, cooldown: pd.Cooldown, redo: pd.Redo}
		for _, qid := range pd.Quests {
			q, ok := reg.quests[qid]
			if !ok {
				return nil, fmt.Errorf("quest: pool %d: unknown quest %d", pd.ID, qid)
			}
			if q.pool != nil {
				return nil, fmt.Errorf("quest: quest %d is in pools %d and %d", qid, q.pool.id, pd.ID)
			}
			q.pool = p
			p.quests = append(p.quests, qid)
		}
		reg.pools[p.id] = p
	}
	return reg, nil
}

func buildQuest(rt *Runtime, types *Types, qd *QuestDef) (*Quest, error) {
	if qd.ID <= 0 {
		return nil, fmt.Errorf("quest: quest id must be positive, got %d", qd.ID)
	}
	if len(qd.Branches) == 0 {
		return nil, fmt.Errorf("quest %d: no branch", qd.ID)
	}
	q := &Quest{rt: rt, id: qd.ID, name: qd.Name, repeatable: qd.Repeatable, cooldown: qd.Cooldown}
	if q.name == "" {
		q.name = fmt.Sprintf("Quest %d", qd.ID)
	}
	q.branches = make([]*Branch, len(qd.Branches))
	for i := range qd.Branches {
		q.branches[i] = &Branch{quest: q, id: i}
	}
	for i, bd := range qd.Branches {
		b := q.branches[i]
		if len(bd.Stages) == 0 && len(bd.Ending) == 0 {
			return nil, fmt.Errorf("quest %d branch %d: no stage", qd.ID, i)
		}
		for j, sd := range bd.Stages {
			c, err := buildStage(rt, types, b, StageRef{Branch: i, Index: j}, sd)
			if err != nil {
				return nil, fmt.Errorf("quest %d stage %d:%d: %w", qd.ID, i, j, err)
			}
			b.regular = append(b.regular, c)
		}
		for j, ed := range bd.Ending {
			ref := StageRef{Branch: i, Index: j, Ending: true}
			c, err := buildStage(rt, types, b, ref, ed.StageDef)
			if err != nil {
				return nil, fmt.Errorf("quest %d stage %s: %w", qd.ID, ref, err)
			}
			end := &EndingStage{Stage: c}
			if ed.Branch != nil {
				if *ed.Branch < 0 || *ed.Branch >= len(q.branches) {
					return nil, fmt.Errorf("quest %d stage %s: linked branch %d does not exist", qd.ID, ref, *ed.Branch)
				}
				end.Next = q.branches[*ed.Branch]
			}
			b.ending = append(b.ending, end)
		}
	}
	return q, nil
}

func buildStage(rt *Runtime, types *Types, b *Branch, ref StageRef, sd StageDef) (*StageController, error) {
	newStage, ok := types.stages[sd.Type]
	if !ok {
		return nil, fmt.Errorf("unknown stage type %q", sd.Type)
	}
	stage, err := newStage(rt, sd)
	if err != nil {
		return nil, err
	}
	c := &StageController{branch: b, ref: ref, stage: stage, text: sd.Text}
	for k, rd := range sd.Rewards {
		newReward, ok := types.rewards[rd.Type]
		if !ok {
			return nil, fmt.Errorf("reward %d: unknown type %q", k, rd.Type)
		}
		r, err := newReward(rt, rd)
		if err != nil {
			return nil, fmt.Errorf("reward %d: %w", k, err)
		}
		c.rewards = append(c.rewards, r)
	}
	for k, qd := range sd.Requirements {
		newReq, ok := types.requirements[qd.Type]
		if !ok {
			return nil, fmt.Errorf("requirement %d: unknown type %q", k, qd.Type)
		}
		r, err := newReq(rt, qd)
		if err != nil {
			return nil, fmt.Errorf("requirement %d: %w", k, err)
		}
		c.requirements = append(c.requirements, r)
	}
	return c, nil
}
