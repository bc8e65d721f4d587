package quest

import (
	"fmt"
	"strconv"
	"strings"
)

// StageRef locates a stage inside a quest.
type StageRef struct {
	Branch int
	Index  int
	Ending bool
}

// FlowID is the identifier recorded in the quest flow: "branch:stage" for
// regular stages and "branch:E<index>" for ending stages.
func (r StageRef) FlowID() string {
	if r.Ending {
		return fmt.Sprintf("%d:E%d", r.Branch, r.Index)
	}
	return fmt.Sprintf("%d:%d", r.Branch, r.Index)
}

func (r StageRef) String() string { return r.FlowID() }

// ParseStageRef parses a flow id.
func ParseStageRef(s string) (StageRef, error) {
	b, st, ok := strings.Cut(s, ":")
	if !ok {
		return StageRef{}, fmt.Errorf("quest: bad stage ref %q", s)
	}
	branch, err := strconv.Atoi(b)
	if err != nil || branch < 0 {
		return StageRef{}, fmt.Errorf("quest: bad branch in stage ref %q", s)
	}
	ref := StageRef{Branch: branch}
	if rest, ending := strings.CutPrefix(st, "E"); ending {
		ref.Ending = true
		st = rest
	}
	ref.Index, err = strconv.Atoi(st)
	if err != nil || ref.Index < 0 {
		return StageRef{}, fmt.Errorf("quest: bad stage in stage ref %q", s)
	}
	return ref, nil
}
