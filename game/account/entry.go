package account

import "strings"

// QuestEntry is one account's progress on one quest.
//
// Branch -1 means the quest is not running; in that state Stage is -1 and
// InEndingStages is false. While InEndingStages is true the account is racing
// the ending stages of Branch and Stage keeps its last value for display only.
//
// A QuestEntry is owned by the main loop and must not be touched elsewhere.
type QuestEntry struct {
	questID  int
	finished int
	timer    int64
	branch   int
	stage    int
	inEnding bool
	data     map[string]any
	flow     []string
}

func newQuestEntry(questID int) *QuestEntry {
	return &QuestEntry{
		questID: questID,
		branch:  -1,
		stage:   -1,
		data:    make(map[string]any),
	}
}

func (e *QuestEntry) QuestID() int         { return e.questID }
func (e *QuestEntry) Branch() int          { return e.branch }
func (e *QuestEntry) Stage() int           { return e.stage }
func (e *QuestEntry) InEndingStages() bool { return e.inEnding }
func (e *QuestEntry) Finished() int        { return e.finished }
func (e *QuestEntry) HasFinishedOnce() bool {
	return e.finished > 0
}

// Timer is the unix-millisecond timestamp of the last finish, or 0.
func (e *QuestEntry) Timer() int64 { return e.timer }

// Started reports whether the quest is running.
func (e *QuestEntry) Started() bool { return e.branch != -1 }

// SetBranch moves the entry to branch. Resetting to -1 also clears the stage and ending flag.
func (e *QuestEntry) SetBranch(branch int) {
	e.branch = branch
	if branch == -1 {
		e.stage = -1
		e.inEnding = false
	}
}

// SetStage moves the entry to a regular stage of its branch and leaves the ending stages.
func (e *QuestEntry) SetStage(stage int) {
	e.stage = stage
	e.inEnding = false
}

// SetInEndingStages makes every ending stage of the current branch active at once.
func (e *QuestEntry) SetInEndingStages() {
	e.inEnding = true
}

// ClaimEnding is the completion token of the ending-stage race. The first caller
// gets true and moves the entry to the transitioning state (stage -1, not ending);
// every later caller gets false until ending stages are entered again.
func (e *QuestEntry) ClaimEnding() bool {
	if !e.inEnding {
		return false
	}
	e.inEnding = false
	e.stage = -1
	return true
}

func (e *QuestEntry) IncrementFinished() { e.finished++ }
func (e *QuestEntry) SetTimer(ms int64)  { e.timer = ms }

// Data returns the quest-scoped value stored under key.
func (e *QuestEntry) Data(key string) (any, bool) {
	v, ok := e.data[key]
	return v, ok
}

// SetData stores a quest-scoped value; a nil value removes the key.
func (e *QuestEntry) SetData(key string, value any) {
	if value == nil {
		delete(e.data, key)
		return
	}
	e.data[key] = value
}

// ClearData drops every quest-scoped value.
func (e *QuestEntry) ClearData() {
	e.data = make(map[string]any)
}

// AddFlow appends a completed stage's flow id to the quest flow.
func (e *QuestEntry) AddFlow(flowID string) {
	e.flow = append(e.flow, flowID)
}

// Flow returns the ordered flow ids of the stages completed since the quest started.
func (e *QuestEntry) Flow() []string {
	out := make([]string, len(e.flow))
	copy(out, e.flow)
	return out
}

func (e *QuestEntry) ResetFlow() { e.flow = nil }

// Snapshot captures the persisted state of the entry.
func (e *QuestEntry) Snapshot() QuestEntrySnapshot {
	data := make(map[string]any, len(e.data))
	for k, v := range e.data {
		data[k] = v
	}
	return QuestEntrySnapshot{
		QuestID:        e.questID,
		Finished:       e.finished,
		Timer:          e.timer,
		Branch:         e.branch,
		Stage:          e.stage,
		InEndingStages: e.inEnding,
		Data:           data,
		Flow:           e.Flow(),
	}
}

// restoreQuestEntry rebuilds an entry from persisted state, normalizing rows that
// break the branch/stage invariant.
func restoreQuestEntry(s QuestEntrySnapshot) *QuestEntry {
	e := newQuestEntry(s.QuestID)
	e.finished = s.Finished
	e.timer = s.Timer
	e.branch = s.Branch
	e.stage = s.Stage
	e.inEnding = s.InEndingStages
	if e.stage == legacyEndingStage {
		e.stage = -1
		e.inEnding = true
	}
	if e.branch < 0 {
		e.SetBranch(-1)
	}
	for k, v := range s.Data {
		e.data[k] = v
	}
	e.flow = append(e.flow, s.Flow...)
	return e
}

// legacyEndingStage is how older rows marked "in ending stages" in the stage column.
const legacyEndingStage = -2

const flowSeparator = ";"

// FormatFlow joins flow ids for storage.
func FormatFlow(flow []string) string {
	return strings.Join(flow, flowSeparator)
}

// ParseFlow splits a stored quest flow, ignoring empty segments.
func ParseFlow(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, flowSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
