package quest

import (
	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/account"
)

type QuestView struct {
	ID          int      `json:"id"`
	Name        string   `json:"name,omitempty"`
	Started     bool     `json:"started"`
	Branch      int      `json:"branch"`
	Stage       int      `json:"stage"`
	Ending      bool     `json:"in_ending_stages"`
	Finished    int      `json:"finished"`
	Timer       int64    `json:"timer"`
	Flow        []string `json:"flow"`
	Description string   `json:"description,omitempty"`
	Busy        bool     `json:"busy"`
}

type PoolView struct {
	ID        int   `json:"id"`
	LastGive  int64 `json:"last_give"`
	Completed []int `json:"completed"`
}

// AccountView is a read-only copy of an account's progress.
type AccountView struct {
	Identity uuid.UUID   `json:"identity"`
	RowID    int64       `json:"row_id"`
	Player   string      `json:"player,omitempty"`
	Online   bool        `json:"online"`
	Quests   []QuestView `json:"quests"`
	Pools    []PoolView  `json:"pools"`
}

// viewOf copies acc. Must be called on the main loop.
func viewOf(reg *Registry, acc *account.Account) *AccountView {
	v := &AccountView{
		Identity: acc.Identity(),
		RowID:    acc.RowID(),
		Online:   acc.IsCurrent(),
		Quests:   []QuestView{},
		Pools:    []PoolView{},
	}
	if s := acc.Session(); s != nil {
		v.Player = s.Name()
	}
	for _, e := range acc.QuestEntries() {
		qv := QuestView{
			ID:       e.QuestID(),
			Started:  e.Started(),
			Branch:   e.Branch(),
			Stage:    e.Stage(),
			Ending:   e.InEndingStages(),
			Finished: e.Finished(),
			Timer:    e.Timer(),
			Flow:     e.Flow(),
		}
		if q := reg.Quest(e.QuestID()); q != nil {
			qv.Name = q.Name()
			qv.Description, _ = q.DescriptionLine(acc)
			qv.Busy = reg.rt.Busy(acc, q.ID())
		}
		v.Quests = append(v.Quests, qv)
	}
	for _, p := range acc.PoolEntries() {
		v.Pools = append(v.Pools, PoolView{ID: p.PoolID(), LastGive: p.LastGive(), Completed: p.CompletedQuests()})
	}
	return v
}
