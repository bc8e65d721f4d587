package account

import (
	"sort"
	"strconv"
	"strings"
)

// PoolEntry is one account's bookkeeping for a quest pool. Every change is
// persisted immediately through the owning account's cache.
type PoolEntry struct {
	poolID    int
	account   *Account
	lastGive  int64
	completed map[int]struct{}
}

func newPoolEntry(acc *Account, poolID int) *PoolEntry {
	return &PoolEntry{poolID: poolID, account: acc, completed: make(map[int]struct{})}
}

func (p *PoolEntry) PoolID() int { return p.poolID }

// LastGive is the unix-millisecond timestamp at which the pool last gave a quest.
func (p *PoolEntry) LastGive() int64 { return p.lastGive }

func (p *PoolEntry) SetLastGive(ms int64) {
	p.lastGive = ms
	p.changed()
}

// CompletedQuests returns the completed quest ids in ascending order.
func (p *PoolEntry) CompletedQuests() []int {
	out := make([]int, 0, len(p.completed))
	for id := range p.completed {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (p *PoolEntry) HasCompleted(questID int) bool {
	_, ok := p.completed[questID]
	return ok
}

func (p *PoolEntry) AddCompletedQuest(questID int) {
	if _, ok := p.completed[questID]; ok {
		return
	}
	p.completed[questID] = struct{}{}
	p.changed()
}

func (p *PoolEntry) RemoveCompletedQuest(questID int) {
	if _, ok := p.completed[questID]; !ok {
		return
	}
	delete(p.completed, questID)
	p.changed()
}

func (p *PoolEntry) ClearCompleted() {
	if len(p.completed) == 0 {
		return
	}
	p.completed = make(map[int]struct{})
	p.changed()
}

func (p *PoolEntry) Snapshot() PoolEntrySnapshot {
	return PoolEntrySnapshot{PoolID: p.poolID, LastGive: p.lastGive, Completed: p.CompletedQuests()}
}

func (p *PoolEntry) changed() {
	if p.account != nil && p.account.cache != nil {
		p.account.cache.savePool(p.account, p.Snapshot())
	}
}

func restorePoolEntry(acc *Account, s PoolEntrySnapshot) *PoolEntry {
	p := newPoolEntry(acc, s.PoolID)
	p.lastGive = s.LastGive
	for _, id := range s.Completed {
		p.completed[id] = struct{}{}
	}
	return p
}

// FormatQuestIDs joins quest ids for storage.
func FormatQuestIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, flowSeparator)
}

// ParseQuestIDs reads a stored quest id list, skipping malformed items.
func ParseQuestIDs(raw string) []int {
	if raw == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(raw, flowSeparator) {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
