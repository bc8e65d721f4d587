package account

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Account is the quest-progress record of one identity.
//
// The entry maps are guarded so the cache can be inspected from any goroutine,
// but the entries themselves belong to the main loop.
type Account struct {
	rowID    int64
	identity uuid.UUID
	cache    *Cache

	mu      sync.RWMutex
	session Session
	quests  map[int]*QuestEntry
	pools   map[int]*PoolEntry
	data    map[string]any
}

func newAccount(c *Cache, rowID int64, identity uuid.UUID) *Account {
	return &Account{
		rowID:    rowID,
		identity: identity,
		cache:    c,
		quests:   make(map[int]*QuestEntry),
		pools:    make(map[int]*PoolEntry),
		data:     make(map[string]any),
	}
}

// RowID is the index of the account's row in the backing store.
func (a *Account) RowID() int64 { return a.rowID }

func (a *Account) Identity() uuid.UUID { return a.identity }

// Session returns the session that currently owns the account, or nil.
func (a *Account) Session() Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// IsCurrent reports whether the account belongs to a connected session.
func (a *Account) IsCurrent() bool {
	s := a.Session()
	return s != nil && s.Online()
}

func (a *Account) attach(s Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

func (a *Account) detach() {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
}

// QuestEntryIfPresent returns the entry for questID without creating it.
func (a *Account) QuestEntryIfPresent(questID int) *QuestEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.quests[questID]
}

func (a *Account) HasQuestEntry(questID int) bool {
	return a.QuestEntryIfPresent(questID) != nil
}

// QuestEntries returns every quest entry ordered by quest id.
func (a *Account) QuestEntries() []*QuestEntry {
	a.mu.RLock()
	out := make([]*QuestEntry, 0, len(a.quests))
	for _, e := range a.quests {
		out = append(out, e)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].questID < out[j].questID })
	return out
}

func (a *Account) questEntry(questID int) *QuestEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.quests[questID]
	if !ok {
		e = newQuestEntry(questID)
		a.quests[questID] = e
	}
	return e
}

func (a *Account) dropQuestEntry(questID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.quests[questID]
	delete(a.quests, questID)
	return ok
}

func (a *Account) PoolEntryIfPresent(poolID int) *PoolEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pools[poolID]
}

// PoolEntries returns every pool entry ordered by pool id.
func (a *Account) PoolEntries() []*PoolEntry {
	a.mu.RLock()
	out := make([]*PoolEntry, 0, len(a.pools))
	for _, p := range a.pools {
		out = append(out, p)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].poolID < out[j].poolID })
	return out
}

func (a *Account) poolEntry(poolID int) (*PoolEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[poolID]
	if !ok {
		p = newPoolEntry(a, poolID)
		a.pools[poolID] = p
	}
	return p, !ok
}

func (a *Account) dropPoolEntry(poolID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pools[poolID]
	delete(a.pools, poolID)
	return ok
}

// Snapshot captures the quest and pool entries for flushing.
func (a *Account) Snapshot() AccountSnapshot {
	snap := AccountSnapshot{RowID: a.rowID, Identity: a.identity}
	for _, e := range a.QuestEntries() {
		snap.Quests = append(snap.Quests, e.Snapshot())
	}
	for _, p := range a.PoolEntries() {
		snap.Pools = append(snap.Pools, p.Snapshot())
	}
	return snap
}

func (a *Account) restore(quests []QuestEntrySnapshot, pools []PoolEntrySnapshot, data map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range quests {
		a.quests[q.QuestID] = restoreQuestEntry(q)
	}
	for _, p := range pools {
		a.pools[p.PoolID] = restorePoolEntry(a, p)
	}
	for k, v := range data {
		a.data[k] = v
	}
}
