package quest

import (
	"sort"
	"sync"
)

// Registry holds the quests and pools built from the definitions.
type Registry struct {
	rt     *Runtime
	mu     sync.RWMutex
	quests map[int]*Quest
	pools  map[int]*Pool
}

func newRegistry(rt *Runtime) *Registry {
	return &Registry{rt: rt, quests: make(map[int]*Quest), pools: make(map[int]*Pool)}
}

func (r *Registry) Runtime() *Runtime { return r.rt }

// Quest returns quest id, or nil.
func (r *Registry) Quest(id int) *Quest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quests[id]
}

// Quests returns every quest ordered by id.
func (r *Registry) Quests() []*Quest {
	r.mu.RLock()
	out := make([]*Quest, 0, len(r.quests))
	for _, q := range r.quests {
		out = append(out, q)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Pool returns pool id, or nil.
func (r *Registry) Pool(id int) *Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pools[id]
}

// Pools returns every pool ordered by id.
func (r *Registry) Pools() []*Pool {
	r.mu.RLock()
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) removeQuest(id int) *Quest {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quests[id]
	if !ok {
		return nil
	}
	delete(r.quests, id)
	if q.pool != nil {
		q.pool.dropQuest(id)
	}
	return q
}

func (r *Registry) removePool(id int) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	if !ok {
		return nil
	}
	delete(r.pools, id)
	for _, q := range r.quests {
		if q.pool == p {
			q.pool = nil
		}
	}
	return p
}
