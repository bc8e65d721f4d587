package quest

import (
	"fmt"
	"time"

	"github.com/kasuganosora/questkeeper/game/account"
	"go.uber.org/zap"
)

// Pool hands out its quests one at a time, in order, with a cooldown between gives.
type Pool struct {
	rt       *Runtime
	reg      *Registry
	id       int
	name     string
	quests   []int
	cooldown time.Duration
	redo     bool
}

func (p *Pool) ID() int                 { return p.id }
func (p *Pool) Name() string            { return p.name }
func (p *Pool) Cooldown() time.Duration { return p.cooldown }

// Quests returns the ids of the pool's quests in give order.
func (p *Pool) Quests() []int {
	out := make([]int, len(p.quests))
	copy(out, p.quests)
	return out
}

// CooldownLeft returns how long acc must wait for the next give.
func (p *Pool) CooldownLeft(acc *account.Account) time.Duration {
	e := acc.PoolEntryIfPresent(p.id)
	if e == nil || p.cooldown <= 0 || e.LastGive() == 0 {
		return 0
	}
	left := time.UnixMilli(e.LastGive()).Add(p.cooldown).Sub(p.rt.now())
	if left < 0 {
		return 0
	}
	return left
}

// Give starts the first quest of the pool acc has neither completed nor
// started. Once every quest is completed, a redo pool starts over.
func (p *Pool) Give(acc *account.Account) (*Quest, error) {
	if left := p.CooldownLeft(acc); left > 0 {
		return nil, fmt.Errorf("%w: %s left", ErrPoolCooldown, left.Round(time.Second))
	}
	entry := p.rt.cache.PoolEntry(acc, p.id)
	q := p.pick(acc, entry)
	if q == nil && p.redo && len(entry.CompletedQuests()) > 0 {
		entry.ClearCompleted()
		q = p.pick(acc, entry)
	}
	if q == nil {
		return nil, ErrPoolExhausted
	}
	entry.SetLastGive(p.rt.now().UnixMilli())
	p.rt.logger.Info("pool quest given",
		zap.String("account", acc.Identity().String()),
		zap.Int("pool_id", p.id),
		zap.Int("quest_id", q.id))
	return q, nil
}

func (p *Pool) pick(acc *account.Account, entry *account.PoolEntry) *Quest {
	for _, id := range p.quests {
		q := p.reg.Quest(id)
		if q == nil || entry.HasCompleted(id) || q.HasStarted(acc) {
			continue
		}
		if err := q.Start(acc); err != nil {
			continue
		}
		return q
	}
	return nil
}

func (p *Pool) dropQuest(id int) {
	out := p.quests[:0]
	for _, q := range p.quests {
		if q != id {
			out = append(out, q)
		}
	}
	p.quests = out
}
