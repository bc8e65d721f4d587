package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/metrics"
	"go.uber.org/zap"
)

// Cache holds the accounts of connected identities and routes their writes to
// the EntryStore.
//
// In-memory changes are applied immediately by the caller; the matching store
// writes are queued and applied in order off the main loop.
type Cache struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account

	// reflushed counts the flushes of evicted accounts per identity.
	reflushed map[uuid.UUID]uint64

	store   EntryStore
	data    *DataRegistry
	writer  *writer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCache creates an empty cache. writeTimeout bounds every store write.
func NewCache(store EntryStore, data *DataRegistry, writeTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Cache {
	if data == nil {
		data = NewDataRegistry()
	}
	return &Cache{
		accounts:  make(map[uuid.UUID]*Account),
		reflushed: make(map[uuid.UUID]uint64),
		store:     store,
		data:      data,
		writer:    newWriter(writeTimeout, m, logger),
		metrics:   m,
		logger:    logger,
	}
}

func (c *Cache) Data() *DataRegistry { return c.data }

// Get returns the cached account of identity, or nil.
func (c *Cache) Get(identity uuid.UUID) *Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accounts[identity]
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.accounts)
}

// Accounts returns the cached accounts ordered by row id.
func (c *Cache) Accounts() []*Account {
	c.mu.RLock()
	out := make([]*Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].rowID < out[j].rowID })
	return out
}

func (c *Cache) put(acc *Account) {
	c.mu.Lock()
	c.accounts[acc.identity] = acc
	n := len(c.accounts)
	c.mu.Unlock()
	c.metrics.SetCachedAccounts(n)
}

// Remove evicts identity and returns the evicted account, or nil. Nothing is written.
func (c *Cache) Remove(identity uuid.UUID) *Account {
	c.mu.Lock()
	acc, ok := c.accounts[identity]
	delete(c.accounts, identity)
	n := len(c.accounts)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	acc.detach()
	c.metrics.SetCachedAccounts(n)
	return acc
}

// QuestEntry returns the account's entry for questID, creating an empty one on first use.
func (c *Cache) QuestEntry(acc *Account, questID int) *QuestEntry {
	return acc.questEntry(questID)
}

// RemoveQuestEntry drops the entry from memory at once and deletes its row asynchronously.
func (c *Cache) RemoveQuestEntry(acc *Account, questID int) <-chan error {
	acc.dropQuestEntry(questID)
	return c.writer.enqueue("delete_quest_entry", func(ctx context.Context) error {
		return c.store.DeleteQuestEntry(ctx, acc.rowID, questID)
	}, append(acc.logFields(), zap.Int("quest_id", questID))...)
}

// PoolEntry returns the account's entry for poolID, creating and persisting an empty one on first use.
func (c *Cache) PoolEntry(acc *Account, poolID int) *PoolEntry {
	p, created := acc.poolEntry(poolID)
	if created {
		c.savePool(acc, p.Snapshot())
	}
	return p
}

// RemovePoolEntry drops the pool entry from memory at once and deletes its row asynchronously.
func (c *Cache) RemovePoolEntry(acc *Account, poolID int) <-chan error {
	acc.dropPoolEntry(poolID)
	return c.writer.enqueue("delete_pool_entry", func(ctx context.Context) error {
		return c.store.DeletePoolEntry(ctx, acc.rowID, poolID)
	}, append(acc.logFields(), zap.Int("pool_id", poolID))...)
}

// RemoveQuestEverywhere silently drops questID from every cached account, then
// deletes every stored entry of the quest. It returns the number of rows deleted.
func (c *Cache) RemoveQuestEverywhere(ctx context.Context, questID int) (int64, error) {
	for _, acc := range c.Accounts() {
		acc.dropQuestEntry(questID)
	}
	var n int64
	err := wait(ctx, c.writer.enqueue("delete_quest", func(ctx context.Context) error {
		var err error
		n, err = c.store.DeleteQuestEverywhere(ctx, questID)
		return err
	}, zap.Int("quest_id", questID)))
	if err != nil {
		return 0, fmt.Errorf("account: remove quest %d: %w", questID, err)
	}
	return n, nil
}

// RemovePoolEverywhere silently drops poolID from every cached account, then
// deletes every stored entry of the pool. It returns the number of rows deleted.
func (c *Cache) RemovePoolEverywhere(ctx context.Context, poolID int) (int64, error) {
	for _, acc := range c.Accounts() {
		acc.dropPoolEntry(poolID)
	}
	var n int64
	err := wait(ctx, c.writer.enqueue("delete_pool", func(ctx context.Context) error {
		var err error
		n, err = c.store.DeletePoolEverywhere(ctx, poolID)
		return err
	}, zap.Int("pool_id", poolID)))
	if err != nil {
		return 0, fmt.Errorf("account: remove pool %d: %w", poolID, err)
	}
	return n, nil
}

// Persist flushes a snapshot's quest entries in one batched upsert and waits for it.
func (c *Cache) Persist(ctx context.Context, snap AccountSnapshot) error {
	return wait(ctx, c.PersistAsync(snap))
}

// Reflush queues the flush of an account that changed after it was evicted.
// A join of the same identity whose load may predate the write reloads it.
func (c *Cache) Reflush(acc *Account) <-chan error {
	c.mu.Lock()
	c.reflushed[acc.identity]++
	c.mu.Unlock()
	c.logger.Debug("flushing evicted account again", acc.logFields()...)
	return c.PersistAsync(acc.Snapshot())
}

func (c *Cache) reflushes(identity uuid.UUID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reflushed[identity]
}

// PersistAsync queues the flush of a snapshot's quest entries.
func (c *Cache) PersistAsync(snap AccountSnapshot) <-chan error {
	return c.writer.enqueue("save_quest_entries", func(ctx context.Context) error {
		return c.store.SaveQuestEntries(ctx, snap.RowID, snap.Quests)
	}, zap.Int64("account_row", snap.RowID), zap.String("account", snap.Identity.String()))
}

// ResetData restores every data key of the account to its default, in memory and in the store.
func (c *Cache) ResetData(acc *Account) <-chan error {
	acc.mu.Lock()
	acc.data = make(map[string]any)
	acc.mu.Unlock()

	cols := c.data.Columns()
	return c.writer.enqueue("reset_data", func(ctx context.Context) error {
		return c.store.ResetAccountData(ctx, acc.rowID, cols)
	}, acc.logFields()...)
}

// Sync waits until every write queued before the call has been applied.
func (c *Cache) Sync(ctx context.Context) error {
	return c.writer.sync(ctx)
}

// Close stops accepting writes and drains the queue.
func (c *Cache) Close(ctx context.Context) error {
	return c.writer.close(ctx)
}

func (c *Cache) savePool(acc *Account, snap PoolEntrySnapshot) {
	c.writer.enqueue("save_pool_entry", func(ctx context.Context) error {
		return c.store.SavePoolEntry(ctx, acc.rowID, snap)
	}, append(acc.logFields(), zap.Int("pool_id", snap.PoolID))...)
}

func (c *Cache) saveData(acc *Account, column string, value *string) {
	c.writer.enqueue("save_account_data", func(ctx context.Context) error {
		return c.store.SaveAccountData(ctx, acc.rowID, column, value)
	}, append(acc.logFields(), zap.String("column", column))...)
}

func (c *Cache) deleteAccount(ctx context.Context, rowID int64) error {
	return wait(ctx, c.writer.enqueue("delete_account", func(ctx context.Context) error {
		return c.store.DeleteAccount(ctx, rowID)
	}, zap.Int64("account_row", rowID)))
}

func (a *Account) logFields() []zap.Field {
	return []zap.Field{zap.Int64("account_row", a.rowID), zap.String("account", a.identity.String())}
}
