package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrLoadFailed means every load attempt failed; quests stay unavailable for the session.
	ErrLoadFailed = errors.New("account: quest data could not be loaded")
	// ErrLeftDuringLoad means the session disconnected before the account was published.
	ErrLeftDuringLoad = errors.New("account: session left while its account was loading")
)

const (
	SourceStore = "store"
	SourceCache = "cache"
	// SourceShared marks an account obtained from a load already in flight for the same identity.
	SourceShared = "shared"
)

// Executor runs functions on the main loop.
type Executor interface {
	Do(ctx context.Context, fn func()) error
	Post(fn func()) bool
}

type LoaderConfig struct {
	// Attempts is the total number of load attempts made on join.
	Attempts int
	// AttemptTimeout bounds every attempt.
	AttemptTimeout time.Duration
}

// Loader resolves FetchRequests against the store and coordinates account joins.
type Loader struct {
	cache   *Cache
	exec    Executor
	cfg     LoaderConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewLoader(cache *Cache, exec Executor, cfg LoaderConfig, m *metrics.Metrics, logger *zap.Logger) *Loader {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	return &Loader{cache: cache, exec: exec, cfg: cfg, metrics: m, logger: logger}
}

// Prepare freezes the data registry and creates the data columns. Call it once before loading.
func (l *Loader) Prepare(ctx context.Context) error {
	l.cache.data.Freeze()
	cols := l.cache.data.Columns()
	if len(cols) == 0 {
		return nil
	}
	if err := l.cache.store.EnsureDataColumns(ctx, cols); err != nil {
		return fmt.Errorf("account: prepare data columns: %w", err)
	}
	return nil
}

type loadResult struct {
	account *Account
	created bool
	owner   *FetchRequest
}

// Fetch resolves req in a single attempt. An account already cached is returned
// as is. When req.ShouldCache and an account is resolved, it is published to the cache.
func (l *Loader) Fetch(ctx context.Context, req *FetchRequest) (*Account, error) {
	var cached *Account
	if err := l.exec.Do(ctx, func() { cached = l.cache.Get(req.Identity()) }); err != nil {
		return nil, err
	}
	if cached != nil {
		req.Loaded(cached, SourceCache)
		return cached, nil
	}

	acc, _, err := l.load(ctx, req)
	if err != nil || acc == nil || !req.ShouldCache() {
		return acc, err
	}
	err = l.exec.Do(context.WithoutCancel(ctx), func() {
		if existing := l.cache.Get(acc.identity); existing != nil {
			acc = existing
			return
		}
		l.cache.put(acc)
	})
	return acc, err
}

// load runs at most one store load per identity and creation mode at a time and
// completes req. shared reports that the result came from another caller's load.
func (l *Loader) load(ctx context.Context, req *FetchRequest) (*Account, bool, error) {
	if !l.cache.data.Frozen() {
		l.cache.data.Freeze()
	}
	key := fmt.Sprintf("%s|%t", req.Identity(), req.AllowCreation())
	start := time.Now()
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.loadFromStore(ctx, req)
	})
	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		// Later attempts must not join the abandoned flight.
		l.group.Forget(key)
		return nil, false, ctx.Err()
	}
	l.metrics.ObserveLoad(time.Since(start))
	if r.Err != nil {
		return nil, false, r.Err
	}
	res := r.Val.(*loadResult)
	if res.owner == req {
		return res.account, false, nil
	}
	// Shared a load started by another request: complete ours from its result.
	if res.account == nil {
		req.NotLoaded()
		return nil, true, nil
	}
	req.Loaded(res.account, SourceShared)
	return res.account, true, nil
}

func (l *Loader) loadFromStore(ctx context.Context, req *FetchRequest) (*loadResult, error) {
	res := &loadResult{owner: req}
	rowID, found, err := l.cache.store.FindAccount(ctx, req.Identity())
	if err != nil {
		return nil, fmt.Errorf("account: find %s: %w", req.Identity(), err)
	}
	if !found {
		if !req.AllowCreation() {
			req.NotLoaded()
			return res, nil
		}
		rowID, err = l.cache.store.CreateAccount(ctx, req.Identity())
		if err != nil {
			return nil, fmt.Errorf("account: create %s: %w", req.Identity(), err)
		}
		res.account = newAccount(l.cache, rowID, req.Identity())
		res.created = true
		req.Created(res.account)
		return res, nil
	}

	quests, err := l.cache.store.LoadQuestEntries(ctx, rowID)
	if err != nil {
		return nil, fmt.Errorf("account: load quest entries of %s: %w", req.Identity(), err)
	}
	pools, err := l.cache.store.LoadPoolEntries(ctx, rowID)
	if err != nil {
		return nil, fmt.Errorf("account: load pool entries of %s: %w", req.Identity(), err)
	}
	data, err := l.loadData(ctx, rowID)
	if err != nil {
		return nil, err
	}
	res.account = newAccount(l.cache, rowID, req.Identity())
	res.account.restore(quests, pools, data)
	req.Loaded(res.account, SourceStore)
	return res, nil
}

func (l *Loader) loadData(ctx context.Context, rowID int64) (map[string]any, error) {
	cols := l.cache.data.Columns()
	if len(cols) == 0 {
		return nil, nil
	}
	raw, err := l.cache.store.LoadAccountData(ctx, rowID, cols)
	if err != nil {
		return nil, fmt.Errorf("account: load data of row %d: %w", rowID, err)
	}
	out := make(map[string]any, len(raw))
	for col, value := range raw {
		key := l.cache.data.byColumn(col)
		if key == nil {
			continue
		}
		v, err := key.decode(value)
		if err != nil {
			l.logger.Warn("ignoring undecodable account data",
				zap.Int64("account_row", rowID), zap.String("column", col), zap.Error(err))
			continue
		}
		out[key.ID()] = v
	}
	return out, nil
}

// Join loads the account of a newly connected session and publishes it to the
// cache. The cached account is evicted first and only re-inserted on success.
// Failed attempts are retried up to the configured count, each bounded by the
// attempt timeout. If the session disconnected while loading, nothing is
// published and an account created by this join is deleted again. A load that
// raced with a flush of the evicted account is discarded and made again.
func (l *Loader) Join(ctx context.Context, s Session) (*Account, error) {
	id := s.Identity()

	var (
		flushed <-chan error
		gen     uint64
	)
	if err := l.exec.Do(ctx, func() {
		if old := l.cache.Remove(id); old != nil {
			flushed = l.cache.PersistAsync(old.Snapshot())
		}
		gen = l.cache.reflushes(id)
	}); err != nil {
		return nil, err
	}
	if flushed != nil {
		l.logger.Warn("account was still cached on join, flushing it before reload", zap.String("account", id.String()))
		if err := wait(ctx, flushed); err != nil {
			l.logger.Error("failed to flush stale account", zap.String("account", id.String()), zap.Error(err))
		}
	}
	// Earlier writes (a previous unload) must land before we read.
	if err := l.cache.Sync(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	reloads := 0
	for attempt := 1; attempt <= l.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req := NewFetchRequest(id, true, true)
		actx, cancel := context.WithTimeout(ctx, l.cfg.AttemptTimeout)
		acc, shared, err := l.load(actx, req)
		cancel()
		if err == nil && acc == nil {
			err = errors.New("account: load returned no account")
		}
		if err != nil {
			lastErr = err
			l.metrics.LoadAttemptFailed()
			l.logger.Error("an error occurred while loading account quest data",
				zap.String("account", id.String()), zap.Int("attempt", attempt), zap.Error(err))
			if remaining := l.cfg.Attempts - attempt; remaining > 0 {
				l.logger.Warn("retrying account load", zap.String("account", id.String()), zap.Int("remaining", remaining))
			}
			continue
		}
		pub, next, err := l.publish(ctx, s, req, acc, shared, gen, reloads < maxReloads)
		if !errors.Is(err, errStaleLoad) {
			return pub, err
		}
		reloads++
		attempt--
		gen = next
		l.logger.Debug("account was flushed while loading, reloading", zap.String("account", id.String()))
		if err := l.cache.Sync(ctx); err != nil {
			return nil, err
		}
	}

	l.metrics.AccountLoad("failed")
	l.logger.Error("account quest data failed to load; quests are unavailable until the player reconnects",
		zap.String("account", id.String()), zap.String("name", s.Name()), zap.Int("attempts", l.cfg.Attempts))
	return nil, fmt.Errorf("%w: %v", ErrLoadFailed, lastErr)
}

// maxReloads bounds the loads a join discards because they raced with a flush.
const maxReloads = 3

var errStaleLoad = errors.New("account: loaded before the latest flush")

// publish caches acc and attaches s on the main loop. With checkStale, a load
// older than a flush of the same identity (gen differs) is rejected along with
// the current generation. The main loop task is not cancelled with ctx: once
// queued it runs, and its outcome is what publish reports.
func (l *Loader) publish(ctx context.Context, s Session, req *FetchRequest, acc *Account, shared bool, gen uint64, checkStale bool) (*Account, uint64, error) {
	var (
		left, stale bool
		now         uint64
	)
	if err := l.exec.Do(context.WithoutCancel(ctx), func() {
		if !s.Online() {
			left = true
			return
		}
		now = l.cache.reflushes(s.Identity())
		if checkStale && now != gen && req.State() != FetchCreated {
			stale = true
			return
		}
		l.cache.put(acc)
		acc.attach(s)
	}); err != nil {
		return nil, 0, err
	}
	if stale {
		return nil, now, errStaleLoad
	}
	if !left {
		l.metrics.AccountLoad(req.State().String())
		l.logger.Debug("account loaded",
			zap.String("account", acc.identity.String()),
			zap.Int64("account_row", acc.rowID),
			zap.String("state", req.State().String()))
		return acc, 0, nil
	}

	l.metrics.AccountLoad("abandoned")
	if req.State() == FetchCreated && !shared {
		if err := l.cache.deleteAccount(context.WithoutCancel(ctx), acc.rowID); err != nil {
			l.logger.Error("failed to delete account created for a session that left",
				zap.String("account", acc.identity.String()), zap.Int64("account_row", acc.rowID), zap.Error(err))
		}
	}
	return nil, 0, ErrLeftDuringLoad
}

// Leave evicts the account of identity and flushes it. It returns the account's
// snapshot, or nil if nothing was cached. The flush is queued in the same main
// loop task as the eviction.
func (l *Loader) Leave(ctx context.Context, identity uuid.UUID, beforeEvict func(acc *Account)) (*AccountSnapshot, error) {
	var (
		snap    *AccountSnapshot
		flushed <-chan error
	)
	if err := l.exec.Do(context.WithoutCancel(ctx), func() {
		acc := l.cache.Get(identity)
		if acc == nil {
			return
		}
		if beforeEvict != nil {
			beforeEvict(acc)
		}
		s := acc.Snapshot()
		snap = &s
		l.cache.Remove(identity)
		flushed = l.cache.PersistAsync(s)
	}); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	if err := wait(ctx, flushed); err != nil {
		return snap, fmt.Errorf("account: flush %s: %w", identity, err)
	}
	return snap, nil
}
