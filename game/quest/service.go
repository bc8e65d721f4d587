package quest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/game/loop"
	"github.com/kasuganosora/questkeeper/game/player"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/plugin/hook"
	"go.uber.org/zap"
)

const autoSaveTask = "auto_save"

// Journal records account snapshots when players join and quit.
type Journal interface {
	Record(kind string, snap account.AccountSnapshot)
}

// AccountEvent is the payload of hook.OnAccountJoin and hook.OnAccountLeave.
type AccountEvent struct {
	Identity uuid.UUID
	Name     string
}

// Service is the entry point of the surrounding system: it turns joins,
// leaves and stage signals into main-loop work on the cached accounts.
type Service struct {
	rt           *Runtime
	reg          *Registry
	loader       *account.Loader
	sessions     *player.SessionManager
	journal      Journal
	progress     *Publisher
	saveInterval time.Duration
	logger       *zap.Logger
}

// NewService wires a service. journal and progress may be nil.
func NewService(reg *Registry, loader *account.Loader, sessions *player.SessionManager,
	journal Journal, progress *Publisher, saveInterval time.Duration, logger *zap.Logger) *Service {
	return &Service{
		rt:           reg.rt,
		reg:          reg,
		loader:       loader,
		sessions:     sessions,
		journal:      journal,
		progress:     progress,
		saveInterval: saveInterval,
		logger:       logger,
	}
}

func (s *Service) Registry() *Registry              { return s.reg }
func (s *Service) Runtime() *Runtime                { return s.rt }
func (s *Service) Sessions() *player.SessionManager { return s.sessions }

// Start prepares account loading and schedules the periodic save.
func (s *Service) Start(ctx context.Context) error {
	if err := s.loader.Prepare(ctx); err != nil {
		return err
	}
	if s.saveInterval > 0 && s.rt.sched != nil {
		s.rt.sched.AddTicker(autoSaveTask, s.saveInterval, func() {
			ctx, cancel := context.WithTimeout(s.rt.ctx, s.saveInterval)
			defer cancel()
			n, err := s.SaveAll(ctx)
			if err != nil {
				s.logger.Error("auto save failed", zap.Int("accounts", n), zap.Error(err))
				return
			}
			s.logger.Debug("auto save done", zap.Int("accounts", n))
		})
	}
	return nil
}

// Shutdown disconnects every player and flushes the remaining cached accounts.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.rt.sched != nil {
		s.rt.sched.Remove(autoSaveTask)
	}
	var errs []error
	for _, sess := range s.sessions.All() {
		if err := s.AccountLeft(ctx, sess.Identity()); err != nil && !errors.Is(err, ErrAccountNotLoaded) {
			errs = append(errs, err)
		}
	}
	// Sessions that joined while the others were leaving.
	for _, sess := range s.sessions.CloseAllSessions() {
		s.logger.Debug("closed late session", zap.String("account", sess.Identity().String()))
	}
	if _, err := s.SaveAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) do(ctx context.Context, fn func()) error {
	err := s.rt.exec.Do(ctx, fn)
	if errors.Is(err, loop.ErrStopped) {
		return ErrUnavailable
	}
	return err
}

func (s *Service) withAccount(ctx context.Context, identity uuid.UUID, fn func(acc *account.Account) error) error {
	var ferr error
	err := s.do(ctx, func() {
		acc := s.rt.cache.Get(identity)
		if acc == nil {
			ferr = ErrAccountNotLoaded
			return
		}
		ferr = fn(acc)
	})
	if err != nil {
		return err
	}
	return ferr
}

// AccountJoined opens a session for identity and loads its account. A failed
// load leaves the player connected without quest data.
func (s *Service) AccountJoined(ctx context.Context, identity uuid.UUID, name string) (*AccountView, error) {
	sess := player.NewSession(identity, name, s.logger)
	s.sessions.Register(sess)

	acc, err := s.loader.Join(ctx, sess)
	if err != nil {
		if errors.Is(err, account.ErrLoadFailed) {
			sess.Notify("Your quest data could not be loaded. Reconnect or contact an administrator.")
		}
		return nil, err
	}

	var (
		view *AccountView
		snap account.AccountSnapshot
	)
	err = s.do(ctx, func() {
		for _, q := range s.reg.Quests() {
			for _, c := range q.launched(acc) {
				c.joined(acc)
			}
		}
		_, _ = s.rt.hooks.Trigger(s.rt.ctx, hook.OnAccountJoin, &AccountEvent{Identity: identity, Name: name})
		s.rt.emit(EventJoined, acc, nil)
		for _, q := range s.reg.Quests() {
			if q.HasStarted(acc) {
				s.rt.emit(EventUpdated, acc, q)
			}
		}
		snap = acc.Snapshot()
		view = viewOf(s.reg, acc)
	})
	if err != nil {
		return nil, err
	}
	if s.journal != nil {
		s.journal.Record(model.QuestLogJoin, snap)
	}
	return view, nil
}

// AccountLeft closes identity's session, then evicts and flushes its account.
func (s *Service) AccountLeft(ctx context.Context, identity uuid.UUID) error {
	sess := s.sessions.Unregister(identity)
	snap, err := s.loader.Leave(ctx, identity, func(acc *account.Account) {
		for _, q := range s.reg.Quests() {
			for _, c := range q.launched(acc) {
				c.left(acc)
			}
		}
		ev := &AccountEvent{Identity: identity}
		if sess != nil {
			ev.Name = sess.Name()
		}
		_, _ = s.rt.hooks.Trigger(s.rt.ctx, hook.OnAccountLeave, ev)
		s.rt.emit(EventLeft, acc, nil)
	})
	if snap != nil && s.journal != nil {
		s.journal.Record(model.QuestLogQuit, *snap)
	}
	if err != nil {
		return err
	}
	if sess == nil && snap == nil {
		return ErrAccountNotLoaded
	}
	return nil
}

// StageSignalled completes the stage at ref of questID for identity.
func (s *Service) StageSignalled(ctx context.Context, identity uuid.UUID, questID int, ref StageRef) error {
	return s.withAccount(ctx, identity, func(acc *account.Account) error {
		q := s.reg.Quest(questID)
		if q == nil {
			return ErrUnknownQuest
		}
		return q.Signal(acc, ref)
	})
}

func (s *Service) StartQuest(ctx context.Context, identity uuid.UUID, questID int) error {
	return s.withAccount(ctx, identity, func(acc *account.Account) error {
		q := s.reg.Quest(questID)
		if q == nil {
			return ErrUnknownQuest
		}
		return q.Start(acc)
	})
}

func (s *Service) CancelQuest(ctx context.Context, identity uuid.UUID, questID int) error {
	return s.withAccount(ctx, identity, func(acc *account.Account) error {
		q := s.reg.Quest(questID)
		if q == nil {
			return ErrUnknownQuest
		}
		if !q.Cancel(acc) {
			return ErrNotStarted
		}
		return nil
	})
}

// GivePoolQuest starts the next quest of poolID for identity and returns its id.
func (s *Service) GivePoolQuest(ctx context.Context, identity uuid.UUID, poolID int) (int, error) {
	var questID int
	err := s.withAccount(ctx, identity, func(acc *account.Account) error {
		p := s.reg.Pool(poolID)
		if p == nil {
			return ErrUnknownPool
		}
		q, err := p.Give(acc)
		if err != nil {
			return err
		}
		questID = q.ID()
		return nil
	})
	return questID, err
}

// Account returns a view of identity's cached account.
func (s *Service) Account(ctx context.Context, identity uuid.UUID) (*AccountView, error) {
	var view *AccountView
	err := s.withAccount(ctx, identity, func(acc *account.Account) error {
		view = viewOf(s.reg, acc)
		return nil
	})
	return view, err
}

// Progress returns identity's description lines from the read model.
func (s *Service) Progress(ctx context.Context, identity uuid.UUID) (map[int]string, error) {
	if s.progress == nil {
		return map[int]string{}, nil
	}
	return s.progress.Progress(ctx, identity)
}

// QuestProgress returns identity's description line for questID from the read model.
func (s *Service) QuestProgress(ctx context.Context, identity uuid.UUID, questID int) (string, bool, error) {
	if s.progress == nil {
		return "", false, nil
	}
	return s.progress.QuestProgress(ctx, identity, questID)
}

// Player returns the name of identity and whether it is connected, from the read model.
func (s *Service) Player(ctx context.Context, identity uuid.UUID) (string, bool, error) {
	if s.progress == nil {
		return "", false, nil
	}
	return s.progress.Player(ctx, identity)
}

// Events streams the progress events of every account.
func (s *Service) Events(ctx context.Context) (<-chan ProgressEvent, func(), error) {
	if s.progress == nil {
		return nil, nil, ErrNoEvents
	}
	return s.progress.Subscribe(ctx)
}

// QuestRemoved deletes a quest: running accounts leave it, then every stored
// entry of the quest is deleted. It returns the number of deleted entries.
func (s *Service) QuestRemoved(ctx context.Context, questID int) (int64, error) {
	var q *Quest
	err := s.do(ctx, func() {
		q = s.reg.removeQuest(questID)
		if q == nil {
			return
		}
		for _, acc := range s.rt.cache.Accounts() {
			if b := q.CurrentBranch(acc); b != nil {
				b.remove(acc, true)
			}
			if acc.HasQuestEntry(questID) {
				s.rt.emit(EventRemoved, acc, q)
			}
		}
		_, _ = s.rt.hooks.Trigger(s.rt.ctx, hook.OnQuestRemoved, questID)
	})
	if err != nil {
		return 0, err
	}
	if q == nil {
		return 0, ErrUnknownQuest
	}
	n, err := s.rt.cache.RemoveQuestEverywhere(ctx, questID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("quest removed", zap.Int("quest_id", questID), zap.Int64("entries", n))
	return n, nil
}

// PoolRemoved deletes a pool and every stored entry of it.
func (s *Service) PoolRemoved(ctx context.Context, poolID int) (int64, error) {
	var p *Pool
	if err := s.do(ctx, func() { p = s.reg.removePool(poolID) }); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, ErrUnknownPool
	}
	n, err := s.rt.cache.RemovePoolEverywhere(ctx, poolID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("pool removed", zap.Int("pool_id", poolID), zap.Int64("entries", n))
	return n, nil
}

// SaveAll flushes the quest entries of every cached account and returns how many were saved.
func (s *Service) SaveAll(ctx context.Context) (int, error) {
	var snaps []account.AccountSnapshot
	if err := s.do(ctx, func() {
		for _, acc := range s.rt.cache.Accounts() {
			snaps = append(snaps, acc.Snapshot())
		}
	}); err != nil {
		return 0, err
	}
	pending := make([]<-chan error, len(snaps))
	for i, snap := range snaps {
		pending[i] = s.rt.cache.PersistAsync(snap)
	}
	var errs []error
	for i, ch := range pending {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, fmt.Errorf("save %s: %w", snaps[i].Identity, err))
			}
		case <-ctx.Done():
			return len(snaps), ctx.Err()
		}
	}
	return len(snaps), errors.Join(errs...)
}
