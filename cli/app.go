package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/questkeeper/cache"
	"github.com/kasuganosora/questkeeper/config"
	dbadapter "github.com/kasuganosora/questkeeper/db"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/game/loop"
	"github.com/kasuganosora/questkeeper/game/player"
	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/metrics"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/plugin/hook"
	"github.com/kasuganosora/questkeeper/questlog"
	"github.com/kasuganosora/questkeeper/scheduler"
	"github.com/kasuganosora/questkeeper/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the wired quest service with everything it owns.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Metrics  *metrics.Metrics
	Sched    *scheduler.Scheduler
	Loop     *loop.Loop
	Accounts *account.Cache
	Service  *quest.Service

	kv        cache.Cache
	pubsub    cache.PubSub
	publisher *quest.Publisher
	questLog  *questlog.Service
	cancel    context.CancelFunc
}

// NewApp opens the database, loads the quest definitions and starts the main
// loop. Call Close to release everything.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	defs, err := quest.LoadDefinitions(cfg.Quest.DefinitionsPath)
	if err != nil {
		return nil, err
	}

	a.DB, err = dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(a.DB); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	if a.kv, err = cache.NewCache(cfg.Cache); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	if a.pubsub, err = cache.NewPubSub(cfg.Cache); err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	a.Sched = scheduler.New(logger)
	a.Loop = loop.New(cfg.Quest.LoopBuffer, logger)
	go a.Loop.Run()

	a.Accounts = account.NewCache(store.New(a.DB), nil, cfg.Quest.WriteTimeout, a.Metrics, logger)
	loader := account.NewLoader(a.Accounts, a.Loop, account.LoaderConfig{
		Attempts:       cfg.Quest.Attempts(),
		AttemptTimeout: cfg.Quest.LoadTimeout,
	}, a.Metrics, logger)

	a.publisher = quest.NewPublisher(a.kv, a.pubsub, cfg.Cache.LocalPubSubBuf, logger)

	var ctx context.Context
	ctx, a.cancel = context.WithCancel(context.Background())
	rt := quest.NewRuntime(ctx, quest.Deps{
		Cache:     a.Accounts,
		Exec:      a.Loop,
		Scheduler: a.Sched,
		Hooks:     hook.NewHookCenter(),
		Events:    a.publisher,
		Metrics:   a.Metrics,
		Logger:    logger,
		Options: quest.Options{
			StageEndRewardsMessage: cfg.Quest.StageEndRewardsMessage,
			QuestUpdateMessage:     cfg.Quest.QuestUpdateMessage,
		},
	})
	types, err := quest.DefaultTypes()
	if err != nil {
		return nil, err
	}
	reg, err := quest.Build(rt, types, defs)
	if err != nil {
		return nil, err
	}
	logger.Info("quest definitions loaded",
		zap.Int("quests", len(reg.Quests())), zap.Int("pools", len(reg.Pools())))

	var journal quest.Journal
	if cfg.QuestLog.Enabled {
		a.questLog = questlog.New(a.DB, cfg.Server.Name, cfg.QuestLog, logger)
		journal = a.questLog
	}

	a.Service = quest.NewService(reg, loader, player.NewSessionManager(logger), journal, a.publisher, cfg.Quest.SaveInterval, logger)
	if err := a.Service.Start(ctx); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// Close disconnects every player, flushes their accounts and stops the
// background workers in dependency order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Service != nil {
		if err := a.Service.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress publisher: %w", err))
		}
	}
	if a.questLog != nil {
		if err := a.questLog.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("quest log: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Sched != nil {
		a.Sched.Stop()
	}
	if a.Accounts != nil {
		if err := a.Accounts.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("account writes: %w", err))
		}
	}
	if a.Loop != nil {
		a.Loop.Stop()
		<-a.Loop.Done()
	}
	if a.pubsub != nil {
		_ = a.pubsub.Close()
	}
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return errors.Join(errs...)
}
