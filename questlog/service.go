package questlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/questkeeper/config"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service writes one quest_logs row per quest entry of every snapshot it is
// given, asynchronously and in batches.
type Service struct {
	db            *gorm.DB
	server        string
	ch            chan *model.QuestLog
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
}

// New creates a quest log Service and starts its background worker.
func New(db *gorm.DB, server string, cfg config.QuestLogConfig, logger *zap.Logger) *Service {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	svc := &Service{
		db:            db,
		server:        server,
		ch:            make(chan *model.QuestLog, cfg.Buffer),
		stopCh:        make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Record enqueues one row per quest entry of snap. kind is model.QuestLogJoin or model.QuestLogQuit.
func (svc *Service) Record(kind string, snap account.AccountSnapshot) {
	select {
	case <-svc.stopCh:
		return
	default:
	}
	for _, q := range snap.Quests {
		data, err := json.Marshal(q.Data)
		if err != nil {
			data = []byte("{}")
		}
		row := &model.QuestLog{
			Server:         svc.server,
			LogType:        kind,
			UserID:         snap.Identity.String(),
			QuestID:        q.QuestID,
			Finished:       q.Finished,
			Timer:          q.Timer,
			CurrentBranch:  q.Branch,
			CurrentStage:   q.Stage,
			AdditionalData: datatypes.JSON(data),
			QuestFlow:      account.FormatFlow(q.Flow),
		}
		if q.InEndingStages {
			row.CurrentStage = -2
		}
		select {
		case svc.ch <- row:
		default:
			svc.logger.Warn("quest log channel full, dropping entry",
				zap.String("account", snap.Identity.String()),
				zap.Int("quest_id", q.QuestID),
				zap.String("type", kind))
		}
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished or ctx is done.
func (svc *Service) Stop(ctx context.Context) error {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.flushInterval)
	defer ticker.Stop()

	batch := make([]*model.QuestLog, 0, svc.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.CreateInBatches(&batch, svc.batchSize).Error; err != nil {
			svc.logger.Error("quest log batch write failed", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-svc.ch:
			batch = append(batch, row)
			if len(batch) >= svc.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case row := <-svc.ch:
					batch = append(batch, row)
				default:
					flush()
					return
				}
			}
		}
	}
}
