// Package audit writes the game's audit trail in the background.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/kingdomwar/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions written by the engines.
const (
	ActionBattleFinished = "battle.finished"
	ActionWarResolved    = "war.resolved"
	ActionWarRestored    = "war.restored"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry is one audit event.
type Entry struct {
	TraceID string
	UserID  *int64
	Action  string
	Subject string // "battle:<uuid>" or "war:<id>"
	Detail  any
	Error   string
}

// Service batches entries and writes them from a single worker.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log queues an entry. A full queue drops the entry with a warning.
// Safe on a nil Service.
func (svc *Service) Log(e Entry) {
	if svc == nil {
		return
	}
	var detail datatypes.JSON
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			svc.logger.Warn("audit detail not serialisable", zap.String("action", e.Action), zap.Error(err))
		} else {
			detail = datatypes.JSON(b)
		}
	}
	rec := &model.AuditLog{
		TraceID: e.TraceID,
		UserID:  e.UserID,
		Action:  e.Action,
		Subject: e.Subject,
		Detail:  detail,
		Error:   e.Error,
	}
	select {
	case <-svc.stopCh:
		return
	default:
	}
	select {
	case svc.ch <- rec:
	default:
		svc.logger.Warn("audit queue full, dropping entry", zap.String("action", e.Action))
	}
}

// Stop flushes queued entries and waits for the worker to exit.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
