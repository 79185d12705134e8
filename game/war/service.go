package war

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/kasuganosora/kingdomwar/server/audit"
	"github.com/kasuganosora/kingdomwar/server/cache"
	"github.com/kasuganosora/kingdomwar/server/config"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RankingKey is the cache sorted set counting breaches per kingdom.
const RankingKey = "ranking:kingdom_wins"

const runLockTTL = 5 * time.Minute

func runLockKey(id int64) string { return "war:run:" + strconv.FormatInt(id, 10) }

func restoreTask(id int64) string { return "war:" + strconv.FormatInt(id, 10) + ":restore" }

// Service schedules and resolves wars.
type Service struct {
	db       *gorm.DB
	cache    cache.Cache
	sched    *scheduler.Scheduler
	players  *player.Service
	registry *Registry
	cfg      config.WarConfig
	logger   *zap.Logger

	hooks *hook.HookCenter
	audit *audit.Service
	now   func() time.Time
}

func NewService(db *gorm.DB, c cache.Cache, sched *scheduler.Scheduler, players *player.Service, cfg config.WarConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := config.DefaultWar()
	if len(cfg.Kingdoms) == 0 {
		cfg.Kingdoms = d.Kingdoms
	}
	if len(cfg.Hours) == 0 {
		cfg.Hours = d.Hours
	}
	if cfg.MultiAttackBuff <= 0 {
		cfg.MultiAttackBuff = d.MultiAttackBuff
	}
	if cfg.ExpPerLevel <= 0 {
		cfg.ExpPerLevel = d.ExpPerLevel
	}
	return &Service{
		db:       db,
		cache:    c,
		sched:    sched,
		players:  players,
		registry: NewRegistry(db, c, logger),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) SetHooks(h *hook.HookCenter) { s.hooks = h }
func (s *Service) SetAudit(a *audit.Service)   { s.audit = a }

// Registry returns the squad registry; it also serves as the battle blocker.
func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.registry.now = now
}

// ScheduleSlot creates one war per kingdom for the slot. Existing wars are
// left untouched.
func (s *Service) ScheduleSlot(ctx context.Context, slot time.Time) ([]model.War, error) {
	slot = SlotTime(slot)
	db := s.db.WithContext(ctx)
	for _, k := range s.cfg.Kingdoms {
		w := &model.War{
			ScheduledAt:      slot,
			DefendingKingdom: k,
			Status:           model.WarScheduled,
			DefenseBuff:      1.0,
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(w).Error; err != nil {
			return nil, err
		}
	}
	return s.WarsAt(ctx, slot)
}

// ScheduleDay schedules every configured slot of the given local day.
func (s *Service) ScheduleDay(ctx context.Context, day time.Time) (int, error) {
	n := 0
	for _, slot := range s.SlotsOn(day) {
		wars, err := s.ScheduleSlot(ctx, slot)
		if err != nil {
			return n, err
		}
		n += len(wars)
	}
	return n, nil
}

// SlotsOn lists the war slots of the day containing t, in the war timezone.
func (s *Service) SlotsOn(t time.Time) []time.Time {
	loc := s.cfg.Location()
	y, m, d := t.In(loc).Date()
	out := make([]time.Time, 0, len(s.cfg.Hours))
	for _, h := range s.cfg.Hours {
		out = append(out, time.Date(y, m, d, h, 0, 0, 0, loc))
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// WarsAt lists the wars of one slot ordered by defending kingdom.
func (s *Service) WarsAt(ctx context.Context, slot time.Time) ([]model.War, error) {
	var wars []model.War
	err := s.db.WithContext(ctx).
		Where("scheduled_at = ?", SlotTime(slot)).
		Order("defending_kingdom").Find(&wars).Error
	return wars, err
}

// WarsOn lists the wars of the local day containing day.
func (s *Service) WarsOn(ctx context.Context, day time.Time) ([]model.War, error) {
	loc := s.cfg.Location()
	y, m, d := day.In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
	var wars []model.War
	err := s.db.WithContext(ctx).
		Where("scheduled_at >= ? AND scheduled_at < ?", from, from.Add(24*time.Hour)).
		Order("scheduled_at, defending_kingdom").Find(&wars).Error
	return wars, err
}

func (s *Service) Get(ctx context.Context, id int64) (*model.War, error) {
	var w model.War
	err := s.db.WithContext(ctx).First(&w, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gameerr.NotFound("war %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Announce publishes the wars of an upcoming slot.
func (s *Service) Announce(ctx context.Context, slot time.Time) (*hook.WarAnnounceEvent, error) {
	wars, err := s.WarsAt(ctx, slot)
	if err != nil {
		return nil, err
	}
	ev := &hook.WarAnnounceEvent{Slot: SlotTime(slot)}
	for _, w := range wars {
		if w.Status != model.WarScheduled {
			continue
		}
		ev.WarIDs = append(ev.WarIDs, w.ID)
		ev.Kingdoms = append(ev.Kingdoms, w.DefendingKingdom)
	}
	if len(ev.WarIDs) == 0 {
		return ev, nil
	}
	s.logger.Info("war announced", zap.Time("slot", ev.Slot), zap.Int("wars", len(ev.WarIDs)))
	if _, err := s.hooks.Trigger(ctx, hook.WarAnnounce, ev); err != nil {
		s.logger.Warn("war announce hook failed", zap.Error(err))
	}
	return ev, nil
}

// StartSlot resolves every pending war of the slot one after another. A
// failing war is logged and does not stop the others.
func (s *Service) StartSlot(ctx context.Context, slot time.Time) int {
	wars, err := s.WarsAt(ctx, slot)
	if err != nil {
		s.logger.Error("load slot wars failed", zap.Time("slot", SlotTime(slot)), zap.Error(err))
		return 0
	}
	n := 0
	for _, w := range wars {
		if w.Status == model.WarFinished {
			continue
		}
		if _, err := s.Resolve(ctx, w.ID); err != nil {
			s.logger.Error("war resolution failed", zap.Int64("war_id", w.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Restore refills hp and mana of everyone who took part in the war. It runs
// once per war.
func (s *Service) Restore(ctx context.Context, warID int64) error {
	w, err := s.Get(ctx, warID)
	if err != nil {
		return err
	}
	if w.RestoredAt != nil {
		return nil
	}
	if w.Status != model.WarFinished {
		return gameerr.Consistency("war %d has not finished yet", warID)
	}
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.WarParticipation{}).
		Where("war_id = ?", warID).Pluck("user_id", &ids).Error; err != nil {
		return err
	}
	if err := s.players.RestoreAll(ctx, ids); err != nil {
		return err
	}
	now := s.now()
	if err := s.db.WithContext(ctx).Model(w).Update("restored_at", now).Error; err != nil {
		return err
	}
	s.logger.Info("war participants restored", zap.Int64("war_id", warID), zap.Int("players", len(ids)))
	s.audit.Log(audit.Entry{
		Action:  audit.ActionWarRestored,
		Subject: "war:" + strconv.FormatInt(warID, 10),
		Detail:  map[string]any{"players": len(ids)},
	})
	return nil
}

func (s *Service) armRestore(w *model.War) {
	at := s.now()
	if w.FinishedAt != nil {
		at = w.FinishedAt.Add(s.cfg.RestoreDelay)
	}
	id := w.ID
	s.sched.AddAt(restoreTask(id), at, func() {
		if err := s.Restore(context.Background(), id); err != nil {
			s.logger.Error("war restore failed", zap.Int64("war_id", id), zap.Error(err))
		}
	})
}

// Recover resolves wars whose slot passed while the server was down and
// re-arms pending restorations.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var overdue []model.War
	err := s.db.WithContext(ctx).
		Where("status IN ? AND scheduled_at <= ?", []string{model.WarScheduled, model.WarActive}, s.now().UTC()).
		Order("scheduled_at, id").Find(&overdue).Error
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range overdue {
		if _, err := s.Resolve(ctx, w.ID); err != nil {
			s.logger.Error("recover war failed", zap.Int64("war_id", w.ID), zap.Error(err))
			continue
		}
		n++
	}

	var unrestored []model.War
	if err := s.db.WithContext(ctx).
		Where("status = ? AND restored_at IS NULL", model.WarFinished).
		Find(&unrestored).Error; err != nil {
		return n, err
	}
	for i := range unrestored {
		s.armRestore(&unrestored[i])
	}
	if n > 0 || len(unrestored) > 0 {
		s.logger.Info("wars recovered", zap.Int("resolved", n), zap.Int("restores", len(unrestored)))
	}
	return n, nil
}

// squadSize counts every registered and auto-enrolled fighter.
func squadSize(w *model.War) int {
	n := len(w.DefenseSquad)
	for _, ids := range w.AttackSquads.Data() {
		n += len(ids)
	}
	return n
}

func toJSONMap[V any](m map[string]V) datatypes.JSONType[map[string]V] {
	if m == nil {
		m = map[string]V{}
	}
	return datatypes.NewJSONType(m)
}

// Location is the timezone war slots and dates are expressed in.
func (s *Service) Location() *time.Location { return s.cfg.Location() }
