package war

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/kasuganosora/kingdomwar/server/audit"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Resolve runs one war to completion. Every money, experience and status
// change is written in a single transaction; a finished war is returned as is.
func (s *Service) Resolve(ctx context.Context, warID int64) (*model.War, error) {
	token := uuid.NewString()
	ok, err := s.cache.SetNX(ctx, runLockKey(warID), token, runLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gameerr.Consistency("war %d is already being resolved", warID)
	}
	defer func() {
		if _, err := s.cache.CompareAndDel(context.Background(), runLockKey(warID), token); err != nil {
			s.logger.Warn("release war run-lock failed", zap.Int64("war_id", warID), zap.Error(err))
		}
	}()

	w, err := s.Get(ctx, warID)
	if err != nil {
		return nil, err
	}
	if w.Status == model.WarFinished {
		return w, nil
	}

	// registrations close here
	l := s.registry.warLock(warID)
	l.Lock()
	defer l.Unlock()
	defer s.registry.forget(warID)

	now := s.now()
	if w.Status == model.WarScheduled {
		w.Status = model.WarActive
		w.StartedAt = &now
		if err := s.db.WithContext(ctx).Model(w).Select("status", "started_at").Updates(w).Error; err != nil {
			return nil, err
		}
	}

	candidates, err := s.players.ActiveMembers(ctx, w.DefendingKingdom, now.UTC().Add(-s.cfg.ActiveWindow))
	if err != nil {
		return nil, err
	}
	candidates, claimed := s.claimIdle(ctx, w, candidates)

	var res *resolution
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.resolveTx(tx, w, candidates)
		return err
	})
	if err == nil {
		s.afterResolve(ctx, w, res)
	}
	for _, id := range claimed {
		s.registry.unclaim(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// claimIdle blocks every auto-enrolment candidate for the length of the
// resolution and drops those who are fighting a battle. It returns the
// remaining candidates and the players it claimed.
func (s *Service) claimIdle(ctx context.Context, w *model.War, candidates []model.User) ([]model.User, []int64) {
	var kept []model.User
	var claimed []int64
	for _, c := range candidates {
		err := s.registry.claim(ctx, c.ID, w.ID)
		claimed = append(claimed, c.ID)
		if err != nil {
			if !errors.Is(err, errInBattle) {
				s.logger.Warn("claim defender failed", zap.Int64("war_id", w.ID), zap.Int64("user_id", c.ID), zap.Error(err))
			}
			continue
		}
		kept = append(kept, c)
	}
	if n := len(candidates) - len(kept); n > 0 {
		s.logger.Info("busy defenders left out", zap.Int64("war_id", w.ID), zap.Int("count", n))
	}
	return kept, claimed
}

type resolution struct {
	participants []int64
	outcome      Outcome
	pool         int64
	penalty      int64
}

func (s *Service) resolveTx(tx *gorm.DB, w *model.War, candidates []model.User) (*resolution, error) {
	if err := tx.First(w, w.ID).Error; err != nil {
		return nil, err
	}
	var parts []model.WarParticipation
	if err := tx.Where("war_id = ?", w.ID).Order("id").Find(&parts).Error; err != nil {
		return nil, err
	}

	enrolled, err := s.autoEnroll(tx, w, candidates)
	if err != nil {
		return nil, err
	}
	parts = append(parts, enrolled...)

	attackers := make(map[string][]Member)
	var defenders []Member
	squad := make(map[int64]bool)
	byUser := make(map[int64]*model.WarParticipation, len(parts))
	res := &resolution{}
	for i := range parts {
		p := &parts[i]
		byUser[p.UserID] = p
		res.participants = append(res.participants, p.UserID)
		m := Member{UserID: p.UserID, Kingdom: p.Kingdom, Snapshot: p.Stats.Data()}
		if p.Role == model.RoleAttacker {
			attackers[p.Kingdom] = append(attackers[p.Kingdom], m)
		} else {
			defenders = append(defenders, m)
			squad[p.UserID] = true
		}
	}

	now := s.now()
	w.Status = model.WarFinished
	w.FinishedAt = &now
	if w.StartedAt == nil {
		w.StartedAt = &now
	}
	defense := Aggregate(defenders)
	w.DefenseStats = datatypes.NewJSONType(defense)

	if len(attackers) > 0 {
		attackStats := make(map[string]model.SquadStats, len(attackers))
		for k, ms := range attackers {
			attackStats[k] = Aggregate(ms)
		}
		w.DefenseBuff = DefenseBuff(len(attackers), s.cfg.MultiAttackBuff)
		res.outcome = ResolveWaves(w.DefendingKingdom, attackStats, defense, w.DefenseBuff)
		w.AttackStats = toJSONMap(attackStats)
		w.BattleResults = res.outcome.Waves
	} else {
		w.DefenseBuff = 1.0
		w.BattleResults = datatypes.JSONSlice[model.WaveResult]{}
		// nothing to recover from
		w.RestoredAt = &now
	}

	transferred := map[string]int64{}
	expGiven := map[string]int64{}
	if res.outcome.Breached {
		if err := s.plunder(tx, w, squad, byUser, res); err != nil {
			return nil, err
		}
		transferred[res.outcome.Winner] = res.pool
		rewards := Distribute(res.pool, attackers[res.outcome.Winner], s.cfg.ExpPerLevel)
		ids := make([]int64, 0, len(rewards))
		for id := range rewards {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			rw := rewards[id]
			u, err := player.Lock(tx, id)
			if err != nil {
				return nil, err
			}
			if err := player.Credit(tx, u, rw.Money, rw.Exp); err != nil {
				return nil, err
			}
			p := byUser[id]
			p.MoneyGained = rw.Money
			p.ExpGained = rw.Exp
			expGiven[strconv.FormatInt(id, 10)] = rw.Exp
		}
	}
	w.MoneyTransferred = toJSONMap(transferred)
	w.ExpDistributed = toJSONMap(expGiven)

	for i := range parts {
		if err := tx.Model(&parts[i]).Select("money_gained", "money_lost", "exp_gained").Updates(&parts[i]).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Save(w).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&model.WarParticipation{}).Where("war_id = ?", w.ID).
		Update("active_user_id", nil).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// autoEnroll adds recently active defenders who are not signed up for any
// war of this slot, each with a fresh snapshot.
func (s *Service) autoEnroll(tx *gorm.DB, w *model.War, candidates []model.User) ([]model.WarParticipation, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var busy []int64
	err := tx.Model(&model.WarParticipation{}).
		Joins("JOIN wars ON wars.id = war_participations.war_id").
		Where("wars.scheduled_at = ?", w.ScheduledAt).
		Pluck("war_participations.user_id", &busy).Error
	if err != nil {
		return nil, err
	}
	taken := make(map[int64]bool, len(busy))
	for _, id := range busy {
		taken[id] = true
	}

	var out []model.WarParticipation
	for _, c := range candidates {
		if taken[c.ID] {
			continue
		}
		u, err := player.Load(tx, c.ID)
		if err != nil {
			return nil, err
		}
		p := model.WarParticipation{
			WarID:        w.ID,
			UserID:       u.ID,
			Kingdom:      u.Kingdom,
			Role:         model.RoleDefender,
			AutoEnrolled: true,
			Stats:        datatypes.NewJSONType(u.Snapshot()),
		}
		if err := tx.Create(&p).Error; err != nil {
			return nil, err
		}
		w.DefenseSquad = append(w.DefenseSquad, u.ID)
		out = append(out, p)
	}
	if len(out) > 0 {
		s.logger.Info("defenders auto-enrolled", zap.Int64("war_id", w.ID), zap.Int("count", len(out)))
	}
	return out, nil
}

// plunder takes the loot from every member of the breached kingdom.
func (s *Service) plunder(tx *gorm.DB, w *model.War, squad map[int64]bool, byUser map[int64]*model.WarParticipation, res *resolution) error {
	var members []model.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kingdom = ?", w.DefendingKingdom).Order("id").Find(&members).Error
	if err != nil {
		return err
	}
	pool, loot, penalty := Plunder(members, squad, s.cfg.LootRatio, s.cfg.PenaltyRatio)
	res.pool = pool
	for i := range members {
		u := &members[i]
		lost := loot[u.ID] + penalty[u.ID]
		res.penalty += penalty[u.ID]
		if lost == 0 {
			continue
		}
		if err := player.Debit(tx, u.ID, lost); err != nil {
			return err
		}
		if p, ok := byUser[u.ID]; ok {
			p.MoneyLost = lost
		}
	}
	return nil
}

func (s *Service) afterResolve(ctx context.Context, w *model.War, res *resolution) {
	s.registry.Release(ctx, res.participants)

	attackers := append([]string(nil), w.AttackingKingdoms...)
	fields := []zap.Field{
		zap.Int64("war_id", w.ID),
		zap.String("defender", w.DefendingKingdom),
		zap.Strings("attackers", attackers),
		zap.Int("participants", len(res.participants)),
		zap.Bool("breached", res.outcome.Breached),
	}
	if res.outcome.Breached {
		fields = append(fields, zap.String("winner", res.outcome.Winner), zap.Int64("loot", res.pool))
		if _, err := s.cache.ZIncrBy(ctx, RankingKey, 1, res.outcome.Winner); err != nil {
			s.logger.Warn("update kingdom ranking failed", zap.Error(err))
		}
	}
	s.logger.Info("war resolved", fields...)

	ev := &hook.WarFinishedEvent{
		WarID:            w.ID,
		DefendingKingdom: w.DefendingKingdom,
		Breached:         res.outcome.Breached,
		WinningKingdom:   res.outcome.Winner,
		Attackers:        attackers,
		Loot:             res.pool,
	}
	if _, err := s.hooks.Trigger(ctx, hook.WarFinished, ev); err != nil {
		s.logger.Warn("war finished hook failed", zap.Int64("war_id", w.ID), zap.Error(err))
	}
	s.audit.Log(audit.Entry{
		Action:  audit.ActionWarResolved,
		Subject: "war:" + strconv.FormatInt(w.ID, 10),
		Detail: map[string]any{
			"breached":  res.outcome.Breached,
			"winner":    res.outcome.Winner,
			"waves":     res.outcome.Waves,
			"loot":      res.pool,
			"penalty":   res.penalty,
			"buff":      w.DefenseBuff,
			"attackers": attackers,
		},
	})

	if w.RestoredAt == nil {
		s.armRestore(w)
	}
}
