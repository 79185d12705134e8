package skill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Catalogue is the built-in skill list seeded on start-up.
var Catalogue = []model.Skill{
	{Name: "First Aid", Type: string(TypeHeal), ManaCost: 15, HealAmount: 30, Description: "Restores 30 hp when badly hurt."},
	{Name: "Battle Cry", Type: string(TypeBuff), ManaCost: 10, StatusEffect: "inspired", Description: "A rallying shout at the start of a fight."},
	{Name: "Taunt", Type: string(TypeDebuff), ManaCost: 10, StatusEffect: "shaken", Description: "Unsettles the opponent early on."},
	{Name: "Iron Skin", Type: string(TypeDefense), ManaCost: 12, DefenseMultiplier: 1.5, Description: "Hardens armour while wounded."},
	{Name: "Fireball", Type: string(TypeAttack), ManaCost: 20, DamageMultiplier: 1.2, Description: "Hurls fire at the opponent."},
}

// Service loads loadouts and records skill usage.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// Seed inserts catalogue skills that do not exist yet.
func (s *Service) Seed(ctx context.Context) error {
	for _, sk := range Catalogue {
		row := sk
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&row).Error; err != nil {
			return fmt.Errorf("seed skill %s: %w", sk.Name, err)
		}
	}
	return nil
}

// Learn gives a player a catalogue skill by name. Learning twice is a no-op.
func (s *Service) Learn(ctx context.Context, userID int64, name string) error {
	var sk model.Skill
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&sk).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gameerr.NotFound("no skill named %q", name)
		}
		return err
	}
	us := model.UserSkill{UserID: userID, SkillID: sk.ID}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&us).Error
}

// Loadout returns the skills a player knows. Rows with an unknown type are
// skipped and logged.
func (s *Service) Loadout(ctx context.Context, userID int64) ([]Known, error) {
	var rows []model.UserSkill
	if err := s.db.WithContext(ctx).Preload("Skill").
		Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Known, 0, len(rows))
	for _, r := range rows {
		k, err := FromModel(r.Skill)
		if err != nil {
			s.logger.Warn("skipping skill", zap.Int64("user_id", userID), zap.Int64("skill_id", r.SkillID), zap.Error(err))
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// RecordUsage bumps the usage counters of every cast skill. tx may be a
// transaction so the counters commit together with the round.
func RecordUsage(tx *gorm.DB, userID int64, skillIDs []int64, at time.Time) error {
	counts := make(map[int64]int, len(skillIDs))
	for _, id := range skillIDs {
		counts[id]++
	}
	for id, n := range counts {
		if err := tx.Model(&model.UserSkill{}).
			Where("user_id = ? AND skill_id = ?", userID, id).
			Updates(map[string]any{
				"times_used": gorm.Expr("times_used + ?", n),
				"last_used":  at,
			}).Error; err != nil {
			return fmt.Errorf("record skill %d usage: %w", id, err)
		}
	}
	return nil
}
