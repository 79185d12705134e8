package player

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service reads and writes player records.
type Service struct {
	db       *gorm.DB
	kingdoms []string
	logger   *zap.Logger
}

func NewService(db *gorm.DB, kingdoms []string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, kingdoms: kingdoms, logger: logger}
}

// Kingdoms returns the configured kingdom names.
func (s *Service) Kingdoms() []string { return slices.Clone(s.kingdoms) }

// ValidKingdom reports whether k is a configured kingdom.
func (s *Service) ValidKingdom(k string) bool { return slices.Contains(s.kingdoms, k) }

// Create registers a new player with starting stats.
func (s *Service) Create(ctx context.Context, name, kingdom string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, gameerr.Validation("name is required")
	}
	if !s.ValidKingdom(kingdom) {
		return nil, gameerr.Validation("unknown kingdom %q", kingdom)
	}
	u := model.NewUser(name, kingdom)
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if model.IsUniqueViolation(err) {
			return nil, gameerr.Consistency("name %q is taken", name)
		}
		return nil, fmt.Errorf("create player: %w", err)
	}
	s.logger.Info("player created", zap.Int64("user_id", u.ID), zap.String("kingdom", kingdom))
	return u, nil
}

// Get loads a player by id.
func (s *Service) Get(ctx context.Context, id int64) (*model.User, error) {
	return Load(s.db.WithContext(ctx), id)
}

// Load reads a player through db, which may be a transaction.
func Load(db *gorm.DB, id int64) (*model.User, error) {
	var u model.User
	if err := db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gameerr.NotFound("player %d not found", id)
		}
		return nil, err
	}
	return &u, nil
}

// Lock loads a player inside tx and holds the row until tx ends.
func Lock(tx *gorm.DB, id int64) (*model.User, error) {
	return Load(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

// Save writes u's hp, mana and win counters through db. Money and
// experience only move through Credit and Debit.
func Save(db *gorm.DB, u *model.User) error {
	return db.Model(u).Select(
		"current_hp", "current_mana", "pvp_wins", "pvp_losses", "pve_wins",
	).Updates(u).Error
}

// Credit pays money and experience to u, which should come from Lock.
// Money is added in place by the database; levels are worked out on u.
func Credit(tx *gorm.DB, u *model.User, money, exp int64) error {
	AddExperience(u, exp)
	updates := map[string]any{
		"level":            u.Level,
		"experience":       u.Experience,
		"free_stat_points": u.FreeStatPoints,
	}
	if money != 0 {
		updates["money"] = gorm.Expr("money + ?", money)
	}
	if err := tx.Model(&model.User{}).Where("id = ?", u.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("credit player %d: %w", u.ID, err)
	}
	AddMoney(u, money)
	return nil
}

// Debit takes up to amount from the player's money in place, never going
// below zero.
func Debit(tx *gorm.DB, id, amount int64) error {
	if amount <= 0 {
		return nil
	}
	err := tx.Model(&model.User{}).Where("id = ?", id).
		Update("money", gorm.Expr("CASE WHEN money > ? THEN money - ? ELSE 0 END", amount, amount)).Error
	if err != nil {
		return fmt.Errorf("debit player %d: %w", id, err)
	}
	return nil
}

// Touch marks the player as active at the given time.
func (s *Service) Touch(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).Update("last_active", at).Error
}

// ActiveMembers lists kingdom members active at or after since.
func (s *Service) ActiveMembers(ctx context.Context, kingdom string, since time.Time) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("kingdom = ? AND last_active >= ?", kingdom, since).
		Order("id").Find(&users).Error
	return users, err
}

// RestoreAll refills hp and mana for every listed player.
func (s *Service) RestoreAll(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"current_hp":   gorm.Expr("hp"),
			"current_mana": gorm.Expr("mana"),
		}).Error
}
