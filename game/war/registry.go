// Package war runs the scheduled kingdom sieges: squad registration, wave
// resolution, loot and the post-war restoration.
package war

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/kingdomwar/server/cache"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BlockReason is returned to a registered player who tries anything else.
const BlockReason = "registered for Kingdom Attack, wait for the end of battle"

const blockTTL = 24 * time.Hour

// BlockKey is the cache key marking a player as registered for a war.
func BlockKey(userID int64) string {
	return "war:block:" + strconv.FormatInt(userID, 10)
}

// SlotTime normalises a war slot so equal instants compare equal in storage.
func SlotTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// Occupancy reports the battle a player is fighting, if any.
type Occupancy interface {
	InBattle(ctx context.Context, userID int64) (string, bool, error)
}

// Registry holds the squad sign-ups. Squad updates for one war are
// serialised by a per-war mutex; the database rejects a second active
// registration for the same player.
type Registry struct {
	db      *gorm.DB
	cache   cache.Cache
	battles Occupancy
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewRegistry(db *gorm.DB, c cache.Cache, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:     db,
		cache:  c,
		logger: logger,
		now:    time.Now,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// SetOccupancy makes sign-ups and auto-enrolment skip players in a battle.
func (r *Registry) SetOccupancy(o Occupancy) { r.battles = o }

func (r *Registry) warLock(id int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Registry) forget(id int64) {
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
}

func findWar(db *gorm.DB, slot time.Time, kingdom string) (*model.War, error) {
	var w model.War
	err := db.Where("scheduled_at = ? AND defending_kingdom = ?", SlotTime(slot), kingdom).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gameerr.NotFound("no war against %s at %s", kingdom, SlotTime(slot).Format(time.RFC3339))
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// RegisterAttacker signs the player up to attack targetKingdom at slot.
func (r *Registry) RegisterAttacker(ctx context.Context, userID int64, targetKingdom string, slot time.Time) (*model.WarParticipation, error) {
	u, err := player.Load(r.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	if u.Kingdom == targetKingdom {
		return nil, gameerr.Validation("you cannot attack your own kingdom")
	}
	return r.register(ctx, u, targetKingdom, model.RoleAttacker, slot)
}

// RegisterDefender signs the player up to defend their own kingdom at slot.
func (r *Registry) RegisterDefender(ctx context.Context, userID int64, slot time.Time) (*model.WarParticipation, error) {
	u, err := player.Load(r.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	return r.register(ctx, u, u.Kingdom, model.RoleDefender, slot)
}

func (r *Registry) register(ctx context.Context, u *model.User, defender, role string, slot time.Time) (*model.WarParticipation, error) {
	db := r.db.WithContext(ctx)
	w, err := findWar(db, slot, defender)
	if err != nil {
		return nil, err
	}

	l := r.warLock(w.ID)
	l.Lock()
	defer l.Unlock()

	if err := r.claim(ctx, u.ID, w.ID); err != nil {
		r.unclaim(ctx, u.ID)
		if errors.Is(err, errInBattle) {
			return nil, gameerr.Consistency("%s is in a battle, finish it before joining a war", u.Name)
		}
		return nil, err
	}

	var part *model.WarParticipation
	err = db.Transaction(func(tx *gorm.DB) error {
		// reload under the lock so the squad is current
		if err := tx.First(w, w.ID).Error; err != nil {
			return err
		}
		if w.Status != model.WarScheduled || !r.now().Before(w.ScheduledAt) {
			return gameerr.Consistency("registration for the war against %s is closed", defender)
		}
		var n int64
		if err := tx.Model(&model.WarParticipation{}).Where("active_user_id = ?", u.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return gameerr.Consistency("%s is already registered for a war", u.Name)
		}

		uid := u.ID
		part = &model.WarParticipation{
			WarID:        w.ID,
			UserID:       u.ID,
			ActiveUserID: &uid,
			Kingdom:      u.Kingdom,
			Role:         role,
			Stats:        datatypes.NewJSONType(u.Snapshot()),
		}
		if err := tx.Create(part).Error; err != nil {
			if model.IsUniqueViolation(err) {
				return gameerr.Consistency("%s is already registered for a war", u.Name)
			}
			return err
		}

		if role == model.RoleAttacker {
			squads := w.Squads()
			if _, ok := squads[u.Kingdom]; !ok {
				w.AttackingKingdoms = append(w.AttackingKingdoms, u.Kingdom)
			}
			squads[u.Kingdom] = append(squads[u.Kingdom], u.ID)
			w.AttackSquads = datatypes.NewJSONType(squads)
		} else {
			w.DefenseSquad = append(w.DefenseSquad, u.ID)
		}
		return tx.Model(w).Select("attacking_kingdoms", "attack_squads", "defense_squad").Updates(w).Error
	})
	if err != nil {
		r.unclaim(ctx, u.ID)
		return nil, err
	}

	r.logger.Info("war registration",
		zap.Int64("war_id", w.ID),
		zap.Int64("user_id", u.ID),
		zap.String("role", role),
		zap.String("kingdom", u.Kingdom),
	)
	return part, nil
}

var errInBattle = errors.New("player is in a battle")

// claim sets the block marker and only then looks for a running battle.
// Battles check the marker after taking their player lock, so of two racing
// starts at least one sees the other.
func (r *Registry) claim(ctx context.Context, userID, warID int64) error {
	if err := r.cache.Set(ctx, BlockKey(userID), strconv.FormatInt(warID, 10), blockTTL); err != nil {
		return err
	}
	if r.battles == nil {
		return nil
	}
	_, busy, err := r.battles.InBattle(ctx, userID)
	if err != nil {
		return err
	}
	if busy {
		return errInBattle
	}
	return nil
}

// unclaim drops the block marker unless the player still holds a registration.
func (r *Registry) unclaim(ctx context.Context, userID int64) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.WarParticipation{}).
		Where("active_user_id = ?", userID).Count(&n).Error
	if err != nil {
		r.logger.Warn("war registration lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if n == 0 {
		r.Release(ctx, []int64{userID})
	}
}

// CheckBlocked reports whether the player holds a registration in a war that
// has not been released yet.
func (r *Registry) CheckBlocked(ctx context.Context, userID int64) (bool, string, error) {
	ok, err := r.cache.Exists(ctx, BlockKey(userID))
	if err != nil {
		r.logger.Warn("war block marker lookup failed", zap.Int64("user_id", userID), zap.Error(err))
	} else if ok {
		return true, BlockReason, nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.WarParticipation{}).
		Where("active_user_id = ?", userID).Count(&n).Error; err != nil {
		return false, "", err
	}
	if n > 0 {
		return true, BlockReason, nil
	}
	return false, "", nil
}

// Release clears the block markers of the given players.
func (r *Registry) Release(ctx context.Context, userIDs []int64) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = BlockKey(id)
	}
	if err := r.cache.Del(ctx, keys...); err != nil {
		r.logger.Warn("clear war block markers failed", zap.Int("count", len(keys)), zap.Error(err))
	}
}
