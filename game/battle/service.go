package battle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/kingdomwar/server/audit"
	"github.com/kasuganosora/kingdomwar/server/cache"
	"github.com/kasuganosora/kingdomwar/server/config"
	"github.com/kasuganosora/kingdomwar/server/game/combat"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/game/skill"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Blocker reports whether a player is tied up elsewhere (a pending war).
type Blocker interface {
	CheckBlocked(ctx context.Context, userID int64) (bool, string, error)
}

// Loadouts supplies a player's skills.
type Loadouts interface {
	Loadout(ctx context.Context, userID int64) ([]skill.Known, error)
}

var errStale = errors.New("stale timeout")

// UserLockKey is the cache key holding the id of a player's running battle.
func UserLockKey(userID int64) string {
	return "battle:user:" + strconv.FormatInt(userID, 10)
}

func timeoutTask(id string) string { return "battle:" + id + ":timeout" }

func challengeTask(id string) string { return "challenge:" + id }

type handle struct {
	mu sync.Mutex
	b  *Battle // nil once finished
}

// Service owns every running battle. Each battle is mutated only under its
// own lock and only committed to memory after it has been persisted.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	sched  *scheduler.Scheduler
	cfg    config.BattleConfig
	logger *zap.Logger

	skills  Loadouts
	blocker Blocker
	hooks   *hook.HookCenter
	audit   *audit.Service
	rng     combat.Roller
	now     func() time.Time

	mu         sync.Mutex
	battles    map[string]*handle
	challenges map[string]*Challenge
}

func NewService(db *gorm.DB, c cache.Cache, sched *scheduler.Scheduler, cfg config.BattleConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := config.DefaultBattle()
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = d.MaxRounds
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = d.RoundTimeout
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = d.ChallengeTTL
	}
	return &Service{
		db:         db,
		cache:      c,
		sched:      sched,
		cfg:        cfg,
		logger:     logger,
		rng:        combat.NewLockedRand(time.Now().UnixNano()),
		now:        time.Now,
		battles:    make(map[string]*handle),
		challenges: make(map[string]*Challenge),
	}
}

func (s *Service) SetLoadouts(l Loadouts)      { s.skills = l }
func (s *Service) SetBlocker(b Blocker)        { s.blocker = b }
func (s *Service) SetHooks(h *hook.HookCenter) { s.hooks = h }
func (s *Service) SetAudit(a *audit.Service)   { s.audit = a }

// SetRoller replaces the randomness source. r must be safe for concurrent use
// if battles run in parallel.
func (s *Service) SetRoller(r combat.Roller) { s.rng = r }

func (s *Service) lockTTL() time.Duration {
	return time.Duration(2*s.cfg.MaxRounds+2)*s.cfg.RoundTimeout + time.Minute
}

func (s *Service) checkBlocked(ctx context.Context, userID int64) error {
	if s.blocker == nil {
		return nil
	}
	blocked, reason, err := s.blocker.CheckBlocked(ctx, userID)
	if err != nil {
		return err
	}
	if blocked {
		return gameerr.Consistency("%s", reason)
	}
	return nil
}

// eligible loads a player who may start a fight.
func (s *Service) eligible(ctx context.Context, userID int64) (*model.User, error) {
	if err := s.checkBlocked(ctx, userID); err != nil {
		return nil, err
	}
	u, err := player.Load(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	if float64(u.CurrentHP) < s.cfg.MinHPRatio*float64(u.HP) {
		return nil, gameerr.Resource("%s needs at least %.0f%% hp to fight (%d/%d)",
			u.Name, s.cfg.MinHPRatio*100, u.CurrentHP, u.HP)
	}
	return u, nil
}

// InBattle returns the id of the player's running battle, if any.
func (s *Service) InBattle(ctx context.Context, userID int64) (string, bool, error) {
	id, err := s.cache.Get(ctx, UserLockKey(userID))
	if cache.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Service) lockPlayers(ctx context.Context, battleID string, ids ...int64) error {
	var held []int64
	for _, uid := range ids {
		ok, err := s.cache.SetNX(ctx, UserLockKey(uid), battleID, s.lockTTL())
		if err == nil && !ok {
			err = gameerr.Consistency("player %d is already in a battle", uid)
		}
		if err != nil {
			s.unlockPlayers(ctx, battleID, held...)
			return err
		}
		held = append(held, uid)
	}
	// a war sign-up that slipped past eligible has set its marker by now
	for _, uid := range ids {
		if err := s.checkBlocked(ctx, uid); err != nil {
			s.unlockPlayers(ctx, battleID, held...)
			return err
		}
	}
	return nil
}

func (s *Service) unlockPlayers(ctx context.Context, battleID string, ids ...int64) {
	for _, uid := range ids {
		if _, err := s.cache.CompareAndDel(ctx, UserLockKey(uid), battleID); err != nil {
			s.logger.Warn("release battle lock failed", zap.Int64("user_id", uid), zap.Error(err))
		}
	}
}

func (s *Service) loadout(ctx context.Context, userID int64) ([]skill.Known, error) {
	if s.skills == nil {
		return nil, nil
	}
	return s.skills.Loadout(ctx, userID)
}

// StartPvE opens a monster encounter for the player.
func (s *Service) StartPvE(ctx context.Context, userID int64) (*Battle, error) {
	u, err := s.eligible(ctx, userID)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if err := s.lockPlayers(ctx, id, userID); err != nil {
		return nil, err
	}
	skills, err := s.loadout(ctx, userID)
	if err != nil {
		s.unlockPlayers(ctx, id, userID)
		return nil, err
	}
	b := NewPvE(id, u, skills, GenerateMonster(s.rng, u.Level), s.cfg.MaxRounds, s.now())
	if err := s.start(ctx, b); err != nil {
		s.unlockPlayers(ctx, id, userID)
		return nil, err
	}
	s.logger.Info("encounter started",
		zap.String("battle_id", id),
		zap.Int64("user_id", userID),
		zap.String("monster", b.Monster.Name),
		zap.Int("monster_level", b.Monster.Level))
	return b.Clone(), nil
}

func (s *Service) start(ctx context.Context, b *Battle) error {
	if err := s.commit(ctx, nil, b); err != nil {
		return err
	}
	h := &handle{b: b}
	s.mu.Lock()
	s.battles[b.ID] = h
	s.mu.Unlock()
	s.afterCommit(ctx, b)
	return nil
}

// Get returns a copy of a running or archived battle.
func (s *Service) Get(ctx context.Context, id string) (*Battle, error) {
	if h := s.handle(id); h != nil {
		h.mu.Lock()
		b := h.b
		var c *Battle
		if b != nil {
			c = b.Clone()
		}
		h.mu.Unlock()
		if c != nil {
			return c, nil
		}
	}
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*Battle, error) {
	var rec model.BattleRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gameerr.NotFound("battle %s not found", id)
		}
		return nil, err
	}
	return FromRecord(&rec)
}

func (s *Service) handle(id string) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battles[id]
}

// Fight engages the monster.
func (s *Service) Fight(ctx context.Context, id string, userID int64) (*Battle, error) {
	return s.act(ctx, id, func(b *Battle, _ time.Time) error {
		return b.Fight(userID)
	})
}

// Flee attempts to escape the monster.
func (s *Service) Flee(ctx context.Context, id string, userID int64) (*Battle, FleeOutcome, error) {
	var out FleeOutcome
	b, err := s.act(ctx, id, func(b *Battle, now time.Time) error {
		var err error
		out, err = b.Flee(s.rng, userID, now)
		return err
	})
	return b, out, err
}

// ChooseAttack records an attack type.
func (s *Service) ChooseAttack(ctx context.Context, id string, userID int64, at combat.AttackType) (*Battle, error) {
	return s.act(ctx, id, func(b *Battle, _ time.Time) error {
		return b.ChooseAttack(userID, at)
	})
}

// ChooseDodge records a dodge direction and resolves the round when complete.
func (s *Service) ChooseDodge(ctx context.Context, id string, userID int64, dir combat.Direction) (*Battle, error) {
	return s.act(ctx, id, func(b *Battle, now time.Time) error {
		return b.ChooseDodge(s.rng, userID, dir, now)
	})
}

// act applies fn to a copy of the battle, persists the copy and only then
// makes it the live state.
func (s *Service) act(ctx context.Context, id string, fn func(b *Battle, now time.Time) error) (*Battle, error) {
	h := s.handle(id)
	if h == nil {
		return nil, s.inactive(ctx, id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.b == nil {
		return nil, gameerr.Consistency("battle %s is over", id)
	}

	next := h.b.Clone()
	if err := fn(next, s.now()); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, h.b, next); err != nil {
		return nil, err
	}
	h.b = next
	if next.Finished() {
		h.b = nil
		s.mu.Lock()
		delete(s.battles, id)
		s.mu.Unlock()
	}
	s.afterCommit(ctx, next)
	return next.Clone(), nil
}

func (s *Service) inactive(ctx context.Context, id string) error {
	b, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if b.Finished() {
		return gameerr.Consistency("battle %s is over", id)
	}
	return gameerr.NotFound("battle %s is not running", id)
}

// commit persists next. Skill usage and, for a finished battle, the
// settlement are written in the same transaction.
func (s *Service) commit(ctx context.Context, prev, next *Battle) error {
	now := s.now()
	if next.Phase.Selecting() && (prev == nil || prev.Phase != next.Phase || prev.Round != next.Round || next.Deadline.IsZero()) {
		next.Deadline = now.Add(s.cfg.RoundTimeout)
	}
	rec, err := next.ToRecord()
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("save battle: %w", err)
		}
		for uid, ids := range next.usage {
			if err := skill.RecordUsage(tx, uid, ids, now); err != nil {
				return err
			}
		}
		if next.Finished() {
			return settle(tx, next)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("battle commit failed", zap.String("battle_id", next.ID), zap.Error(err))
		return err
	}
	next.usage = nil
	return nil
}

// settle writes a finished battle's outcome to the player records.
func settle(tx *gorm.DB, b *Battle) error {
	for _, side := range b.sides() {
		u, err := player.Lock(tx, side.UserID)
		if err != nil {
			return err
		}
		player.SetHP(u, side.HP, 1)
		u.CurrentMana = min(max(side.Mana, 0), u.Mana)
		won := b.Result == ResultWon && b.WinnerID == u.ID
		switch {
		case won && b.Mode == ModePvE:
			u.PvEWins++
		case won:
			u.PvPWins++
		case b.Result == ResultWon && b.Mode == ModePvP:
			u.PvPLosses++
		}
		if err := player.Save(tx, u); err != nil {
			return fmt.Errorf("settle player %d: %w", u.ID, err)
		}
		if won {
			if err := player.Credit(tx, u, b.MoneyGained, b.ExpGained); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) afterCommit(ctx context.Context, b *Battle) {
	if !b.Finished() {
		if b.Phase.Selecting() {
			id, phase, round := b.ID, b.Phase, b.Round
			s.sched.AddAt(timeoutTask(id), b.Deadline, func() { s.expire(id, phase, round) })
		}
		return
	}

	s.sched.Remove(timeoutTask(b.ID))
	s.unlockPlayers(ctx, b.ID, b.PlayerIDs()...)
	s.logger.Info("battle finished",
		zap.String("battle_id", b.ID),
		zap.String("mode", string(b.Mode)),
		zap.String("result", string(b.Result)),
		zap.String("reason", string(b.EndReason)),
		zap.Int64("winner_id", b.WinnerID),
		zap.Int("rounds", b.Round))

	ev := hook.BattleFinishedEvent{
		BattleID:  b.ID,
		Mode:      string(b.Mode),
		Result:    string(b.Result),
		Reason:    string(b.EndReason),
		PlayerIDs: b.PlayerIDs(),
		WinnerID:  b.WinnerID,
		Rounds:    b.Round,
		Exp:       b.ExpGained,
		Money:     b.MoneyGained,
	}
	if _, err := s.hooks.Trigger(context.WithoutCancel(ctx), hook.BattleFinished, ev); err != nil {
		s.logger.Warn("battle.finished hook failed", zap.String("battle_id", b.ID), zap.Error(err))
	}
	uid := b.P1.UserID
	s.audit.Log(audit.Entry{
		UserID:  &uid,
		Action:  audit.ActionBattleFinished,
		Subject: "battle:" + b.ID,
		Detail:  ev,
	})
}

// expire is the timeout callback for a selection phase.
func (s *Service) expire(id string, phase Phase, round int) {
	ctx := context.Background()
	_, err := s.act(ctx, id, func(b *Battle, now time.Time) error {
		applied, err := b.Expire(s.rng, phase, round, now)
		if err == nil && !applied {
			return errStale
		}
		return err
	})
	switch {
	case err == nil, errors.Is(err, errStale), gameerr.IsRejection(err):
	default:
		s.logger.Error("battle timeout failed, retrying", zap.String("battle_id", id), zap.Error(err))
		s.sched.AddDelay(timeoutTask(id), 5*time.Second, func() { s.expire(id, phase, round) })
	}
}

// Recover reloads unfinished battles after a restart and re-arms their
// timeouts. Expired deadlines fire immediately.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var recs []model.BattleRecord
	if err := s.db.WithContext(ctx).Where("phase <> ?", string(PhaseFinished)).Find(&recs).Error; err != nil {
		return 0, err
	}
	n := 0
	for i := range recs {
		b, err := FromRecord(&recs[i])
		if err != nil {
			s.logger.Error("skipping unreadable battle", zap.String("battle_id", recs[i].ID), zap.Error(err))
			continue
		}
		if !b.Phase.Selecting() {
			s.logger.Warn("skipping battle in transient phase", zap.String("battle_id", b.ID), zap.String("phase", string(b.Phase)))
			continue
		}
		for _, uid := range b.PlayerIDs() {
			if err := s.cache.Set(ctx, UserLockKey(uid), b.ID, s.lockTTL()); err != nil {
				return n, err
			}
		}
		if b.Deadline.IsZero() {
			b.Deadline = s.now().Add(s.cfg.RoundTimeout)
		}
		s.mu.Lock()
		s.battles[b.ID] = &handle{b: b}
		s.mu.Unlock()
		s.afterCommit(ctx, b)
		n++
	}
	if n > 0 {
		s.logger.Info("battles recovered", zap.Int("count", n))
	}
	return n, nil
}

// Running returns the number of battles in memory.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.battles)
}
