package battle

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/kingdomwar/server/cache"
	"github.com/kasuganosora/kingdomwar/server/config"
	"github.com/kasuganosora/kingdomwar/server/game/combat"
	"github.com/kasuganosora/kingdomwar/server/game/formula"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/game/player"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/plugin/hook"
	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"github.com/kasuganosora/kingdomwar/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeBlocker struct{ blocked map[int64]bool }

func (f fakeBlocker) CheckBlocked(_ context.Context, userID int64) (bool, string, error) {
	if f.blocked[userID] {
		return true, "registered for Kingdom Attack, wait for the end of battle", nil
	}
	return false, "", nil
}

// lateSignup sees the player free on the first check and registered after.
type lateSignup struct{ calls *int }

func (l lateSignup) CheckBlocked(_ context.Context, _ int64) (bool, string, error) {
	*l.calls++
	if *l.calls > 1 {
		return true, "registered for Kingdom Attack, wait for the end of battle", nil
	}
	return false, "", nil
}

type env struct {
	db    *gorm.DB
	cache cache.Cache
	svc   *Service
	rolls *testutil.Rolls
}

func newEnv(t *testing.T, cfg config.BattleConfig) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	sched := scheduler.New(nil)
	t.Cleanup(sched.Stop)
	if cfg.MinHPRatio == 0 {
		cfg.MinHPRatio = 0.3
	}
	svc := NewService(db, c, sched, cfg, nil)
	rolls := testutil.NewRolls(nil, nil)
	svc.SetRoller(rolls)
	return &env{db: db, cache: c, svc: svc, rolls: rolls}
}

func longCfg(maxRounds int) config.BattleConfig {
	return config.BattleConfig{MaxRounds: maxRounds, RoundTimeout: time.Hour, ChallengeTTL: time.Minute}
}

func TestStartPvE_NeedsHP(t *testing.T) {
	e := newEnv(t, longCfg(10))
	u := testutil.CreateUser(t, e.db, "tired", "north", func(u *model.User) { u.CurrentHP = 29 })
	_, err := e.svc.StartPvE(context.Background(), u.ID)
	assert.ErrorIs(t, err, gameerr.ErrResource)

	res, err := gameerr.ToResult(err)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "30%")
}

func TestStartPvE_OneBattlePerPlayer(t *testing.T) {
	e := newEnv(t, longCfg(10))
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "eager", "north")

	b, err := e.svc.StartPvE(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseEncounter, b.Phase)
	assert.False(t, b.Deadline.IsZero())

	_, err = e.svc.StartPvE(ctx, u.ID)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)

	id, busy, err := e.svc.InBattle(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, busy)
	assert.Equal(t, b.ID, id)
}

func TestStartPvE_BlockedByWar(t *testing.T) {
	e := newEnv(t, longCfg(10))
	u := testutil.CreateUser(t, e.db, "soldier", "north")
	e.svc.SetBlocker(fakeBlocker{blocked: map[int64]bool{u.ID: true}})

	_, err := e.svc.StartPvE(context.Background(), u.ID)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)
	assert.Contains(t, err.Error(), "Kingdom Attack")
}

func TestStartPvE_WarSignupDuringStart(t *testing.T) {
	e := newEnv(t, longCfg(10))
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "torn", "north")
	calls := 0
	e.svc.SetBlocker(lateSignup{calls: &calls})

	_, err := e.svc.StartPvE(ctx, u.ID)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)
	assert.Equal(t, 2, calls, "checked again after taking the lock")

	_, busy, err := e.svc.InBattle(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, busy)
	assert.Zero(t, e.svc.Running())
}

func TestService_FailedFleePersists(t *testing.T) {
	e := newEnv(t, longCfg(10))
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "runner", "north")
	// normal tier, level +0, first name; then the flee roll fails
	e.rolls.Push([]float64{0.6, 0.99}, 2, 0)

	b, err := e.svc.StartPvE(ctx, u.ID)
	require.NoError(t, err)
	m := b.Monster.Stats

	b, out, err := e.svc.Flee(ctx, b.ID, u.ID)
	require.NoError(t, err)
	want := formula.Damage(m.Strength, m.Agility, u.Armor, 1.0)
	assert.False(t, out.Escaped)
	assert.Equal(t, want, out.Damage)
	assert.Equal(t, u.CurrentHP-want, b.P1.HP)

	var rec model.BattleRecord
	require.NoError(t, e.db.First(&rec, "id = ?", b.ID).Error)
	assert.Equal(t, u.CurrentHP-want, rec.Player1HP)
	assert.Equal(t, string(PhaseAttackSelection), rec.Phase)

	_, _, err = e.svc.Flee(ctx, b.ID, u.ID)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)
}

func TestService_WinSettlesOnce(t *testing.T) {
	e := newEnv(t, longCfg(10))
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "slayer", "north", func(u *model.User) { u.Strength = 300 })
	e.rolls.Push([]float64{0.6, 0.1, 0.99, 0.99}, 2, 0, 1, 1)

	var events []hook.BattleFinishedEvent
	hc := hook.NewHookCenter()
	hc.Register(hook.BattleFinished, 0, "test", func(_ context.Context, _ string, d any) (any, error) {
		events = append(events, d.(hook.BattleFinishedEvent))
		return d, nil
	})
	e.svc.SetHooks(hc)

	b, err := e.svc.StartPvE(ctx, u.ID)
	require.NoError(t, err)
	_, err = e.svc.Fight(ctx, b.ID, u.ID)
	require.NoError(t, err)
	_, err = e.svc.ChooseAttack(ctx, b.ID, u.ID, combat.AttackPower)
	require.NoError(t, err)
	b, err = e.svc.ChooseDodge(ctx, b.ID, u.ID, combat.DirLeft)
	require.NoError(t, err)

	require.Equal(t, PhaseFinished, b.Phase)
	assert.Equal(t, ResultWon, b.Result)
	assert.Zero(t, e.svc.Running())

	got, err := player.Load(e.db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PvEWins)
	assert.Equal(t, int64(model.StartMoney)+b.MoneyGained, got.Money)
	assert.Equal(t, b.ExpGained, got.Experience)

	_, busy, err := e.svc.InBattle(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, busy)

	_, err = e.svc.ChooseAttack(ctx, b.ID, u.ID, combat.AttackPower)
	assert.ErrorIs(t, err, gameerr.ErrConsistency, "finished battles accept nothing")
	got, _ = player.Load(e.db, u.ID)
	assert.Equal(t, 1, got.PvEWins)

	archived, err := e.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultWon, archived.Result)
	assert.Len(t, archived.Log, 1)

	require.Len(t, events, 1)
	assert.Equal(t, b.ID, events[0].BattleID)
}

func TestService_LossFloorsHPAtOne(t *testing.T) {
	e := newEnv(t, longCfg(10))
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "frail", "north", func(u *model.User) {
		u.HP = 10
		u.CurrentHP = 5
	})
	// strong monster, flee fails, free hit knocks the player out
	e.rolls.Push([]float64{0.9, 0.99}, 2, 0)

	b, err := e.svc.StartPvE(ctx, u.ID)
	require.NoError(t, err)
	b, _, err = e.svc.Flee(ctx, b.ID, u.ID)
	require.NoError(t, err)
	require.Equal(t, ResultLost, b.Result)

	got, err := player.Load(e.db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentHP)
	assert.Zero(t, got.PvEWins)
}

func TestService_RepeatedDodgeRejected(t *testing.T) {
	e := newEnv(t, longCfg(10))
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "careful", "north")

	b, err := e.svc.StartPvE(ctx, u.ID)
	require.NoError(t, err)
	_, err = e.svc.Fight(ctx, b.ID, u.ID)
	require.NoError(t, err)
	_, err = e.svc.ChooseAttack(ctx, b.ID, u.ID, combat.AttackNormal)
	require.NoError(t, err)
	after, err := e.svc.ChooseDodge(ctx, b.ID, u.ID, combat.DirCenter)
	require.NoError(t, err)
	require.Equal(t, 2, after.Round)

	_, err = e.svc.ChooseDodge(ctx, b.ID, u.ID, combat.DirCenter)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)

	again, err := e.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, after.P1.HP, again.P1.HP)
	assert.Equal(t, after.P2.HP, again.P2.HP)
	assert.Len(t, again.Log, len(after.Log))
}

func TestService_TimeoutsDriveBattleToEnd(t *testing.T) {
	e := newEnv(t, config.BattleConfig{MaxRounds: 1, RoundTimeout: 20 * time.Millisecond, ChallengeTTL: time.Minute})
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "afk", "north")

	b, err := e.svc.StartPvE(ctx, u.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.svc.Running() == 0 }, 3*time.Second, 10*time.Millisecond)
	done, err := e.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, done.Phase)
	assert.Equal(t, ResultLost, done.Result)
	assert.Equal(t, EndTimeout, done.EndReason)
	last := done.Log[len(done.Log)-1]
	require.Equal(t, LogRound, last.Event)
	assert.Equal(t, combat.AttackNormal, last.Strikes[0].AttackType)
}

func TestService_DuelDraw(t *testing.T) {
	e := newEnv(t, longCfg(1))
	ctx := context.Background()
	a := testutil.CreateUser(t, e.db, "a", "north")
	c := testutil.CreateUser(t, e.db, "c", "west")

	_, err := e.svc.Challenge(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, gameerr.ErrValidation)

	ch, err := e.svc.Challenge(ctx, a.ID, c.ID)
	require.NoError(t, err)
	assert.Len(t, e.svc.Challenges(c.ID), 1)

	_, err = e.svc.Accept(ctx, ch.ID, a.ID)
	assert.ErrorIs(t, err, gameerr.ErrValidation, "only the challenged player accepts")

	b, err := e.svc.Accept(ctx, ch.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAttackSelection, b.Phase)
	assert.Empty(t, e.svc.Challenges(c.ID))

	_, err = e.svc.StartPvE(ctx, a.ID)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)

	for _, uid := range []int64{a.ID, c.ID} {
		_, err = e.svc.ChooseAttack(ctx, b.ID, uid, combat.AttackNormal)
		require.NoError(t, err)
	}
	for _, uid := range []int64{a.ID, c.ID} {
		b, err = e.svc.ChooseDodge(ctx, b.ID, uid, combat.DirLeft)
		require.NoError(t, err)
	}
	assert.Equal(t, ResultDraw, b.Result)

	for _, uid := range []int64{a.ID, c.ID} {
		got, err := player.Load(e.db, uid)
		require.NoError(t, err)
		assert.Equal(t, int64(model.StartMoney), got.Money)
		assert.Zero(t, got.Experience)
		assert.Zero(t, got.PvPWins)
		assert.Zero(t, got.PvPLosses)
	}
}

func TestService_ChallengeExpires(t *testing.T) {
	e := newEnv(t, config.BattleConfig{MaxRounds: 3, RoundTimeout: time.Hour, ChallengeTTL: 20 * time.Millisecond})
	ctx := context.Background()
	a := testutil.CreateUser(t, e.db, "a", "north")
	c := testutil.CreateUser(t, e.db, "c", "west")

	ch, err := e.svc.Challenge(ctx, a.ID, c.ID)
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = e.svc.Accept(ctx, ch.ID, c.ID)
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
}

func TestService_Decline(t *testing.T) {
	e := newEnv(t, longCfg(3))
	ctx := context.Background()
	a := testutil.CreateUser(t, e.db, "a", "north")
	c := testutil.CreateUser(t, e.db, "c", "west")
	x := testutil.CreateUser(t, e.db, "x", "east")

	ch, err := e.svc.Challenge(ctx, a.ID, c.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, e.svc.Decline(ch.ID, x.ID), gameerr.ErrValidation)
	require.NoError(t, e.svc.Decline(ch.ID, c.ID))
	_, err = e.svc.Accept(ctx, ch.ID, c.ID)
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
}

func TestService_Recover(t *testing.T) {
	e := newEnv(t, longCfg(10))
	ctx := context.Background()
	u := testutil.CreateUser(t, e.db, "phoenix", "north")
	b, err := e.svc.StartPvE(ctx, u.ID)
	require.NoError(t, err)

	sched := scheduler.New(nil)
	t.Cleanup(sched.Stop)
	restarted := NewService(e.db, e.cache, sched, longCfg(10), nil)
	restarted.SetRoller(testutil.NewRolls(nil, nil))
	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, sched.Has(timeoutTask(b.ID)))

	got, err := restarted.Fight(ctx, b.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAttackSelection, got.Phase)
}

func TestService_UnknownBattle(t *testing.T) {
	e := newEnv(t, longCfg(10))
	_, err := e.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
	_, err = e.svc.Fight(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, gameerr.ErrNotFound)
}
