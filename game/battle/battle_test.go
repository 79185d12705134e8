package battle

import (
	"testing"
	"time"

	"github.com/kasuganosora/kingdomwar/server/game/combat"
	"github.com/kasuganosora/kingdomwar/server/game/formula"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func hero(id int64) *model.User {
	u := model.NewUser("hero", "north")
	u.ID = id
	u.Strength = 30
	return u
}

func rat() *Monster {
	return &Monster{
		Name:  "Rat",
		Tier:  TierWeak,
		Level: 1,
		Stats: combat.Snapshot{Strength: 20, Armor: 10, HP: 20, CurrentHP: 20, Agility: 10, Level: 1},
		Exp:   23,
		Money: 12,
	}
}

func TestPvE_FightAndWin(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	assert.Equal(t, PhaseEncounter, b.Phase)

	require.NoError(t, b.Fight(1))
	assert.Equal(t, PhaseAttackSelection, b.Phase)
	require.NoError(t, b.ChooseAttack(1, combat.AttackPower))
	assert.Equal(t, PhaseDodgeSelection, b.Phase)

	// monster dodges center, hero aims center; hit, no crit, no perfect dodge
	r := testutil.NewRolls([]float64{0.1, 0.99, 0.99}, []int{1, 1})
	require.NoError(t, b.ChooseDodge(r, 1, combat.DirLeft, t0))

	assert.Equal(t, PhaseFinished, b.Phase)
	assert.Equal(t, ResultWon, b.Result)
	assert.Equal(t, EndKnockout, b.EndReason)
	assert.Equal(t, int64(1), b.WinnerID)
	assert.Equal(t, int64(23), b.ExpGained)
	assert.Equal(t, int64(12), b.MoneyGained)
	require.Len(t, b.Log, 1)
	require.Len(t, b.Log[0].Strikes, 1, "a dead monster does not strike back")
	assert.Equal(t, 38, b.Log[0].Strikes[0].Damage)
	require.NotNil(t, b.FinishedAt)
}

func TestPvE_FailedFleeCostsFreeHit(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	// flee chance 0.6
	out, err := b.Flee(testutil.NewRolls([]float64{0.7}, nil), 1, t0)
	require.NoError(t, err)

	want := formula.Damage(20, 10, 10, 1.0)
	assert.False(t, out.Escaped)
	assert.Equal(t, want, out.Damage)
	assert.Equal(t, 100-want, b.P1.HP)
	assert.False(t, b.FleeAllowed)
	assert.Equal(t, PhaseAttackSelection, b.Phase)

	_, err = b.Flee(testutil.NewRolls([]float64{0.0}, nil), 1, t0)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)
	assert.Equal(t, 100-want, b.P1.HP, "rejected flee changes nothing")
}

func TestPvE_FleeFromAttackSelection(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	require.NoError(t, b.Fight(1))
	out, err := b.Flee(testutil.NewRolls([]float64{0.1}, nil), 1, t0)
	require.NoError(t, err)
	assert.True(t, out.Escaped)
	assert.Equal(t, PhaseFinished, b.Phase)
	assert.Equal(t, ResultFled, b.Result)
	assert.Zero(t, b.ExpGained)
}

func TestPvE_FleeBlockedMidRound(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	require.NoError(t, b.Fight(1))
	require.NoError(t, b.ChooseAttack(1, combat.AttackNormal))
	_, err := b.Flee(testutil.NewRolls(nil, nil), 1, t0)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)
}

func TestPvE_FailedFleeKnockout(t *testing.T) {
	u := hero(1)
	u.CurrentHP = 5
	b := NewPvE("b1", u, nil, rat(), 10, t0)
	_, err := b.Flee(testutil.NewRolls([]float64{0.99}, nil), 1, t0)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinished, b.Phase)
	assert.Equal(t, ResultLost, b.Result)
	assert.Zero(t, b.P1.HP)
}

func TestPvP_NoFleeing(t *testing.T) {
	b := NewPvP("d1", hero(1), nil, hero(2), nil, 10, t0)
	_, err := b.Flee(testutil.NewRolls(nil, nil), 1, t0)
	assert.ErrorIs(t, err, gameerr.ErrValidation)
	assert.ErrorIs(t, b.Fight(1), gameerr.ErrValidation)
}

func TestRepeatedDodgeIsRejected(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	require.NoError(t, b.Fight(1))
	require.NoError(t, b.ChooseAttack(1, combat.AttackNormal))
	require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 1, combat.DirCenter, t0))
	assert.Equal(t, PhaseAttackSelection, b.Phase)
	assert.Equal(t, 2, b.Round)

	hp1, hp2, logs := b.P1.HP, b.P2.HP, len(b.Log)
	err := b.ChooseDodge(testutil.NewRolls([]float64{0.0, 0.0, 0.0}, []int{1, 1}), 1, combat.DirCenter, t0)
	assert.ErrorIs(t, err, gameerr.ErrConsistency)
	assert.Equal(t, hp1, b.P1.HP)
	assert.Equal(t, hp2, b.P2.HP)
	assert.Len(t, b.Log, logs)
}

func TestRepeatedAttackIsRejected(t *testing.T) {
	b := NewPvP("d1", hero(1), nil, hero(2), nil, 10, t0)
	require.NoError(t, b.ChooseAttack(1, combat.AttackNormal))
	assert.Equal(t, PhaseAttackSelection, b.Phase, "waits for the second duelist")
	assert.ErrorIs(t, b.ChooseAttack(1, combat.AttackPower), gameerr.ErrConsistency)
	assert.ErrorIs(t, b.ChooseAttack(3, combat.AttackPower), gameerr.ErrNotFound)
	require.NoError(t, b.ChooseAttack(2, combat.AttackPower))
	assert.Equal(t, PhaseDodgeSelection, b.Phase)
}

func TestPvE_RoundLimitIsALoss(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 3, t0)
	require.NoError(t, b.Fight(1))
	rounds := []int{}
	for !b.Finished() {
		require.LessOrEqual(t, b.Round, b.MaxRounds)
		rounds = append(rounds, b.Round)
		require.NoError(t, b.ChooseAttack(1, combat.AttackNormal))
		require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 1, combat.DirLeft, t0))
	}
	assert.Equal(t, []int{1, 2, 3}, rounds)
	assert.Equal(t, 3, b.Round)
	assert.Equal(t, ResultLost, b.Result)
	assert.Equal(t, EndTimeout, b.EndReason)
}

func TestPvP_DrawAtRoundLimit(t *testing.T) {
	b := NewPvP("d1", hero(1), nil, hero(2), nil, 1, t0)
	require.NoError(t, b.ChooseAttack(1, combat.AttackNormal))
	require.NoError(t, b.ChooseAttack(2, combat.AttackNormal))
	require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 1, combat.DirLeft, t0))
	assert.Equal(t, PhaseDodgeSelection, b.Phase)
	require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 2, combat.DirLeft, t0))

	assert.Equal(t, PhaseFinished, b.Phase)
	assert.Equal(t, ResultDraw, b.Result)
	assert.Zero(t, b.WinnerID)
	assert.Zero(t, b.ExpGained)
	assert.Zero(t, b.MoneyGained)
}

func TestPvP_TimeoutWinnerByHP(t *testing.T) {
	weak := hero(2)
	weak.CurrentHP = 50
	b := NewPvP("d1", hero(1), nil, weak, nil, 1, t0)
	require.NoError(t, b.ChooseAttack(1, combat.AttackNormal))
	require.NoError(t, b.ChooseAttack(2, combat.AttackNormal))
	require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 1, combat.DirLeft, t0))
	require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 2, combat.DirLeft, t0))

	assert.Equal(t, ResultWon, b.Result)
	assert.Equal(t, EndTimeout, b.EndReason)
	assert.Equal(t, int64(1), b.WinnerID)
	assert.Equal(t, int64(TimeoutWinExp), b.ExpGained)
	assert.Equal(t, int64(TimeoutWinMoney), b.MoneyGained)
}

func TestPvP_Knockout(t *testing.T) {
	weak := hero(2)
	weak.CurrentHP = 10
	b := NewPvP("d1", hero(1), nil, weak, nil, 10, t0)
	require.NoError(t, b.ChooseAttack(1, combat.AttackPower))
	require.NoError(t, b.ChooseAttack(2, combat.AttackNormal))
	require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 1, combat.DirRight, t0))
	// p1 aims left into p2's left dodge and hits; p2 aims left, misses
	r := testutil.NewRolls([]float64{0.1, 0.99, 0.99}, []int{0, 0})
	require.NoError(t, b.ChooseDodge(r, 2, combat.DirLeft, t0))

	assert.Equal(t, ResultWon, b.Result)
	assert.Equal(t, EndKnockout, b.EndReason)
	assert.Equal(t, int64(1), b.WinnerID)
	exp, money := formula.BattleRewards(b.P1.Stats, b.P2.Stats)
	assert.Equal(t, exp, b.ExpGained)
	assert.Equal(t, money, b.MoneyGained)
}

func TestExpire_InjectsDefaults(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	applied, err := b.Expire(testutil.NewRolls(nil, nil), PhaseEncounter, 1, t0)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, PhaseAttackSelection, b.Phase)

	applied, err = b.Expire(testutil.NewRolls(nil, nil), PhaseAttackSelection, 1, t0)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, combat.AttackNormal, b.P1.Attack)
	assert.Equal(t, PhaseDodgeSelection, b.Phase)

	applied, err = b.Expire(testutil.NewRolls(nil, nil), PhaseDodgeSelection, 1, t0)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 2, b.Round)
	assert.Equal(t, PhaseAttackSelection, b.Phase)

	var defaults int
	for _, e := range b.Log {
		if e.Event == LogDefaulted {
			defaults++
		}
	}
	assert.Equal(t, 2, defaults)

	applied, err = b.Expire(testutil.NewRolls(nil, nil), PhaseDodgeSelection, 1, t0)
	require.NoError(t, err)
	assert.False(t, applied, "stale timeout is ignored")
}

func TestRecordRoundTrip(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	require.NoError(t, b.Fight(1))
	require.NoError(t, b.ChooseAttack(1, combat.AttackNormal))
	require.NoError(t, b.ChooseDodge(testutil.NewRolls(nil, nil), 1, combat.DirLeft, t0))

	rec, err := b.ToRecord()
	require.NoError(t, err)
	assert.Equal(t, string(PhaseAttackSelection), rec.Phase)
	assert.Nil(t, rec.Player2ID)

	got, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, b.Round, got.Round)
	assert.Equal(t, b.P1, got.P1)
	assert.Equal(t, b.Monster, got.Monster)
	assert.Len(t, got.Log, len(b.Log))
	require.NoError(t, got.ChooseAttack(1, combat.AttackPrecise), "restored machine accepts input")
}

func TestClone_Independent(t *testing.T) {
	b := NewPvE("b1", hero(1), nil, rat(), 10, t0)
	c := b.Clone()
	require.NoError(t, c.Fight(1))
	assert.Equal(t, PhaseEncounter, b.Phase)
	assert.Equal(t, PhaseAttackSelection, c.Phase)
}

func TestGenerateMonster(t *testing.T) {
	// weak tier, level offset +2, first name
	m := GenerateMonster(testutil.NewRolls([]float64{0.3}, []int{4, 0}), 5)
	assert.Equal(t, TierWeak, m.Tier)
	assert.Equal(t, 7, m.Level)
	assert.Equal(t, "Sickly Rat", m.Name)
	assert.Equal(t, 15, m.Stats.Strength)
	assert.Equal(t, 11, m.Stats.Armor)
	assert.Equal(t, 115, m.Stats.HP)
	assert.Equal(t, 9, m.Stats.Agility)
	assert.Equal(t, int64(32), m.Exp)
	assert.Equal(t, int64(19), m.Money)

	m = GenerateMonster(testutil.NewRolls([]float64{0.6}, []int{0, 0}), 1)
	assert.Equal(t, TierNormal, m.Tier)
	assert.Equal(t, 1, m.Level, "level never drops below 1")

	m = GenerateMonster(testutil.NewRolls([]float64{0.9}, []int{2, 3}), 4)
	assert.Equal(t, TierStrong, m.Tier)
	assert.Equal(t, "Dark Knight", m.Name)
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("dodge_selection")
	require.NoError(t, err)
	assert.Equal(t, PhaseDodgeSelection, p)
	_, err = ParsePhase("lobby")
	assert.ErrorIs(t, err, gameerr.ErrValidation)
}
