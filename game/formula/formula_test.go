package formula

import (
	"testing"

	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/stretchr/testify/assert"
)

func TestExperienceForLevel(t *testing.T) {
	assert.Equal(t, int64(100), ExperienceForLevel(1))
	assert.Equal(t, int64(282), ExperienceForLevel(2))
	assert.Equal(t, int64(519), ExperienceForLevel(3))
	assert.Equal(t, int64(3162), ExperienceForLevel(10))
}

func TestDamage_PowerScenario(t *testing.T) {
	// (30 + 5) * 1.3 - 8 = 37.5
	assert.Equal(t, 38, Damage(30, 10, 10, 1.3))
}

func TestDamage_Plain(t *testing.T) {
	// 10 + 5 - 8 = 7
	assert.Equal(t, 7, Damage(10, 10, 10, 1.0))
}

func TestDamage_FloorIsTenPercent(t *testing.T) {
	// raw 15, armor wipes it out, floor round(1.5) = 2
	assert.Equal(t, 2, Damage(10, 10, 500, 1.0))
	for _, armor := range []int{0, 5, 50, 1000} {
		for _, str := range []int{0, 1, 10, 99} {
			d := Damage(str, 10, armor, 1.0)
			assert.GreaterOrEqual(t, d, 0)
			raw := float64(str) + 5
			assert.GreaterOrEqual(t, float64(d), float64(int(0.1*raw+0.5))-0.0001)
		}
	}
}

func TestChances_Clamped(t *testing.T) {
	assert.Zero(t, CritChance(-5))
	assert.Zero(t, DodgeChance(0))
	assert.InDelta(t, 0.05, CritChance(10), 1e-9)
	assert.InDelta(t, MaxCritChance, CritChance(1000), 1e-9)
	assert.InDelta(t, MaxDodgeChance, DodgeChance(1000), 1e-9)
	assert.InDelta(t, 0.02, PerfectDodgeChance(10), 1e-9)
	assert.InDelta(t, MaxPerfectDodgeChance, PerfectDodgeChance(1000), 1e-9)

	prev := -1.0
	for agi := 0; agi <= 200; agi += 5 {
		c := CritChance(agi)
		assert.GreaterOrEqual(t, c, prev)
		prev = c
	}
}

func TestFleeChance(t *testing.T) {
	assert.InDelta(t, 0.6, FleeChance(10, 0), 1e-9)
	assert.InDelta(t, 0.7, FleeChance(15, 0), 1e-9)
	assert.InDelta(t, 0.5, FleeChance(10, -2), 1e-9)
	assert.InDelta(t, MaxFleeChance, FleeChance(100, 5), 1e-9)
	assert.InDelta(t, MinFleeChance, FleeChance(0, -20), 1e-9)
}

func TestBattleRewards(t *testing.T) {
	w := model.Snapshot{Strength: 10, Armor: 10, HP: 100, Agility: 10, Mana: 50}
	exp, money := BattleRewards(w, w)
	assert.Equal(t, int64(50), exp)
	assert.Equal(t, int64(25), money)

	weak := model.Snapshot{Strength: 1, HP: 5}
	exp, money = BattleRewards(w, weak)
	assert.Equal(t, int64(10), exp)
	assert.Equal(t, int64(5), money)

	exp, money = BattleRewards(model.Snapshot{}, w)
	assert.Equal(t, int64(50), exp)
	assert.Equal(t, int64(25), money)
}

func TestTotals(t *testing.T) {
	s := model.Snapshot{Strength: 3, Armor: 4, HP: 50, Agility: 5, Mana: 7}
	assert.Equal(t, 69, StatTotal(s))
	assert.Equal(t, 12, CombatTotal(s))
	assert.Equal(t, 8, AttackPower(s.Strength, s.Agility))
}
