// Package formula holds the stateless numbers behind combat, progression
// and rewards.
package formula

import (
	"math"

	"github.com/kasuganosora/kingdomwar/server/model"
)

// Chance caps.
const (
	MaxCritChance         = 0.30
	MaxDodgeChance        = 0.20
	MaxPerfectDodgeChance = 0.07

	MinFleeChance = 0.1
	MaxFleeChance = 0.9
)

// ExperienceForLevel is the experience needed to advance into level.
func ExperienceForLevel(level int) int64 {
	return int64(math.Floor(100 * math.Pow(float64(level), 1.5)))
}

// Damage returns the hit damage of an attacker with str/agi against targetArmor.
// The result never drops below 10% of the pre-mitigation value.
func Damage(str, agi, targetArmor int, mult float64) int {
	raw := (float64(str) + 0.5*float64(agi)) * mult
	mitigated := math.Round(raw - 0.8*float64(targetArmor))
	floor := math.Round(0.1 * raw)
	d := math.Max(mitigated, floor)
	if d < 0 {
		return 0
	}
	return int(d)
}

func clampChance(agi int, divisor, max float64) float64 {
	if agi <= 0 {
		return 0
	}
	return math.Min(float64(agi)/divisor, max)
}

func CritChance(agi int) float64 { return clampChance(agi, 200, MaxCritChance) }

func DodgeChance(agi int) float64 { return clampChance(agi, 300, MaxDodgeChance) }

func PerfectDodgeChance(agi int) float64 {
	return clampChance(agi, 500, MaxPerfectDodgeChance)
}

// FleeChance is the probability of escaping an encounter.
// levelDiff is player level minus monster level.
func FleeChance(agi, levelDiff int) float64 {
	c := 0.6 + 0.02*float64(agi-10) + 0.05*float64(levelDiff)
	return math.Max(MinFleeChance, math.Min(MaxFleeChance, c))
}

// StatTotal sums every combat stat of a snapshot.
func StatTotal(s model.Snapshot) int {
	return s.Strength + s.Armor + s.HP + s.Agility + s.Mana
}

// CombatTotal is the strength+armor+agility rating used to order and
// reward war squads.
func CombatTotal(s model.Snapshot) int {
	return s.Strength + s.Armor + s.Agility
}

// AttackPower is strength plus agility.
func AttackPower(strength, agility int) int { return strength + agility }

// BattleRewards returns the experience and money a winner earns for beating loser.
func BattleRewards(winner, loser model.Snapshot) (exp, money int64) {
	ratio := 1.0
	if wt := StatTotal(winner); wt > 0 {
		ratio = float64(StatTotal(loser)) / float64(wt)
	}
	exp = int64(math.Max(10, math.Round(50*ratio)))
	money = int64(math.Max(5, math.Round(25*ratio)))
	return exp, money
}
