package combat

import (
	"math"
	"math/rand"
	"sync"

	"github.com/kasuganosora/kingdomwar/server/game/formula"
)

const (
	CritMultiplier = 1.5
	GlancingChance = 0.15
	GlancingDamage = 2
)

// Roller is the randomness source used by combat. *rand.Rand satisfies it.
type Roller interface {
	Float64() float64
	Intn(n int) int
}

// RandomDirection draws one of the three directions uniformly.
func RandomDirection(r Roller) Direction {
	return Directions[r.Intn(len(Directions))]
}

// RandomAttackType draws one of the three attack types uniformly.
func RandomAttackType(r Roller) AttackType {
	return AttackTypes[r.Intn(len(AttackTypes))]
}

// Resolve rolls a random attack direction for the attacker and resolves it
// against the defender's dodge.
func Resolve(r Roller, attacker, defender Snapshot, at AttackType, dodge Direction) Strike {
	return ResolveAimed(r, attacker, defender, at, RandomDirection(r), dodge)
}

// ResolveAimed resolves an attack with a known direction.
//
// Roll order: hit, then crit, then perfect dodge. A miss rolls the plain
// crit chance, without the attack type's factor, and then the glancing chance.
func ResolveAimed(r Roller, attacker, defender Snapshot, at AttackType, aim, dodge Direction) Strike {
	s := Strike{AttackType: at, AttackDirection: aim, DodgeDirection: dodge, Outcome: OutcomeMiss}
	crit := formula.CritChance(attacker.Agility) * at.CritFactor()

	if aim != dodge || r.Float64() >= at.HitChance() {
		if r.Float64() < formula.CritChance(attacker.Agility) && r.Float64() < GlancingChance {
			s.Outcome = OutcomeGlancing
			s.Damage = GlancingDamage
		}
		return s
	}

	dmg := formula.Damage(attacker.Strength, attacker.Agility, defender.Armor, at.Multiplier())
	s.Outcome = OutcomeHit
	if r.Float64() < crit {
		dmg = int(math.Round(float64(dmg) * CritMultiplier))
		s.Outcome = OutcomeCrit
	}
	if r.Float64() < formula.PerfectDodgeChance(defender.Agility) {
		dmg = 0
		s.Outcome = OutcomePerfectDodge
	}
	s.Damage = dmg
	return s
}

// LockedRand is a Roller that can be shared between goroutines.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewLockedRand(seed int64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *LockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}
