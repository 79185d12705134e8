// Package combat resolves a single attack against a dodge.
package combat

import (
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
)

// Snapshot is the frozen stat block a combatant fights with.
type Snapshot = model.Snapshot

// AttackType is the player's choice of swing.
type AttackType string

const (
	AttackPrecise AttackType = "precise"
	AttackPower   AttackType = "power"
	AttackNormal  AttackType = "normal"
)

// AttackTypes lists every attack type in menu order.
var AttackTypes = []AttackType{AttackPrecise, AttackPower, AttackNormal}

// ParseAttackType rejects anything but the three known attack types.
func ParseAttackType(s string) (AttackType, error) {
	switch t := AttackType(s); t {
	case AttackPrecise, AttackPower, AttackNormal:
		return t, nil
	}
	return "", gameerr.Validation("unknown attack type %q", s)
}

// HitChance is the roll an attack must beat after the direction matches.
func (t AttackType) HitChance() float64 {
	switch t {
	case AttackPrecise:
		return 0.9
	case AttackPower:
		return 0.7
	default:
		return 0.8
	}
}

// Multiplier scales the base damage of a landed hit.
func (t AttackType) Multiplier() float64 {
	switch t {
	case AttackPower:
		return 1.3
	case AttackPrecise:
		return 1.1
	default:
		return 1.0
	}
}

// CritFactor scales the attacker's crit chance.
func (t AttackType) CritFactor() float64 {
	if t == AttackPrecise {
		return 1.5
	}
	return 1.0
}

// Direction is where an attack is aimed or where a dodge goes.
type Direction string

const (
	DirLeft   Direction = "left"
	DirCenter Direction = "center"
	DirRight  Direction = "right"
)

var Directions = []Direction{DirLeft, DirCenter, DirRight}

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirLeft, DirCenter, DirRight:
		return d, nil
	}
	return "", gameerr.Validation("unknown direction %q", s)
}

// Outcome classifies a resolved strike.
type Outcome string

const (
	OutcomeMiss         Outcome = "miss"
	OutcomeGlancing     Outcome = "glancing"
	OutcomeHit          Outcome = "hit"
	OutcomeCrit         Outcome = "crit"
	OutcomePerfectDodge Outcome = "perfect_dodge"
)

// Strike is one resolved attack.
type Strike struct {
	AttackType      AttackType `json:"attack_type"`
	AttackDirection Direction  `json:"attack_direction"`
	DodgeDirection  Direction  `json:"dodge_direction"`
	Outcome         Outcome    `json:"outcome"`
	Damage          int        `json:"damage"`
}

// Landed reports whether the strike dealt damage.
func (s Strike) Landed() bool { return s.Damage > 0 }
