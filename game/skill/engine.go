// Package skill picks and applies a combatant's skills before each round.
package skill

import (
	"sort"

	"github.com/kasuganosora/kingdomwar/server/game/combat"
	"github.com/kasuganosora/kingdomwar/server/game/formula"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
)

// Type is a skill category.
type Type string

const (
	TypeHeal    Type = "heal"
	TypeBuff    Type = "buff"
	TypeDebuff  Type = "debuff"
	TypeDefense Type = "defense"
	TypeAttack  Type = "attack"
)

// Priority orders casting within a round; lower goes first.
func (t Type) Priority() int {
	switch t {
	case TypeHeal:
		return 1
	case TypeBuff:
		return 2
	case TypeDebuff:
		return 3
	case TypeDefense:
		return 4
	case TypeAttack:
		return 5
	}
	return 99
}

func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeHeal, TypeBuff, TypeDebuff, TypeDefense, TypeAttack:
		return t, nil
	}
	return "", gameerr.Validation("unknown skill type %q", s)
}

// Trigger tuning.
const (
	LowHPRatio       = 0.5
	OpeningRounds    = 2
	AttackCastChance = 0.30
	PvPAttackChance  = 0.25
)

// Known is a learned skill as the engine sees it.
type Known struct {
	SkillID           int64   `json:"skill_id"`
	Name              string  `json:"name"`
	Type              Type    `json:"type"`
	ManaCost          int     `json:"mana_cost"`
	HealAmount        int     `json:"heal_amount"`
	DamageMultiplier  float64 `json:"damage_multiplier"`
	DefenseMultiplier float64 `json:"defense_multiplier"`
	StatusEffect      string  `json:"status_effect,omitempty"`
}

// FromModel converts a catalogue row. Unknown types are reported as errors.
func FromModel(s model.Skill) (Known, error) {
	t, err := ParseType(s.Type)
	if err != nil {
		return Known{}, err
	}
	return Known{
		SkillID:           s.ID,
		Name:              s.Name,
		Type:              t,
		ManaCost:          s.ManaCost,
		HealAmount:        s.HealAmount,
		DamageMultiplier:  s.DamageMultiplier,
		DefenseMultiplier: s.DefenseMultiplier,
		StatusEffect:      s.StatusEffect,
	}, nil
}

// State is what the engine needs about the caster and the opponent.
type State struct {
	Self     combat.Snapshot
	Opponent combat.Snapshot
	HP       int
	Mana     int
	Round    int
	PvP      bool
}

// Cast is one skill that fired.
type Cast struct {
	SkillID  int64  `json:"skill_id"`
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	ManaCost int    `json:"mana_cost"`
	Healed   int    `json:"healed,omitempty"`
	Damage   int    `json:"damage,omitempty"`
	Effect   string `json:"effect,omitempty"`
}

// Plan is the full effect of a combatant's pre-round casting. Nothing is
// applied until the caller commits it.
type Plan struct {
	Casts           []Cast  `json:"casts,omitempty"`
	ManaSpent       int     `json:"mana_spent"`
	Healed          int     `json:"healed"`
	Damage          int     `json:"damage"`
	ArmorMultiplier float64 `json:"armor_multiplier"`
}

// SkillIDs lists the cast skills, one entry per cast.
func (p Plan) SkillIDs() []int64 {
	ids := make([]int64, 0, len(p.Casts))
	for _, c := range p.Casts {
		ids = append(ids, c.SkillID)
	}
	return ids
}

// Evaluate walks the skills in priority order and casts every one whose
// trigger holds and whose mana cost still fits.
func Evaluate(r combat.Roller, skills []Known, st State) Plan {
	plan := Plan{ArmorMultiplier: 1}
	if len(skills) == 0 {
		return plan
	}
	ordered := make([]Known, len(skills))
	copy(ordered, skills)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Type.Priority() < ordered[j].Type.Priority()
	})

	hp, mana := st.HP, st.Mana
	maxHP := st.Self.HP
	for _, k := range ordered {
		if k.ManaCost > mana {
			continue
		}
		c := Cast{SkillID: k.SkillID, Name: k.Name, Type: k.Type, ManaCost: k.ManaCost, Effect: k.StatusEffect}
		switch k.Type {
		case TypeHeal:
			if !lowHP(hp, maxHP) {
				continue
			}
			c.Healed = min(k.HealAmount, maxHP-hp)
			hp += c.Healed
			plan.Healed += c.Healed
		case TypeBuff, TypeDebuff:
			if st.Round > OpeningRounds {
				continue
			}
		case TypeDefense:
			if !lowHP(hp, maxHP) {
				continue
			}
			m := k.DefenseMultiplier
			if m <= 0 {
				m = 1
			}
			plan.ArmorMultiplier *= m
		case TypeAttack:
			chance := AttackCastChance
			if st.PvP {
				chance = PvPAttackChance
			}
			if r.Float64() >= chance {
				continue
			}
			m := k.DamageMultiplier
			if m <= 0 {
				m = 1
			}
			c.Damage = formula.Damage(st.Self.Strength, st.Self.Agility, st.Opponent.Armor, m)
			plan.Damage += c.Damage
		default:
			continue
		}
		mana -= k.ManaCost
		plan.ManaSpent += k.ManaCost
		plan.Casts = append(plan.Casts, c)
	}
	return plan
}

func lowHP(hp, maxHP int) bool {
	return maxHP > 0 && float64(hp) < LowHPRatio*float64(maxHP)
}
