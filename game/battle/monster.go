package battle

import (
	"github.com/kasuganosora/kingdomwar/server/game/combat"
)

// Tier is a monster strength class.
type Tier string

const (
	TierWeak   Tier = "weak"
	TierNormal Tier = "normal"
	TierStrong Tier = "strong"
)

type tierSpec struct {
	tier      Tier
	below     float64 // roll threshold
	statMod   float64
	rewardMod float64
	names     []string
}

var tiers = []tierSpec{
	{TierWeak, 0.5, 0.7, 0.8, []string{"Sickly Rat", "Lost Goblin", "Young Wolf", "Cave Bat"}},
	{TierNormal, 0.85, 1.0, 1.0, []string{"Goblin Raider", "Grey Wolf", "Bandit", "Skeleton"}},
	{TierStrong, 1.0, 1.3, 1.5, []string{"Orc Warlord", "Dire Bear", "Troll", "Dark Knight"}},
}

// Monster is generated fresh for every encounter.
type Monster struct {
	Name  string          `json:"name"`
	Tier  Tier            `json:"tier"`
	Level int             `json:"level"`
	Stats combat.Snapshot `json:"stats"`
	Exp   int64           `json:"exp"`
	Money int64           `json:"money"`
}

// GenerateMonster draws a monster around playerLevel.
func GenerateMonster(r combat.Roller, playerLevel int) *Monster {
	roll := r.Float64()
	spec := tiers[len(tiers)-1]
	for _, t := range tiers {
		if roll < t.below {
			spec = t
			break
		}
	}

	level := max(1, playerLevel+r.Intn(5)-2)
	l := float64(level)
	hp := int((60 + 15*l) * spec.statMod)
	return &Monster{
		Name:  spec.names[r.Intn(len(spec.names))],
		Tier:  spec.tier,
		Level: level,
		Stats: combat.Snapshot{
			Strength:  int((8 + 2*l) * spec.statMod),
			Armor:     int((6 + 1.5*l) * spec.statMod),
			HP:        hp,
			CurrentHP: hp,
			Agility:   int((5 + 1.2*l) * spec.statMod),
			Level:     level,
		},
		Exp:   int64((20 + 3*l) * spec.rewardMod),
		Money: int64((10 + 2*l) * spec.rewardMod),
	}
}
