// Package player holds the persistent player record operations shared by
// battles and wars.
package player

import (
	"github.com/kasuganosora/kingdomwar/server/game/formula"
	"github.com/kasuganosora/kingdomwar/server/model"
)

// AddExperience credits exp to u and levels it up as far as the experience
// allows. Experience is spent on each level gained. Returns levels gained.
func AddExperience(u *model.User, exp int64) int {
	if exp <= 0 {
		return 0
	}
	u.Experience += exp
	gained := 0
	for {
		need := formula.ExperienceForLevel(u.Level + 1)
		if u.Experience < need {
			break
		}
		u.Experience -= need
		u.Level++
		u.FreeStatPoints += model.StatPointsPerLevel
		gained++
	}
	return gained
}

// AddMoney credits (or debits, for negative delta) money without going below zero.
func AddMoney(u *model.User, delta int64) {
	u.Money += delta
	if u.Money < 0 {
		u.Money = 0
	}
}

// SetHP sets current hp clamped to [floor, max].
func SetHP(u *model.User, hp, floor int) {
	if hp > u.HP {
		hp = u.HP
	}
	if hp < floor {
		hp = floor
	}
	u.CurrentHP = hp
}

// Restore refills hp and mana.
func Restore(u *model.User) {
	u.CurrentHP = u.HP
	u.CurrentMana = u.Mana
}
