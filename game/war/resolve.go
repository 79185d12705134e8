package war

import (
	"math"
	"sort"

	"github.com/kasuganosora/kingdomwar/server/game/formula"
	"github.com/kasuganosora/kingdomwar/server/model"
)

// Member is one fighter with the snapshot taken when they joined.
type Member struct {
	UserID   int64
	Kingdom  string
	Snapshot model.Snapshot
}

// Aggregate sums a squad's snapshots.
func Aggregate(members []Member) model.SquadStats {
	var s model.SquadStats
	for _, m := range members {
		s.Strength += m.Snapshot.Strength
		s.Armor += m.Snapshot.Armor
		s.HP += m.Snapshot.HP
		s.Agility += m.Snapshot.Agility
		s.Mana += m.Snapshot.Mana
		s.Count++
	}
	return s
}

func squadRating(s model.SquadStats) int { return s.Strength + s.Armor + s.Agility }

// DefenseBuff is the armour factor the defenders get against the given
// number of attacking kingdoms.
func DefenseBuff(attackers int, multiBuff float64) float64 {
	if attackers > 1 {
		return multiBuff
	}
	return 1.0
}

// Outcome is the result of resolving every wave of one war.
type Outcome struct {
	Order    []string           `json:"order"`
	Waves    []model.WaveResult `json:"waves"`
	Breached bool               `json:"breached"`
	Winner   string             `json:"winner,omitempty"`
}

// ResolveWaves sends the attacking kingdoms at the defenders weakest first.
// The defense pool is back to full for every wave. The first kingdom whose
// damage reaches the pool breaches and ends the war; kingdoms that never got
// their turn are too late.
func ResolveWaves(defender string, attack map[string]model.SquadStats, defense model.SquadStats, buff float64) Outcome {
	order := make([]string, 0, len(attack))
	for k := range attack {
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool {
		ri, rj := squadRating(attack[order[i]]), squadRating(attack[order[j]])
		if ri != rj {
			return ri < rj
		}
		return order[i] < order[j]
	})

	out := Outcome{Order: order}
	defArmor := float64(defense.Armor) * buff
	defPower := float64(formula.AttackPower(defense.Strength, defense.Agility))
	for i, k := range order {
		if out.Breached {
			out.Waves = append(out.Waves, model.WaveResult{Attacker: k, Defender: defender, Result: model.WaveTooLate})
			continue
		}
		a := attack[k]
		power := float64(formula.AttackPower(a.Strength, a.Agility))
		dealt := math.Max(power-defArmor, 0.1*power)
		received := math.Max(defPower-float64(a.Armor), 0.1*defPower)
		w := model.WaveResult{
			Attacker:       k,
			Defender:       defender,
			Result:         model.WaveDefeat,
			DamageDealt:    dealt,
			DamageReceived: received,
			DefensePool:    defense.HP,
		}
		if dealt >= float64(defense.HP) {
			w.Result = model.WaveVictory
			out.Breached = true
			out.Winner = order[i]
		}
		out.Waves = append(out.Waves, w)
	}
	return out
}

// Plunder computes what a breached kingdom's members lose. Every member loses
// lootRatio of their money into the pool; members outside the defense squad
// lose a further penaltyRatio of their original money, which is not pooled.
func Plunder(members []model.User, squad map[int64]bool, lootRatio, penaltyRatio float64) (pool int64, loot, penalty map[int64]int64) {
	loot = make(map[int64]int64, len(members))
	penalty = make(map[int64]int64)
	for _, u := range members {
		l := int64(math.Floor(float64(u.Money) * lootRatio))
		loot[u.ID] = l
		pool += l
		if !squad[u.ID] {
			p := int64(math.Floor(float64(u.Money) * penaltyRatio))
			if l+p > u.Money {
				p = u.Money - l
			}
			penalty[u.ID] = p
		}
	}
	return pool, loot, penalty
}

// Reward is one winner's share.
type Reward struct {
	Money int64
	Exp   int64
}

// Distribute splits the pool between the winners in proportion to their
// strength+armor+agility. Money is apportioned by largest remainder so the
// shares add up to the pool exactly. Experience is expPerLevel*share*level.
func Distribute(pool int64, winners []Member, expPerLevel float64) map[int64]Reward {
	out := make(map[int64]Reward, len(winners))
	if len(winners) == 0 {
		return out
	}
	total := 0
	for _, m := range winners {
		total += formula.CombatTotal(m.Snapshot)
	}
	shares := make([]float64, len(winners))
	for i, m := range winners {
		if total > 0 {
			shares[i] = float64(formula.CombatTotal(m.Snapshot)) / float64(total)
		} else {
			shares[i] = 1 / float64(len(winners))
		}
	}

	type frac struct {
		idx int
		rem float64
	}
	money := make([]int64, len(winners))
	fracs := make([]frac, len(winners))
	var given int64
	for i, sh := range shares {
		exact := float64(pool) * sh
		money[i] = int64(math.Floor(exact))
		given += money[i]
		fracs[i] = frac{i, exact - math.Floor(exact)}
	}
	sort.SliceStable(fracs, func(a, b int) bool { return fracs[a].rem > fracs[b].rem })
	for i := 0; given < pool && i < len(fracs); i++ {
		money[fracs[i].idx]++
		given++
	}

	for i, m := range winners {
		level := max(m.Snapshot.Level, 1)
		out[m.UserID] = Reward{
			Money: money[i],
			Exp:   int64(math.Round(expPerLevel * shares[i] * float64(level))),
		}
	}
	return out
}
