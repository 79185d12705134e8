// Package battle runs interactive PvE and PvP fights round by round.
package battle

import (
	"math"
	"time"

	"github.com/kasuganosora/kingdomwar/server/game/combat"
	"github.com/kasuganosora/kingdomwar/server/game/formula"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/game/skill"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/looplab/fsm"
)

type Mode string

const (
	ModePvE Mode = "pve"
	ModePvP Mode = "pvp_interactive"
)

// Result is how a finished battle ended for player one (PvE) or overall (PvP).
type Result string

const (
	ResultWon  Result = "won" // WinnerID holds the winner
	ResultLost Result = "lost"
	ResultFled Result = "fled"
	ResultDraw Result = "draw"
)

type EndReason string

const (
	EndKnockout EndReason = "knockout"
	EndTimeout  EndReason = "timeout"
	EndFlee     EndReason = "flee"
)

// Rewards granted for a PvP win decided on hp at the round limit.
const (
	TimeoutWinExp   = 15
	TimeoutWinMoney = 5
)

// Log event kinds.
const (
	LogRound      = "round"
	LogFleeFailed = "flee_failed"
	LogFled       = "fled"
	LogDefaulted  = "defaulted"
)

// Side is one combatant. A monster side has UserID 0.
type Side struct {
	UserID int64             `json:"user_id,omitempty"`
	Name   string            `json:"name"`
	Stats  combat.Snapshot   `json:"stats"`
	HP     int               `json:"hp"`
	Mana   int               `json:"mana"`
	Skills []skill.Known     `json:"skills,omitempty"`
	Attack combat.AttackType `json:"attack,omitempty"`
	Dodge  combat.Direction  `json:"dodge,omitempty"`
}

func (s *Side) alive() bool { return s.HP > 0 }

func (s *Side) damage(n int) { s.HP = max(0, s.HP-n) }

// CastLog is a skill cast by one side.
type CastLog struct {
	By string `json:"by"`
	skill.Cast
}

// StrikeLog is a resolved attack by one side.
type StrikeLog struct {
	By string `json:"by"`
	combat.Strike
}

// LogEntry is one line of the battle log.
type LogEntry struct {
	Round   int         `json:"round"`
	Event   string      `json:"event"`
	Casts   []CastLog   `json:"casts,omitempty"`
	Strikes []StrikeLog `json:"strikes,omitempty"`
	Damage  int         `json:"damage,omitempty"`
	HP1     int         `json:"hp1"`
	HP2     int         `json:"hp2"`
	Note    string      `json:"note,omitempty"`
}

// Battle is the full working state of one fight. All mutation goes through
// its methods, which the Service calls under the battle's lock.
type Battle struct {
	ID          string     `json:"id"`
	Mode        Mode       `json:"mode"`
	Phase       Phase      `json:"phase"`
	Round       int        `json:"round"`
	MaxRounds   int        `json:"max_rounds"`
	P1          Side       `json:"player1"`
	P2          Side       `json:"player2"`
	Monster     *Monster   `json:"monster,omitempty"`
	FleeAllowed bool       `json:"flee_allowed"`
	Log         []LogEntry `json:"log,omitempty"`
	Result      Result     `json:"result,omitempty"`
	EndReason   EndReason  `json:"end_reason,omitempty"`
	WinnerID    int64      `json:"winner_id,omitempty"`
	ExpGained   int64      `json:"exp_gained"`
	MoneyGained int64      `json:"money_gained"`
	Deadline    time.Time  `json:"deadline"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	machine *fsm.FSM
	usage   map[int64][]int64 // user id -> skills cast since the last commit
}

func playerSide(u *model.User, skills []skill.Known) Side {
	return Side{
		UserID: u.ID,
		Name:   u.Name,
		Stats:  u.Snapshot(),
		HP:     u.CurrentHP,
		Mana:   u.CurrentMana,
		Skills: skills,
	}
}

// NewPvE starts an encounter between u and m.
func NewPvE(id string, u *model.User, skills []skill.Known, m *Monster, maxRounds int, now time.Time) *Battle {
	b := &Battle{
		ID:          id,
		Mode:        ModePvE,
		Phase:       PhaseEncounter,
		Round:       1,
		MaxRounds:   maxRounds,
		P1:          playerSide(u, skills),
		P2:          Side{Name: m.Name, Stats: m.Stats, HP: m.Stats.HP},
		Monster:     m,
		FleeAllowed: true,
		CreatedAt:   now,
	}
	b.machine = newMachine(b.Phase)
	return b
}

// NewPvP starts a duel. Duels skip the encounter phase.
func NewPvP(id string, u1 *model.User, s1 []skill.Known, u2 *model.User, s2 []skill.Known, maxRounds int, now time.Time) *Battle {
	b := &Battle{
		ID:        id,
		Mode:      ModePvP,
		Phase:     PhaseAttackSelection,
		Round:     1,
		MaxRounds: maxRounds,
		P1:        playerSide(u1, s1),
		P2:        playerSide(u2, s2),
		CreatedAt: now,
	}
	b.machine = newMachine(b.Phase)
	return b
}

// Clone returns a copy that can be mutated without touching b.
func (b *Battle) Clone() *Battle {
	c := *b
	c.Log = append([]LogEntry(nil), b.Log...)
	if b.FinishedAt != nil {
		at := *b.FinishedAt
		c.FinishedAt = &at
	}
	c.usage = nil
	c.machine = newMachine(b.Phase)
	return &c
}

// Finished reports whether the battle has ended.
func (b *Battle) Finished() bool { return b.Phase == PhaseFinished }

// PlayerIDs lists the human participants.
func (b *Battle) PlayerIDs() []int64 {
	if b.Mode == ModePvP {
		return []int64{b.P1.UserID, b.P2.UserID}
	}
	return []int64{b.P1.UserID}
}

func (b *Battle) side(userID int64) (*Side, error) {
	if b.P1.UserID == userID {
		return &b.P1, nil
	}
	if b.Mode == ModePvP && b.P2.UserID == userID {
		return &b.P2, nil
	}
	return nil, gameerr.NotFound("player %d is not in battle %s", userID, b.ID)
}

func (b *Battle) sides() []*Side {
	if b.Mode == ModePvP {
		return []*Side{&b.P1, &b.P2}
	}
	return []*Side{&b.P1}
}

func (b *Battle) entry(event string) LogEntry {
	return LogEntry{Round: b.Round, Event: event}
}

func (b *Battle) appendLog(e LogEntry) {
	e.HP1, e.HP2 = b.P1.HP, b.P2.HP
	b.Log = append(b.Log, e)
}

func (b *Battle) recordUsage(userID int64, plan skill.Plan) {
	if userID == 0 || len(plan.Casts) == 0 {
		return
	}
	if b.usage == nil {
		b.usage = make(map[int64][]int64)
	}
	b.usage[userID] = append(b.usage[userID], plan.SkillIDs()...)
}

// Fight leaves the encounter phase and starts round one.
func (b *Battle) Fight(userID int64) error {
	if b.Mode != ModePvE {
		return gameerr.Validation("only monster encounters can be engaged")
	}
	if _, err := b.side(userID); err != nil {
		return err
	}
	if err := b.expect(PhaseEncounter); err != nil {
		return err
	}
	return b.fire(evFight)
}

// FleeOutcome describes a flee attempt.
type FleeOutcome struct {
	Escaped bool `json:"escaped"`
	Damage  int  `json:"damage"`
}

// Flee tries to escape a monster. A failed attempt costs one free monster
// hit and rules out any further attempt.
func (b *Battle) Flee(r combat.Roller, userID int64, now time.Time) (FleeOutcome, error) {
	if b.Mode != ModePvE {
		return FleeOutcome{}, gameerr.Validation("there is no fleeing from a duel")
	}
	if _, err := b.side(userID); err != nil {
		return FleeOutcome{}, err
	}
	if b.Phase != PhaseEncounter && (b.Phase != PhaseAttackSelection || b.P1.Attack != "") {
		return FleeOutcome{}, gameerr.Consistency("cannot flee during %s", b.Phase)
	}
	if !b.FleeAllowed {
		return FleeOutcome{}, gameerr.Consistency("flee is no longer possible in this battle")
	}

	chance := formula.FleeChance(b.P1.Stats.Agility, b.P1.Stats.Level-b.Monster.Level)
	if r.Float64() < chance {
		if err := b.fire(evFlee); err != nil {
			return FleeOutcome{}, err
		}
		b.appendLog(b.entry(LogFled))
		b.end(ResultFled, EndFlee, 0, now)
		return FleeOutcome{Escaped: true}, nil
	}

	m := b.P2.Stats
	dmg := formula.Damage(m.Strength, m.Agility, b.P1.Stats.Armor, 1.0)
	b.P1.damage(dmg)
	b.FleeAllowed = false
	e := b.entry(LogFleeFailed)
	e.Damage = dmg
	b.appendLog(e)

	if !b.P1.alive() {
		if err := b.fire(evFinish); err != nil {
			return FleeOutcome{}, err
		}
		b.end(ResultLost, EndKnockout, 0, now)
		return FleeOutcome{Damage: dmg}, nil
	}
	if b.Phase == PhaseEncounter {
		if err := b.fire(evFleeFailed); err != nil {
			return FleeOutcome{}, err
		}
	}
	return FleeOutcome{Damage: dmg}, nil
}

// ChooseAttack records the player's attack type for this round.
func (b *Battle) ChooseAttack(userID int64, at combat.AttackType) error {
	s, err := b.side(userID)
	if err != nil {
		return err
	}
	if err := b.expect(PhaseAttackSelection); err != nil {
		return err
	}
	if s.Attack != "" {
		return gameerr.Consistency("attack already chosen for round %d", b.Round)
	}
	s.Attack = at
	return b.advanceAttacks()
}

func (b *Battle) advanceAttacks() error {
	for _, s := range b.sides() {
		if s.Attack == "" {
			return nil
		}
	}
	return b.fire(evAttacksChosen)
}

// ChooseDodge records the player's dodge. Once every side has dodged the
// round is resolved.
func (b *Battle) ChooseDodge(r combat.Roller, userID int64, dir combat.Direction, now time.Time) error {
	s, err := b.side(userID)
	if err != nil {
		return err
	}
	if err := b.expect(PhaseDodgeSelection); err != nil {
		return err
	}
	if s.Dodge != "" {
		return gameerr.Consistency("dodge already chosen for round %d", b.Round)
	}
	s.Dodge = dir
	return b.advanceDodges(r, now)
}

func (b *Battle) advanceDodges(r combat.Roller, now time.Time) error {
	for _, s := range b.sides() {
		if s.Dodge == "" {
			return nil
		}
	}
	if err := b.fire(evDodgesChosen); err != nil {
		return err
	}
	return b.resolveRound(r, now)
}

// Expire applies the default choice for every side that has not acted in
// the given phase and round. It returns false when the battle has already
// moved on.
func (b *Battle) Expire(r combat.Roller, phase Phase, round int, now time.Time) (bool, error) {
	if b.Phase != phase || b.Round != round {
		return false, nil
	}
	switch phase {
	case PhaseEncounter:
		return true, b.fire(evFight)
	case PhaseAttackSelection:
		var names []string
		for _, s := range b.sides() {
			if s.Attack == "" {
				s.Attack = combat.AttackNormal
				names = append(names, s.Name)
			}
		}
		b.logDefaults(names, "normal attack")
		return true, b.advanceAttacks()
	case PhaseDodgeSelection:
		var names []string
		for _, s := range b.sides() {
			if s.Dodge == "" {
				s.Dodge = combat.DirCenter
				names = append(names, s.Name)
			}
		}
		b.logDefaults(names, "center dodge")
		return true, b.advanceDodges(r, now)
	}
	return false, nil
}

func (b *Battle) logDefaults(names []string, what string) {
	for _, n := range names {
		e := b.entry(LogDefaulted)
		e.Note = n + ": " + what
		b.appendLog(e)
	}
}

func (b *Battle) resolveRound(r combat.Roller, now time.Time) error {
	if b.Mode == ModePvP {
		b.resolvePvP(r)
	} else {
		b.resolvePvE(r)
	}

	switch {
	case b.Result != "":
	case b.Round >= b.MaxRounds:
		b.decideOnTime()
	default:
		b.Round++
		for _, s := range []*Side{&b.P1, &b.P2} {
			s.Attack, s.Dodge = "", ""
		}
		return b.fire(evNextRound)
	}
	if err := b.fire(evFinish); err != nil {
		return err
	}
	b.stamp(now)
	return nil
}

func armored(s combat.Snapshot, mult float64) combat.Snapshot {
	s.Armor = int(math.Round(float64(s.Armor) * mult))
	return s
}

func (b *Battle) applyPlan(self, opp *Side, plan skill.Plan, e *LogEntry) {
	self.HP = min(self.Stats.HP, self.HP+plan.Healed)
	self.Mana = max(0, self.Mana-plan.ManaSpent)
	opp.damage(plan.Damage)
	for _, c := range plan.Casts {
		e.Casts = append(e.Casts, CastLog{By: self.Name, Cast: c})
	}
	b.recordUsage(self.UserID, plan)
}

func (b *Battle) plan(r combat.Roller, self, opp *Side) skill.Plan {
	return skill.Evaluate(r, self.Skills, skill.State{
		Self:     self.Stats,
		Opponent: opp.Stats,
		HP:       self.HP,
		Mana:     self.Mana,
		Round:    b.Round,
		PvP:      b.Mode == ModePvP,
	})
}

// resolvePvE: skills, then the player strikes, then the monster answers if
// it is still standing.
func (b *Battle) resolvePvE(r combat.Roller) {
	e := b.entry(LogRound)
	defer func() { b.appendLog(e) }()

	plan := b.plan(r, &b.P1, &b.P2)
	b.applyPlan(&b.P1, &b.P2, plan, &e)
	if !b.P2.alive() {
		b.win(&b.P1, &b.P2, EndKnockout)
		return
	}

	hit := combat.Resolve(r, b.P1.Stats, b.P2.Stats, b.P1.Attack, combat.RandomDirection(r))
	b.P2.damage(hit.Damage)
	e.Strikes = append(e.Strikes, StrikeLog{By: b.P1.Name, Strike: hit})
	if !b.P2.alive() {
		b.win(&b.P1, &b.P2, EndKnockout)
		return
	}

	counter := combat.Resolve(r, b.P2.Stats, armored(b.P1.Stats, plan.ArmorMultiplier), combat.RandomAttackType(r), b.P1.Dodge)
	b.P1.damage(counter.Damage)
	e.Strikes = append(e.Strikes, StrikeLog{By: b.P2.Name, Strike: counter})
	if !b.P1.alive() {
		b.Result, b.EndReason = ResultLost, EndKnockout
	}
}

// resolvePvP: both sides cast and strike simultaneously from the same
// starting state.
func (b *Battle) resolvePvP(r combat.Roller) {
	e := b.entry(LogRound)
	defer func() { b.appendLog(e) }()

	plan1 := b.plan(r, &b.P1, &b.P2)
	plan2 := b.plan(r, &b.P2, &b.P1)
	b.applyPlan(&b.P1, &b.P2, plan1, &e)
	b.applyPlan(&b.P2, &b.P1, plan2, &e)

	s1 := combat.Resolve(r, b.P1.Stats, armored(b.P2.Stats, plan2.ArmorMultiplier), b.P1.Attack, b.P2.Dodge)
	s2 := combat.Resolve(r, b.P2.Stats, armored(b.P1.Stats, plan1.ArmorMultiplier), b.P2.Attack, b.P1.Dodge)
	b.P2.damage(s1.Damage)
	b.P1.damage(s2.Damage)
	e.Strikes = append(e.Strikes,
		StrikeLog{By: b.P1.Name, Strike: s1},
		StrikeLog{By: b.P2.Name, Strike: s2},
	)

	switch {
	case !b.P1.alive() && !b.P2.alive():
		b.Result, b.EndReason = ResultDraw, EndKnockout
	case !b.P2.alive():
		b.win(&b.P1, &b.P2, EndKnockout)
	case !b.P1.alive():
		b.win(&b.P2, &b.P1, EndKnockout)
	}
}

// decideOnTime ends a battle that ran out of rounds.
func (b *Battle) decideOnTime() {
	if b.Mode == ModePvE {
		b.Result, b.EndReason = ResultLost, EndTimeout
		return
	}
	switch {
	case b.P1.HP > b.P2.HP:
		b.win(&b.P1, &b.P2, EndTimeout)
	case b.P2.HP > b.P1.HP:
		b.win(&b.P2, &b.P1, EndTimeout)
	default:
		b.Result, b.EndReason = ResultDraw, EndTimeout
	}
}

func (b *Battle) win(winner, loser *Side, reason EndReason) {
	b.Result, b.EndReason = ResultWon, reason
	b.WinnerID = winner.UserID
	switch {
	case b.Mode == ModePvE:
		b.ExpGained, b.MoneyGained = b.Monster.Exp, b.Monster.Money
	case reason == EndTimeout:
		b.ExpGained, b.MoneyGained = TimeoutWinExp, TimeoutWinMoney
	default:
		b.ExpGained, b.MoneyGained = formula.BattleRewards(winner.Stats, loser.Stats)
	}
}

func (b *Battle) end(res Result, reason EndReason, winnerID int64, now time.Time) {
	b.Result, b.EndReason, b.WinnerID = res, reason, winnerID
	b.stamp(now)
}

func (b *Battle) stamp(now time.Time) {
	at := now
	b.FinishedAt = &at
	b.Deadline = time.Time{}
}
