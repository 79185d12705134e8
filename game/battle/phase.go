package battle

import (
	"context"
	"errors"

	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/looplab/fsm"
)

// Phase is the step a battle is waiting in.
type Phase string

const (
	PhaseEncounter       Phase = "monster_encounter"
	PhaseAttackSelection Phase = "attack_selection"
	PhaseDodgeSelection  Phase = "dodge_selection"
	PhaseCalculating     Phase = "calculating"
	PhaseFinished        Phase = "finished"
)

func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseEncounter, PhaseAttackSelection, PhaseDodgeSelection, PhaseCalculating, PhaseFinished:
		return p, nil
	}
	return "", gameerr.Validation("unknown battle phase %q", s)
}

// Selecting reports whether the phase waits for player input.
func (p Phase) Selecting() bool {
	return p == PhaseEncounter || p == PhaseAttackSelection || p == PhaseDodgeSelection
}

// Machine events.
const (
	evFight         = "fight"
	evFleeFailed    = "flee_failed"
	evFlee          = "flee"
	evAttacksChosen = "attacks_chosen"
	evDodgesChosen  = "dodges_chosen"
	evNextRound     = "next_round"
	evFinish        = "finish"
)

func newMachine(initial Phase) *fsm.FSM {
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: evFight, Src: []string{string(PhaseEncounter)}, Dst: string(PhaseAttackSelection)},
			{Name: evFleeFailed, Src: []string{string(PhaseEncounter)}, Dst: string(PhaseAttackSelection)},
			{Name: evFlee, Src: []string{string(PhaseEncounter), string(PhaseAttackSelection)}, Dst: string(PhaseFinished)},
			{Name: evAttacksChosen, Src: []string{string(PhaseAttackSelection)}, Dst: string(PhaseDodgeSelection)},
			{Name: evDodgesChosen, Src: []string{string(PhaseDodgeSelection)}, Dst: string(PhaseCalculating)},
			{Name: evNextRound, Src: []string{string(PhaseCalculating)}, Dst: string(PhaseAttackSelection)},
			{Name: evFinish, Src: []string{
				string(PhaseEncounter),
				string(PhaseAttackSelection),
				string(PhaseCalculating),
			}, Dst: string(PhaseFinished)},
		},
		fsm.Callbacks{},
	)
}

// fire moves the machine and mirrors the new phase into b.Phase.
// A transition the machine refuses is a consistency rejection.
func (b *Battle) fire(event string) error {
	err := b.machine.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return gameerr.Consistency("cannot %s while battle is in %s", event, b.machine.Current())
	}
	b.Phase = Phase(b.machine.Current())
	return nil
}

// expect rejects the action unless the battle is in phase p.
func (b *Battle) expect(p Phase) error {
	if b.Phase != p {
		return gameerr.Consistency("battle is in %s, not %s", b.Phase, p)
	}
	return nil
}
