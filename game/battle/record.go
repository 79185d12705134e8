package battle

import (
	"encoding/json"
	"fmt"

	"github.com/kasuganosora/kingdomwar/server/model"
	"gorm.io/datatypes"
)

// ToRecord serialises b for storage. The log goes to its own column.
func (b *Battle) ToRecord() (*model.BattleRecord, error) {
	state := *b
	state.Log = nil
	stateJSON, err := json.Marshal(&state)
	if err != nil {
		return nil, fmt.Errorf("marshal battle state: %w", err)
	}
	logJSON, err := json.Marshal(b.Log)
	if err != nil {
		return nil, fmt.Errorf("marshal battle log: %w", err)
	}

	rec := &model.BattleRecord{
		ID:          b.ID,
		Mode:        string(b.Mode),
		Phase:       string(b.Phase),
		Round:       b.Round,
		MaxRounds:   b.MaxRounds,
		Player1ID:   b.P1.UserID,
		Player1HP:   b.P1.HP,
		Player1Mana: b.P1.Mana,
		Player2HP:   b.P2.HP,
		Player2Mana: b.P2.Mana,
		State:       datatypes.JSON(stateJSON),
		Log:         datatypes.JSON(logJSON),
		Result:      string(b.Result),
		ExpGained:   b.ExpGained,
		MoneyGained: b.MoneyGained,
		FinishedAt:  b.FinishedAt,
		CreatedAt:   b.CreatedAt,
	}
	if b.Mode == ModePvP {
		p2 := b.P2.UserID
		rec.Player2ID = &p2
	}
	if b.WinnerID != 0 {
		w := b.WinnerID
		rec.WinnerID = &w
	}
	if !b.Deadline.IsZero() {
		d := b.Deadline
		rec.PhaseDeadline = &d
	}
	return rec, nil
}

// FromRecord rebuilds a battle from storage.
func FromRecord(rec *model.BattleRecord) (*Battle, error) {
	var b Battle
	if err := json.Unmarshal(rec.State, &b); err != nil {
		return nil, fmt.Errorf("unmarshal battle %s state: %w", rec.ID, err)
	}
	if len(rec.Log) > 0 {
		if err := json.Unmarshal(rec.Log, &b.Log); err != nil {
			return nil, fmt.Errorf("unmarshal battle %s log: %w", rec.ID, err)
		}
	}
	if _, err := ParsePhase(string(b.Phase)); err != nil {
		return nil, fmt.Errorf("battle %s: %w", rec.ID, err)
	}
	b.machine = newMachine(b.Phase)
	return &b, nil
}
