package model

import (
	"time"

	"gorm.io/datatypes"
)

// BattleRecord is the persisted form of an interactive battle. State holds
// the engine's serialized working set; the scalar columns mirror it for
// queries and read accessors.
type BattleRecord struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Mode          string         `gorm:"size:16;not null" json:"mode"`
	Phase         string         `gorm:"index:idx_battle_phase;size:24;not null" json:"phase"`
	Round         int            `gorm:"not null" json:"round"`
	MaxRounds     int            `gorm:"not null" json:"max_rounds"`
	Player1ID     int64          `gorm:"index:idx_battle_p1;not null" json:"player1_id"`
	Player2ID     *int64         `gorm:"index:idx_battle_p2" json:"player2_id"`
	Player1HP     int            `json:"player1_hp"`
	Player1Mana   int            `json:"player1_mana"`
	Player2HP     int            `json:"player2_hp"`
	Player2Mana   int            `json:"player2_mana"`
	State         datatypes.JSON `json:"state"`
	Log           datatypes.JSON `json:"log"`
	Result        string         `gorm:"size:16" json:"result"`
	WinnerID      *int64         `json:"winner_id"`
	ExpGained     int64          `json:"exp_gained"`
	MoneyGained   int64          `json:"money_gained"`
	PhaseDeadline *time.Time     `json:"phase_deadline"`
	FinishedAt    *time.Time     `json:"finished_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
