package model

import (
	"time"

	"gorm.io/datatypes"
)

// War status values.
const (
	WarScheduled = "scheduled"
	WarActive    = "active"
	WarFinished  = "finished"
)

// War participation roles.
const (
	RoleAttacker = "attacker"
	RoleDefender = "defender"
)

// Per-wave results.
const (
	WaveVictory = "victory"
	WaveDefeat  = "defeat"
	WaveTooLate = "too_late"
)

// SquadStats is the sum of a squad's snapshots.
type SquadStats struct {
	Strength int `json:"total_strength"`
	Armor    int `json:"total_armor"`
	HP       int `json:"total_hp"`
	Agility  int `json:"total_agility"`
	Mana     int `json:"total_mana"`
	Count    int `json:"count"`
}

// WaveResult is one entry of a war's battle-result log.
type WaveResult struct {
	Attacker       string  `json:"attacker"`
	Defender       string  `json:"defender"`
	Result         string  `json:"result"`
	DamageDealt    float64 `json:"damage_dealt,omitempty"`
	DamageReceived float64 `json:"damage_received,omitempty"`
	DefensePool    int     `json:"defense_pool,omitempty"`
}

// War is one scheduled siege slot against a single defending kingdom.
type War struct {
	ID                int64                                     `gorm:"primaryKey;autoIncrement" json:"id"`
	ScheduledAt       time.Time                                 `gorm:"uniqueIndex:idx_war_slot;not null" json:"scheduled_at"`
	DefendingKingdom  string                                    `gorm:"uniqueIndex:idx_war_slot;size:16;not null" json:"defending_kingdom"`
	Status            string                                    `gorm:"index:idx_war_status;size:16;not null" json:"status"`
	DefenseBuff       float64                                   `gorm:"not null" json:"defense_buff"`
	AttackingKingdoms datatypes.JSONSlice[string]               `json:"attacking_kingdoms"`
	AttackSquads      datatypes.JSONType[map[string][]int64]    `json:"attack_squads"`
	DefenseSquad      datatypes.JSONSlice[int64]                `json:"defense_squad"`
	AttackStats       datatypes.JSONType[map[string]SquadStats] `json:"attack_stats"`
	DefenseStats      datatypes.JSONType[SquadStats]            `json:"defense_stats"`
	BattleResults     datatypes.JSONSlice[WaveResult]           `json:"battle_results"`
	MoneyTransferred  datatypes.JSONType[map[string]int64]      `json:"money_transferred"`
	ExpDistributed    datatypes.JSONType[map[string]int64]      `json:"exp_distributed"`
	StartedAt         *time.Time                                `json:"started_at"`
	FinishedAt        *time.Time                                `json:"finished_at"`
	RestoredAt        *time.Time                                `json:"restored_at"`
	CreatedAt         time.Time                                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                                 `gorm:"autoUpdateTime" json:"updated_at"`
}

// Squads returns a copy of the attack squads map, never nil.
func (w *War) Squads() map[string][]int64 {
	out := make(map[string][]int64)
	for k, ids := range w.AttackSquads.Data() {
		out[k] = append([]int64(nil), ids...)
	}
	return out
}

// WarParticipation is one player's registration in one war. ActiveUserID
// equals UserID until the war is released and is NULL afterwards; its unique
// index lets the database reject a second simultaneous registration.
type WarParticipation struct {
	ID           int64                        `gorm:"primaryKey;autoIncrement" json:"id"`
	WarID        int64                        `gorm:"uniqueIndex:idx_war_user;not null" json:"war_id"`
	UserID       int64                        `gorm:"uniqueIndex:idx_war_user;index:idx_part_user;not null" json:"user_id"`
	ActiveUserID *int64                       `gorm:"uniqueIndex:idx_part_active" json:"-"`
	Kingdom      string                       `gorm:"size:16;not null" json:"kingdom"`
	Role         string                       `gorm:"size:16;not null" json:"role"`
	AutoEnrolled bool                         `gorm:"not null" json:"auto_enrolled"`
	Stats        datatypes.JSONType[Snapshot] `json:"player_stats"`
	MoneyGained  int64                        `gorm:"not null" json:"money_gained"`
	MoneyLost    int64                        `gorm:"not null" json:"money_lost"`
	ExpGained    int64                        `gorm:"not null" json:"exp_gained"`
	CreatedAt    time.Time                    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time                    `gorm:"autoUpdateTime" json:"updated_at"`
}
