package model

import "time"

// Starting values for a freshly registered player.
const (
	StartMoney         = 100
	StartStrength      = 10
	StartArmor         = 10
	StartHP            = 100
	StartAgility       = 10
	StartMana          = 50
	StatPointsPerLevel = 3
)

// User is a player record. HP and Mana are the maxima; CurrentHP and
// CurrentMana are what the player has left.
type User struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Kingdom        string    `gorm:"index:idx_user_kingdom_active;size:16;not null" json:"kingdom"`
	Level          int       `gorm:"default:1" json:"level"`
	Experience     int64     `gorm:"not null" json:"experience"`
	FreeStatPoints int       `gorm:"not null" json:"free_stat_points"`
	Money          int64     `gorm:"not null" json:"money"`
	Strength       int       `gorm:"not null" json:"strength"`
	Armor          int       `gorm:"not null" json:"armor"`
	HP             int       `gorm:"not null" json:"hp"`
	CurrentHP      int       `gorm:"not null" json:"current_hp"`
	Agility        int       `gorm:"not null" json:"agility"`
	Mana           int       `gorm:"not null" json:"mana"`
	CurrentMana    int       `gorm:"not null" json:"current_mana"`
	PvPWins        int       `gorm:"not null" json:"pvp_wins"`
	PvPLosses      int       `gorm:"not null" json:"pvp_losses"`
	PvEWins        int       `gorm:"not null" json:"pve_wins"`
	LastActive     time.Time `gorm:"index:idx_user_kingdom_active" json:"last_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewUser returns a level-1 player of the given kingdom with starting stats.
func NewUser(name, kingdom string) *User {
	return &User{
		Name:        name,
		Kingdom:     kingdom,
		Level:       1,
		Money:       StartMoney,
		Strength:    StartStrength,
		Armor:       StartArmor,
		HP:          StartHP,
		CurrentHP:   StartHP,
		Agility:     StartAgility,
		Mana:        StartMana,
		CurrentMana: StartMana,
		LastActive:  time.Now().UTC(),
	}
}

// Snapshot is a frozen copy of a combatant's stats.
type Snapshot struct {
	Strength    int `json:"strength"`
	Armor       int `json:"armor"`
	HP          int `json:"hp"`
	CurrentHP   int `json:"current_hp"`
	Agility     int `json:"agility"`
	Mana        int `json:"mana"`
	CurrentMana int `json:"current_mana"`
	Level       int `json:"level"`
}

// Snapshot captures the user's current stats.
func (u *User) Snapshot() Snapshot {
	return Snapshot{
		Strength:    u.Strength,
		Armor:       u.Armor,
		HP:          u.HP,
		CurrentHP:   u.CurrentHP,
		Agility:     u.Agility,
		Mana:        u.Mana,
		CurrentMana: u.CurrentMana,
		Level:       u.Level,
	}
}
