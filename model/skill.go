package model

import "time"

// Skill is a castable ability from the shared catalogue.
type Skill struct {
	ID                int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string  `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Type              string  `gorm:"size:16;not null" json:"type"` // attack|defense|buff|debuff|heal
	ManaCost          int     `gorm:"not null" json:"mana_cost"`
	HealAmount        int     `gorm:"not null" json:"heal_amount"`
	DamageMultiplier  float64 `gorm:"not null" json:"damage_multiplier"`
	DefenseMultiplier float64 `gorm:"not null" json:"defense_multiplier"`
	StatusEffect      string  `gorm:"size:64" json:"status_effect"`
	Description       string  `gorm:"type:text" json:"description"`
}

// UserSkill records which skills a player has learned and how often they fired.
type UserSkill struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64      `gorm:"uniqueIndex:idx_user_skill;not null" json:"user_id"`
	SkillID   int64      `gorm:"uniqueIndex:idx_user_skill;not null" json:"skill_id"`
	Skill     Skill      `gorm:"foreignKey:SkillID" json:"skill"`
	TimesUsed int        `gorm:"not null" json:"times_used"`
	LastUsed  *time.Time `json:"last_used"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
