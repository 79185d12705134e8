package model

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// allModels lists every model to be auto-migrated.
var allModels = []interface{}{
	&User{},
	&Skill{},
	&UserSkill{},
	&BattleRecord{},
	&War{},
	&WarParticipation{},
	&AuditLog{},
}

// AutoMigrate creates or updates all tables in the given database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels...)
}

// IsUniqueViolation detects duplicate-key errors from common database drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate")
}
