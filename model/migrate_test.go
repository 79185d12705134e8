package model_test

import (
	"testing"
	"time"

	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	u := model.NewUser("Arslan", "north")
	require.NoError(t, db.Create(u).Error)
	assert.Greater(t, u.ID, int64(0))

	var found model.User
	require.NoError(t, db.First(&found, u.ID).Error)
	assert.Equal(t, "north", found.Kingdom)
	assert.Equal(t, int64(model.StartMoney), found.Money)
	assert.Equal(t, 1, found.Level)

	sk := &model.Skill{Name: "Mend", Type: "heal", ManaCost: 10, HealAmount: 25}
	require.NoError(t, db.Create(sk).Error)
	require.NoError(t, db.Create(&model.UserSkill{UserID: u.ID, SkillID: sk.ID}).Error)

	var us model.UserSkill
	require.NoError(t, db.Preload("Skill").Where("user_id = ?", u.ID).First(&us).Error)
	assert.Equal(t, "Mend", us.Skill.Name)

	rec := &model.BattleRecord{ID: "b-1", Mode: "pve_interactive", Phase: "monster_encounter", Round: 1, MaxRounds: 10, Player1ID: u.ID}
	require.NoError(t, db.Create(rec).Error)

	al := &model.AuditLog{TraceID: "trace-001", Action: "battle_finished", Subject: "battle:b-1", CreatedAt: time.Now()}
	require.NoError(t, db.Create(al).Error)
}

func TestZeroMoneyIsStored(t *testing.T) {
	db := testutil.SetupTestDB(t)
	u := model.NewUser("Broke", "west")
	u.Money = 0
	u.CurrentHP = 0
	require.NoError(t, db.Create(u).Error)

	var found model.User
	require.NoError(t, db.First(&found, u.ID).Error)
	assert.Equal(t, int64(0), found.Money)
	assert.Equal(t, 0, found.CurrentHP)
}

func TestWar_JSONColumnsRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	w := &model.War{
		ScheduledAt:       time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
		DefendingKingdom:  "east",
		Status:            model.WarScheduled,
		DefenseBuff:       1,
		AttackingKingdoms: datatypes.NewJSONSlice([]string{"north"}),
		AttackSquads:      datatypes.NewJSONType(map[string][]int64{"north": {1, 2}}),
		BattleResults: datatypes.NewJSONSlice([]model.WaveResult{
			{Attacker: "north", Defender: "east", Result: model.WaveDefeat, DamageDealt: 12.5},
		}),
	}
	require.NoError(t, db.Create(w).Error)

	var got model.War
	require.NoError(t, db.First(&got, w.ID).Error)
	assert.Equal(t, []string{"north"}, []string(got.AttackingKingdoms))
	assert.Equal(t, []int64{1, 2}, got.Squads()["north"])
	require.Len(t, got.BattleResults, 1)
	assert.Equal(t, model.WaveDefeat, got.BattleResults[0].Result)
}

func TestWar_SlotIsUnique(t *testing.T) {
	db := testutil.SetupTestDB(t)
	at := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&model.War{ScheduledAt: at, DefendingKingdom: "east", Status: model.WarScheduled, DefenseBuff: 1}).Error)
	err := db.Create(&model.War{ScheduledAt: at, DefendingKingdom: "east", Status: model.WarScheduled, DefenseBuff: 1}).Error
	require.Error(t, err)
	assert.True(t, model.IsUniqueViolation(err))
}

func TestWarParticipation_OneActivePerUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	uid := int64(7)
	require.NoError(t, db.Create(&model.WarParticipation{WarID: 1, UserID: uid, ActiveUserID: &uid, Kingdom: "north", Role: model.RoleAttacker}).Error)
	err := db.Create(&model.WarParticipation{WarID: 2, UserID: uid, ActiveUserID: &uid, Kingdom: "north", Role: model.RoleAttacker}).Error
	assert.True(t, model.IsUniqueViolation(err))

	// Released rows do not collide.
	require.NoError(t, db.Model(&model.WarParticipation{}).Where("war_id = ?", 1).Update("active_user_id", nil).Error)
	require.NoError(t, db.Create(&model.WarParticipation{WarID: 2, UserID: uid, ActiveUserID: &uid, Kingdom: "north", Role: model.RoleAttacker}).Error)
}
