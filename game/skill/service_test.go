package skill

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
	"github.com/kasuganosora/kingdomwar/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_SeedLearnLoadout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewService(db, nil)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx))
	require.NoError(t, svc.Seed(ctx), "seeding twice is harmless")
	var n int64
	db.Model(&model.Skill{}).Count(&n)
	assert.Equal(t, int64(len(Catalogue)), n)

	u := testutil.CreateUser(t, db, "alice", "north")
	require.NoError(t, svc.Learn(ctx, u.ID, "First Aid"))
	require.NoError(t, svc.Learn(ctx, u.ID, "Fireball"))
	require.NoError(t, svc.Learn(ctx, u.ID, "Fireball"))

	err := svc.Learn(ctx, u.ID, "Meteor")
	assert.ErrorIs(t, err, gameerr.ErrNotFound)

	ks, err := svc.Loadout(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, ks, 2)
	assert.Equal(t, TypeHeal, ks[0].Type)
	assert.Equal(t, TypeAttack, ks[1].Type)
}

func TestRecordUsage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewService(db, nil)
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx))
	u := testutil.CreateUser(t, db, "bob", "west")
	require.NoError(t, svc.Learn(ctx, u.ID, "Fireball"))
	ks, err := svc.Loadout(ctx, u.ID)
	require.NoError(t, err)
	id := ks[0].SkillID

	now := time.Now()
	require.NoError(t, RecordUsage(db, u.ID, []int64{id, id}, now))
	require.NoError(t, RecordUsage(db, u.ID, []int64{id}, now))

	var us model.UserSkill
	require.NoError(t, db.Where("user_id = ? AND skill_id = ?", u.ID, id).First(&us).Error)
	assert.Equal(t, 3, us.TimesUsed)
	require.NotNil(t, us.LastUsed)
}
