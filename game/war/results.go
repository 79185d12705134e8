package war

import (
	"context"
	"errors"
	"slices"

	"github.com/kasuganosora/kingdomwar/server/cache"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
	"gorm.io/gorm"
)

// UserResult is one player's view of a war.
type UserResult struct {
	WarID             int64              `json:"war_id"`
	Role              string             `json:"role"`
	Kingdom           string             `json:"kingdom"`
	AutoEnrolled      bool               `json:"auto_enrolled"`
	MoneyGained       int64              `json:"money_gained"`
	MoneyLost         int64              `json:"money_lost"`
	ExpGained         int64              `json:"exp_gained"`
	WarStatus         string             `json:"war_status"`
	BattleResults     []model.WaveResult `json:"battle_results"`
	TotalParticipants int                `json:"total_participants"`
	DefenseBuffed     bool               `json:"defense_buff_applied"`
}

// UserResult returns how the war went for one participant.
func (s *Service) UserResult(ctx context.Context, userID, warID int64) (*UserResult, error) {
	w, err := s.Get(ctx, warID)
	if err != nil {
		return nil, err
	}
	var p model.WarParticipation
	err = s.db.WithContext(ctx).Where("war_id = ? AND user_id = ?", warID, userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gameerr.NotFound("player %d did not take part in war %d", userID, warID)
	}
	if err != nil {
		return nil, err
	}
	return &UserResult{
		WarID:             w.ID,
		Role:              p.Role,
		Kingdom:           p.Kingdom,
		AutoEnrolled:      p.AutoEnrolled,
		MoneyGained:       p.MoneyGained,
		MoneyLost:         p.MoneyLost,
		ExpGained:         p.ExpGained,
		WarStatus:         w.Status,
		BattleResults:     w.BattleResults,
		TotalParticipants: squadSize(w),
		DefenseBuffed:     w.DefenseBuff > 1.0,
	}, nil
}

// WarSummary is the outcome of one war as shown in the war channel.
type WarSummary struct {
	WarID            int64              `json:"war_id"`
	DefendingKingdom string             `json:"defending_kingdom"`
	Status           string             `json:"status"`
	Attacked         bool               `json:"attacked"`
	Waves            []model.WaveResult `json:"waves"`
	Loot             map[string]int64   `json:"loot"`
}

// Summary describes the listed wars in order, skipping unknown ids.
func (s *Service) Summary(ctx context.Context, ids []int64) ([]WarSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var wars []model.War
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&wars).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.War, len(wars))
	for i := range wars {
		byID[wars[i].ID] = &wars[i]
	}
	out := make([]WarSummary, 0, len(wars))
	for _, id := range ids {
		w, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, WarSummary{
			WarID:            w.ID,
			DefendingKingdom: w.DefendingKingdom,
			Status:           w.Status,
			Attacked:         len(w.BattleResults) > 0,
			Waves:            w.BattleResults,
			Loot:             w.MoneyTransferred.Data(),
		})
	}
	return out, nil
}

// KingdomScore is one leaderboard row.
type KingdomScore struct {
	Kingdom string `json:"kingdom"`
	Wins    int64  `json:"wins"`
}

// KingdomRanking lists every kingdom by breach victories, best first.
func (s *Service) KingdomRanking(ctx context.Context) ([]KingdomScore, error) {
	out := make([]KingdomScore, 0, len(s.cfg.Kingdoms))
	for _, k := range s.cfg.Kingdoms {
		score, err := s.cache.ZScore(ctx, RankingKey, k)
		if err != nil && !cache.IsNotFound(err) {
			return nil, err
		}
		out = append(out, KingdomScore{Kingdom: k, Wins: int64(score)})
	}
	slices.SortStableFunc(out, func(a, b KingdomScore) int {
		switch {
		case a.Wins > b.Wins:
			return -1
		case a.Wins < b.Wins:
			return 1
		}
		return 0
	})
	return out, nil
}
