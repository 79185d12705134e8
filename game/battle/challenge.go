package battle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/kingdomwar/server/game/gameerr"
	"github.com/kasuganosora/kingdomwar/server/model"
	"go.uber.org/zap"
)

// Challenge is a pending duel invitation.
type Challenge struct {
	ID        string    `json:"id"`
	FromID    int64     `json:"from_id"`
	ToID      int64     `json:"to_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) ensureIdle(ctx context.Context, userID int64) error {
	_, busy, err := s.InBattle(ctx, userID)
	if err != nil {
		return err
	}
	if busy {
		return gameerr.Consistency("player %d is already in a battle", userID)
	}
	return nil
}

// Challenge invites toID to a duel. The invitation lapses after the
// configured challenge TTL.
func (s *Service) Challenge(ctx context.Context, fromID, toID int64) (*Challenge, error) {
	if fromID == toID {
		return nil, gameerr.Validation("you cannot challenge yourself")
	}
	for _, uid := range []int64{fromID, toID} {
		if _, err := s.eligible(ctx, uid); err != nil {
			return nil, err
		}
		if err := s.ensureIdle(ctx, uid); err != nil {
			return nil, err
		}
	}

	c := &Challenge{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		ExpiresAt: s.now().Add(s.cfg.ChallengeTTL),
	}
	s.mu.Lock()
	s.challenges[c.ID] = c
	s.mu.Unlock()
	s.sched.AddDelay(challengeTask(c.ID), s.cfg.ChallengeTTL, func() { s.dropChallenge(c.ID) })

	s.logger.Info("duel challenge issued", zap.String("challenge_id", c.ID), zap.Int64("from", fromID), zap.Int64("to", toID))
	cp := *c
	return &cp, nil
}

func (s *Service) dropChallenge(id string) {
	s.mu.Lock()
	delete(s.challenges, id)
	s.mu.Unlock()
}

// takeChallenge removes and returns a live challenge addressed to userID.
func (s *Service) takeChallenge(id string, userID int64) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok || !s.now().Before(c.ExpiresAt) {
		delete(s.challenges, id)
		return nil, gameerr.NotFound("challenge %s does not exist or has expired", id)
	}
	if c.ToID != userID {
		return nil, gameerr.Validation("challenge %s is not addressed to you", id)
	}
	delete(s.challenges, id)
	return c, nil
}

// Accept turns a challenge into a running duel. Both players are checked
// again since the invitation was made.
func (s *Service) Accept(ctx context.Context, challengeID string, userID int64) (*Battle, error) {
	c, err := s.takeChallenge(challengeID, userID)
	if err != nil {
		return nil, err
	}
	s.sched.Remove(challengeTask(c.ID))

	u1, err := s.eligible(ctx, c.FromID)
	if err != nil {
		return nil, err
	}
	u2, err := s.eligible(ctx, c.ToID)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if err := s.lockPlayers(ctx, id, u1.ID, u2.ID); err != nil {
		return nil, err
	}
	b, err := s.startDuel(ctx, id, u1, u2)
	if err != nil {
		s.unlockPlayers(ctx, id, u1.ID, u2.ID)
		return nil, err
	}
	s.logger.Info("duel started", zap.String("battle_id", id), zap.Int64("p1", u1.ID), zap.Int64("p2", u2.ID))
	return b.Clone(), nil
}

func (s *Service) startDuel(ctx context.Context, id string, u1, u2 *model.User) (*Battle, error) {
	s1, err := s.loadout(ctx, u1.ID)
	if err != nil {
		return nil, err
	}
	s2, err := s.loadout(ctx, u2.ID)
	if err != nil {
		return nil, err
	}
	b := NewPvP(id, u1, s1, u2, s2, s.cfg.MaxRounds, s.now())
	if err := s.start(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Decline withdraws or refuses a challenge. Either party may decline.
func (s *Service) Decline(challengeID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return gameerr.NotFound("challenge %s does not exist or has expired", challengeID)
	}
	if c.FromID != userID && c.ToID != userID {
		return gameerr.Validation("challenge %s is not yours", challengeID)
	}
	delete(s.challenges, challengeID)
	s.sched.Remove(challengeTask(challengeID))
	return nil
}

// Challenges lists live challenges involving userID.
func (s *Service) Challenges(userID int64) []Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Challenge
	for _, c := range s.challenges {
		if (c.FromID == userID || c.ToID == userID) && now.Before(c.ExpiresAt) {
			out = append(out, *c)
		}
	}
	return out
}
