package war

import (
	"context"
	"fmt"
	"time"

	"github.com/kasuganosora/kingdomwar/server/scheduler"
	"go.uber.org/zap"
)

const scheduleTask = "war:schedule"

func announceTask(hour int) string { return fmt.Sprintf("war:announce:%02d", hour) }

func startTask(hour int) string { return fmt.Sprintf("war:start:%02d", hour) }

// lastDaily returns the most recent hour:00 in loc at or before now.
func lastDaily(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	t := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if t.After(local) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// StartJobs schedules today's wars and registers the daily triggers:
// tomorrow's wars at midnight, then per slot the announcement ahead of time
// and the resolution on the hour.
func (s *Service) StartJobs(ctx context.Context) error {
	if _, err := s.ScheduleDay(ctx, s.now()); err != nil {
		return fmt.Errorf("schedule today's wars: %w", err)
	}
	loc := s.cfg.Location()

	s.sched.AddDaily(scheduleTask, 0, 0, loc, func() {
		n, err := s.ScheduleDay(context.Background(), s.now())
		if err != nil {
			s.logger.Error("schedule daily wars failed", zap.Error(err))
			return
		}
		s.logger.Info("daily wars scheduled", zap.Int("wars", n))
	})

	for _, h := range s.cfg.Hours {
		hour := h
		at := time.Date(2000, 1, 2, hour, 0, 0, 0, loc).Add(-s.cfg.AnnounceLead)
		s.sched.AddDaily(announceTask(hour), at.Hour(), at.Minute(), loc, func() {
			slot := scheduler.NextDaily(s.now(), hour, 0, loc)
			if _, err := s.Announce(context.Background(), slot); err != nil {
				s.logger.Error("war announce failed", zap.Int("hour", hour), zap.Error(err))
			}
		})
		s.sched.AddDaily(startTask(hour), hour, 0, loc, func() {
			slot := lastDaily(s.now(), hour, loc)
			n := s.StartSlot(context.Background(), slot)
			s.logger.Info("war slot started", zap.Time("slot", slot), zap.Int("resolved", n))
		})
	}
	return nil
}
