package playback

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultRetentionSchedule расписание очистки истории
const DefaultRetentionSchedule = "@hourly"

const purgeTimeout = 30 * time.Second

// PurgeExpired удаляет записи старше Retention. При нулевом Retention
// ничего не удаляет.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.config.Retention <= 0 {
		return 0, nil
	}
	return s.Purge(ctx, now.Add(-s.config.Retention))
}

// ScheduleRetention запускает очистку по расписанию cron. Возвращает nil,
// если Retention не задан. Остановка через Stop у результата.
func (s *Store) ScheduleRetention(spec string) (*cron.Cron, error) {
	if s.config.Retention <= 0 {
		return nil, nil
	}
	if spec == "" {
		spec = DefaultRetentionSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		if _, err := s.PurgeExpired(ctx, time.Now()); err != nil {
			s.logger.Warn("Ошибка очистки истории", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	s.logger.Info("Очистка истории по расписанию",
		zap.String("schedule", spec), zap.Duration("retention", s.config.Retention))
	return c, nil
}
