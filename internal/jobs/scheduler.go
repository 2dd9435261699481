package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const purgeTimeout = time.Minute

// AuditPurger deletes audit entries older than a cutoff.
type AuditPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Scheduler struct {
	cron      *cron.Cron
	audit     AuditPurger
	schedule  string
	retention time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewScheduler(audit AuditPurger, schedule string, retention time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		audit:     audit,
		schedule:  schedule,
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// Start registers the purge job. A non-positive retention disables it.
func (s *Scheduler) Start() error {
	if s.audit == nil || s.retention <= 0 {
		s.log.Info().Msg("audit purge disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.purgeAuditLogs); err != nil {
		return fmt.Errorf("schedule audit purge %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.log.Info().
		Str("schedule", s.schedule).
		Dur("retention", s.retention).
		Msg("audit purge scheduled")
	return nil
}

// Stop waits for a running job to finish, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) purgeAuditLogs() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	if _, err := s.runPurge(ctx); err != nil {
		s.log.Error().Err(err).Msg("audit purge failed")
	}
}

func (s *Scheduler) runPurge(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.audit.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("audit logs purged")
	return deleted, nil
}
