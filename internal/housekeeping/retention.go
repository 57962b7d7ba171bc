// Package housekeeping runs periodic maintenance jobs: currently the
// NotificationLog retention sweep.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

// DefaultRetention is how long notification logs are kept.
const DefaultRetention = 14 * 24 * time.Hour

var logsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "relay_notification_logs_purged_total",
	Help: "Notification logs deleted by the retention sweep",
})

// LogPurger deletes logs last updated before cutoff.
type LogPurger interface {
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type Sweeper struct {
	store     LogPurger
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewSweeper(store LogPurger, retention time.Duration, logger *slog.Logger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		store:     store,
		retention: retention,
		timeout:   5 * time.Minute,
		now:       time.Now,
		logger:    logger.With("component", "RetentionSweeper"),
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep deletes every log older than the retention window.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.store.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("retention sweep failed: %w", err)
	}
	logsPurgedTotal.Add(float64(n))
	s.logger.Info("Retention sweep completed", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Schedule registers the sweep on a cron spec in loc and returns the
// unstarted scheduler.
func (s *Sweeper) Schedule(spec string, loc *time.Location) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Scheduled retention sweep failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return c, nil
}

// ValidateSchedule checks a standard five-field cron spec.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return fmt.Errorf("invalid cron schedule: cannot be empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", spec, err)
	}
	return nil
}
