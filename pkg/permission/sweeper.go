package permission

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/logger"
)

// Sweeper periodically purges expired grants from a store. The schedule is
// a cron expression checked once per minute.
type Sweeper struct {
	store *Store
	expr  string
	gron  *gronx.Gronx
	log   *logrus.Entry
}

// DefaultSweepSchedule purges every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// NewSweeper creates a sweeper. An empty expression uses the default
// schedule; an invalid one is reported and replaced by the default.
func NewSweeper(store *Store, expr string) *Sweeper {
	log := logger.New("permission.sweeper")
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	g := gronx.New()
	if !g.IsValid(expr) {
		log.WithField("expr", expr).Warn("invalid sweep schedule, using default")
		expr = DefaultSweepSchedule
	}
	return &Sweeper{store: store, expr: expr, gron: g, log: log}
}

// Run blocks until the context is cancelled, purging on schedule.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.expr, now)
			if err != nil || !due {
				continue
			}
			if n := s.store.PurgeExpired(); n > 0 {
				s.log.WithField("purged", n).Info("expired grants removed")
			}
		}
	}
}
