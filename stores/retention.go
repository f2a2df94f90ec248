package stores

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule runs the sweep nightly at 03:30.
const DefaultRetentionSchedule = "30 3 * * *"

// RetentionSweeper periodically deletes conversations that have been idle
// longer than the TTL. History is append-only from the pipeline's side;
// this is the only component that removes turns.
type RetentionSweeper struct {
	Store    TurnStore
	TTL      time.Duration
	Schedule string
	Logger   *log.Logger

	cron *cron.Cron
}

func NewRetentionSweeper(store TurnStore, ttl time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		Store:    store,
		TTL:      ttl,
		Schedule: DefaultRetentionSchedule,
		Logger:   log.New(os.Stderr, "[retention] ", log.LstdFlags),
	}
}

// Start schedules the sweep. It fails fast on a bad schedule expression.
func (s *RetentionSweeper) Start() error {
	if s.Store == nil {
		return fmt.Errorf("retention sweeper requires a store")
	}
	if s.TTL <= 0 {
		return fmt.Errorf("retention TTL must be positive, got %v", s.TTL)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Schedule, s.Sweep); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.Schedule, err)
	}
	s.cron.Start()
	s.Logger.Printf("retention sweep scheduled (%s), TTL %v", s.Schedule, s.TTL)
	return nil
}

// Stop halts future sweeps; an in-flight sweep finishes.
func (s *RetentionSweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep deletes conversations idle past the TTL. Exported so hosts can run
// it on demand (e.g. from a settings action).
func (s *RetentionSweeper) Sweep() {
	cutoff := time.Now().Add(-s.TTL)
	deleted, err := s.Store.DeleteConversationsIdleSince(cutoff)
	if err != nil {
		s.Logger.Printf("sweep failed: %v", err)
		return
	}
	if deleted > 0 {
		s.Logger.Printf("deleted %d idle conversation(s)", deleted)
	}
}
