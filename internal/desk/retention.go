package desk

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"dmdesk/internal/bus"
	"dmdesk/internal/metrics"
)

// SweepResult counts what one retention pass removed.
type SweepResult struct {
	ProcessedIDs  int
	Conversations int
	InboxItems    int
}

func (r SweepResult) Total() int {
	return r.ProcessedIDs + r.Conversations + r.InboxItems
}

// Sweep evicts processed ids, conversations and inbox items older than ttl.
func (s *Service) Sweep(ttl time.Duration) SweepResult {
	cutoff := s.now().Add(-ttl)

	s.intakeMu.Lock()
	res := SweepResult{
		ProcessedIDs:  s.gate.Evict(cutoff),
		Conversations: s.conversations.Evict(cutoff),
		InboxItems:    s.inbox.Evict(cutoff),
	}
	s.intakeMu.Unlock()

	metrics.Evicted.Add(int64(res.Total()))
	s.updateGauges()
	if res.Total() > 0 {
		s.logger.Info("retention sweep",
			"processed_ids", res.ProcessedIDs,
			"conversations", res.Conversations,
			"inbox_items", res.InboxItems,
		)
	}
	s.emit(bus.EventRetentionSwept, map[string]any{
		"processed_ids": res.ProcessedIDs,
		"conversations": res.Conversations,
		"inbox_items":   res.InboxItems,
	})
	return res
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper schedules svc.Sweep(ttl). Schedules accept five-field cron
// expressions, an optional seconds field and descriptors like "@every 10m".
func NewSweeper(svc *Service, schedule string, ttl time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("retention ttl must be positive")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(schedule, func() { svc.Sweep(ttl) }); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	return &Sweeper{cron: c, logger: logger.With("component", "retention")}, nil
}

func (sw *Sweeper) Start() {
	sw.cron.Start()
	sw.logger.Info("retention sweeper started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (sw *Sweeper) Stop() {
	<-sw.cron.Stop().Done()
	sw.logger.Info("retention sweeper stopped")
}
