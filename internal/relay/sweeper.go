package relay

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically evicts expired table entries on a cron schedule.
type Sweeper struct {
	logger *slog.Logger
	table  *Table
	cron   *cron.Cron
}

// NewSweeper creates a Sweeper for the given table.
func NewSweeper(log *slog.Logger, table *Table) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		logger: log.With(slog.String("component", "relay_sweeper")),
		table:  table,
		cron:   cron.New(),
	}
}

// Start schedules sweeps according to spec (cron expression or @every
// descriptor) and begins running them.
func (s *Sweeper) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.table.Sweep() }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweeper started", slog.String("schedule", spec))
	return nil
}

// Stop halts scheduled sweeps; a sweep already in flight finishes.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
