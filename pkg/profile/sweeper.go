package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

// Sweeper runs Service.Sweep on a cron schedule.
type Sweeper struct {
	svc  *Service
	expr string
	now  func() time.Time
}

func NewSweeper(svc *Service, expr string) (*Sweeper, error) {
	if expr == "" {
		expr = "* * * * *"
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid sweep schedule %q", expr)
	}
	return &Sweeper{svc: svc, expr: expr, now: time.Now}, nil
}

// Next returns the first scheduled sweep strictly after ref.
func (s *Sweeper) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, ref, false)
}

// Run sweeps at every scheduled tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	logger.InfoCF("profile", "Buffer sweeper started", map[string]interface{}{"schedule": s.expr})
	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("next sweep: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if n := s.svc.Sweep(ctx); n > 0 {
			logger.InfoCF("profile", "Scheduled sweep flushed buffers", map[string]interface{}{"flushed": n})
		}
	}
}
