package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/pkg/metrics"
)

// Sweeper periodically reports analysis rows stuck at completed=false
// past their processing window. It never repairs them: a stuck row
// means a pipeline run died mid-transaction or the lock expired, and
// resubmitting blindly could double-process. Operators decide.
type Sweeper struct {
	store      *Store
	staleAfter time.Duration
	interval   time.Duration
	logger     *zap.Logger
}

func NewSweeper(store *Store, staleAfter, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger,
	}
}

// Run blocks until ctx is done, sweeping at the configured interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	rows, err := s.store.StuckRows(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("stuck-analysis sweep failed", zap.Error(err))
		return
	}
	metrics.SetStuckAnalyses(int64(len(rows)))
	for _, row := range rows {
		s.logger.Warn("analysis row stuck incomplete",
			zap.String("call_sid", row.SID),
			zap.Time("created_at", row.CreatedAt),
		)
	}
}
