package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"world-indexer.backend/internal/domain/repositories"
	"world-indexer.backend/internal/infrastructure/metrics"
	"world-indexer.backend/pkg/logger"
)

// MetricsRefreshJob periodically republishes gauges derived from stored
// state, so the metrics surface stays accurate across restarts and while
// the indexer is idle.
type MetricsRefreshJob struct {
	reader   repositories.WorldReader
	interval time.Duration
	stop     chan struct{}
}

func NewMetricsRefreshJob(reader repositories.WorldReader) *MetricsRefreshJob {
	return &MetricsRefreshJob{
		reader:   reader,
		interval: 30 * time.Second,
		stop:     make(chan struct{}),
	}
}

func (j *MetricsRefreshJob) Start(ctx context.Context) {
	logger.Info(ctx, "starting metrics refresh job", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "metrics refresh job stopped")
			return
		case <-j.stop:
			logger.Info(ctx, "metrics refresh job stopped")
			return
		case <-ticker.C:
			j.refresh(ctx)
		}
	}
}

func (j *MetricsRefreshJob) Stop() {
	close(j.stop)
}

func (j *MetricsRefreshJob) refresh(ctx context.Context) {
	models, err := j.reader.Models(ctx)
	if err != nil {
		logger.Warn(ctx, "metrics refresh: models", zap.Error(err))
		return
	}
	metrics.RegisteredModels.Set(float64(len(models)))

	cursors, err := j.reader.Cursors(ctx)
	if err != nil {
		logger.Warn(ctx, "metrics refresh: cursors", zap.Error(err))
		return
	}
	for _, c := range cursors {
		metrics.IndexedHead.Set(float64(c.Head))
	}
}
