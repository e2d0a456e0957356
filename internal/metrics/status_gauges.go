package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/digkill/photoremix/internal/models"
)

const statusGaugeInterval = 30 * time.Second

type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.GenerationStatus]int, error)
}

// RunStatusGauges refreshes AssetsByStatus until ctx is cancelled.
func RunStatusGauges(ctx context.Context, counter StatusCounter, log *slog.Logger) {
	ticker := time.NewTicker(statusGaugeInterval)
	defer ticker.Stop()

	UpdateStatusGauges(ctx, counter, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			UpdateStatusGauges(ctx, counter, log)
		}
	}
}

func UpdateStatusGauges(ctx context.Context, counter StatusCounter, log *slog.Logger) {
	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		log.Error("update status gauges", "err", err)
		return
	}
	for _, status := range []models.GenerationStatus{
		models.GenerationPending,
		models.GenerationProcessing,
		models.GenerationCompleted,
		models.GenerationFailed,
	} {
		AssetsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
