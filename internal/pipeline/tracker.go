package pipeline

import (
	"context"
	"log/slog"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/storage"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// Tracker enforces first-trigger semantics. It delegates the atomic
// check-and-insert to storage and advances the per-threshold trigger
// watermark on every win. This is the only gate an order submission may
// rely on.
type Tracker struct {
	triggers *storage.TriggerRepo
	marks    *storage.WatermarkRepo
	logger   *slog.Logger
}

// NewTracker creates the tracker.
func NewTracker(triggers *storage.TriggerRepo, marks *storage.WatermarkRepo, logger *slog.Logger) *Tracker {
	return &Tracker{
		triggers: triggers,
		marks:    marks,
		logger:   logger.With("component", "tracker"),
	}
}

// Record attempts to record the first trigger for the trigger's
// (condition, threshold) key. Returns true iff this call won. Losing is not
// an error; the caller simply moves on.
func (t *Tracker) Record(ctx context.Context, trig types.Trigger) (bool, error) {
	first, err := t.triggers.TryRecordAtomic(ctx, trig)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	t.logger.Info("first trigger recorded",
		"token", trig.TokenID,
		"condition", trig.ConditionID,
		"threshold", trig.Threshold,
		"price", trig.Price,
	)

	if err := t.marks.Update(ctx, storage.StreamTriggers, formatThreshold(trig.Threshold), trig.TriggeredAt.UnixMilli()); err != nil {
		// Watermark lag is tolerable; the trigger row itself is durable.
		t.logger.Warn("trigger watermark update failed", "threshold", trig.Threshold, "error", err)
	}
	return true, nil
}
