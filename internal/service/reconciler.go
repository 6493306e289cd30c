package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/powersportsmart/catalog-worker/internal/metrics"
)

// Reconciler hides catalog records whose marketplace listings were
// deactivated. Deactivation is only observable through the changed-since
// feed; a full scan never reports it.
type Reconciler struct {
	productRepo ProductStore
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
}

func NewReconciler(productRepo ProductStore, log *zap.SugaredLogger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{productRepo: productRepo, log: log, metrics: m}
}

// Reconcile flips visibility off for every local record matching one of the
// inactive remote identifiers and returns how many records were hidden.
// Identifiers without a local record are silently ignored; the active flag is
// never touched.
func (rc *Reconciler) Reconcile(ctx context.Context, inactiveRemoteIDs []string) (int, error) {
	if len(inactiveRemoteIDs) == 0 {
		return 0, nil
	}

	hidden, err := rc.productRepo.HideByRemoteItemIDs(ctx, inactiveRemoteIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to hide inactive items: %w", err)
	}

	rc.metrics.AddHidden(hidden)
	rc.log.Infof("Reconciled %d inactive remote items, hid %d local records", len(inactiveRemoteIDs), hidden)
	return hidden, nil
}
