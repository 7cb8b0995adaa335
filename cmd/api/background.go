package main

import (
	"context"
	"time"
)

// reconcilePendingPayments re-checks stale PENDING transactions with their
// gateways until ctx is cancelled.
func (app *application) reconcilePendingPayments(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(app.config.reconcile.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, app.config.reconcile.interval)
				if _, err := app.checkout.ReconcilePending(runCtx, app.config.reconcile.after, app.config.reconcile.batch); err != nil {
					app.logger.Errorf("Error reconciling pending payments: %v", err)
				}
				cancel()
			}
		}
	}()
}
