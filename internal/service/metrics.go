package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_refunds_total",
		Help: "Compensating refund transactions issued",
	})

	duplicateWebhooksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_duplicate_payment_webhooks_total",
		Help: "Payment webhook deliveries deduplicated by payment key",
	})

	staleCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_stale_callbacks_total",
		Help: "Worker callbacks ignored because the target was already terminal",
	}, []string{"callback"})

	dispatchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_dispatch_failures_total",
		Help: "Queue publishes that failed and triggered compensation",
	})

	reconcileDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_reconcile_drift_total",
		Help: "Accounts whose stored balance diverged from the transaction log",
	})

	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atelier_notifications_dropped_total",
		Help: "Best-effort notification writes that failed",
	})
)
