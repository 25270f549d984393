// Package bookkeeper reconciles payment-processor notifications against
// subscription orders and keeps the quota ledger consistent with them.
//
// Bookkeeper is a library. Import it into the service that receives
// processor webhooks, hand it a store, and call Reconcile with each raw
// notification. It provides:
//
//   - A payment normalizer that accepts the processor's flat and
//     "responses"-wrapped payload shapes and produces one canonical record
//   - An order state machine driving created orders to paid or failed,
//     idempotent against duplicate notifications
//   - A quota ledger enforcing soft and hard limits per subject and feature
//   - Pluggable storage (memory, PostgreSQL, SQLite, MongoDB) through grove
//   - Lifecycle hooks for auditing and metrics via plugins
//
// # Quick Start
//
//	import (
//	    "github.com/DataONEorg/bookkeeper"
//	    "github.com/DataONEorg/bookkeeper/store/memory"
//	)
//
//	bk := bookkeeper.New(memory.New())
//	if err := bk.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer bk.Stop()
//
//	res, err := bk.Reconcile(ctx, webhookBody)
//	switch {
//	case errors.Is(err, bookkeeper.ErrMalformedPaymentPayload):
//	    // reject the notification
//	case errors.Is(err, bookkeeper.ErrOrderNotFound):
//	    // unknown order
//	case err != nil:
//	    // storage failure; the processor will redeliver
//	case res.PartialSuccess():
//	    // paid, but some quotas could not be reserved
//	}
//
// # Reconciliation
//
// Reconcile normalizes the payload, locks the referenced order, applies the
// payment and, when the order becomes paid, reserves quota for every
// quota-bearing feature of the products on its sku items. An order leaves
// created at most once. A second notification for the same order returns
// its current status with AlreadyFinalized set instead of an error.
//
// Quota reservations that fail after a payment is captured never undo the
// payment. They are reported in Result.QuotaFailures for an operator.
//
// # Amounts
//
// Money is held in integer minor units. Processor amounts are compared
// after conversion with types.ParseMinorUnits: digits-only text is already
// in minor units, text with a decimal point is in major units.
//
// # Concurrency
//
// Reconciliations of different orders run in parallel. The same order is
// serialized by a per-order lock (in-process by default, Redis with
// lock/redislock) and by the store's atomic row update. Quota updates are
// atomic per quota row and never block updates to other quotas.
package bookkeeper
