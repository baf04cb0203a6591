// Package settle reconciles payment processor webhooks into one authoritative
// record of each owner's subscription.
//
// Settle is designed as a library, not a service. Import it into the
// application that owns your subscription data. It provides:
//
//   - Signature-verified webhook ingestion (Stripe)
//   - A subscription state machine that never regresses to a stale snapshot
//   - Idempotent invoice recording keyed by the processor's invoice id
//   - A processed-event ledger that acknowledges redeliveries untouched
//   - Checkout session creation with trial-once eligibility
//   - Pluggable hooks for metrics and audit trails
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/settle"
//	    "github.com/xraph/settle/catalog"
//	    "github.com/xraph/settle/store/memory"
//	    "github.com/xraph/settle/webhook"
//	)
//
//	engine := settle.New(memory.New(),
//	    settle.WithCatalog(catalog.FromEnv(os.LookupEnv)),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	auth := webhook.NewAuthenticator(os.Getenv("STRIPE_WEBHOOK_SECRET"))
//	http.Handle("/webhooks/stripe", webhook.NewHandler(engine, auth))
//
// # Delivery guarantees
//
// The processor delivers at least once and in no particular order. Settle
// copes with both:
//
//   - Every write is conditional on the record version read before it. A
//     concurrent writer makes the event fail with a retryable error and the
//     processor redelivers it.
//   - A subscription event whose billing period ends before the stored one
//     is discarded as stale.
//   - Statuses only move forward along trialing, active, past_due and
//     cancelled or expired. Recovery from past_due to active is the one
//     step back.
//   - A subscription event for an unknown reference creates the record;
//     a later checkout completion fills in the owner.
//
// Dispatch returns an error only when redelivery can help. Events that are
// missing required data are acknowledged as unprocessable.
//
// # Expiry
//
// A past_due subscription whose period ended more than the grace period ago
// is reported as expired the next time it is read, and the expiry is
// persisted then.
//
// # TypeID
//
// All local records use TypeID for globally unique, type-safe identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	inv_01h455vb4pex5vsknk084sn02q   // Invoice ID
package settle
