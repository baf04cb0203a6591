package settle

import (
	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
	"github.com/xraph/settle/invoice"
	"github.com/xraph/settle/subscription"
	"github.com/xraph/settle/types"
)

// Re-export common types for convenience so users don't have to import the
// leaf packages for everyday use.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Subscription is re-exported from subscription package.
type Subscription = subscription.Subscription

// Invoice is re-exported from invoice package.
type Invoice = invoice.Invoice

// Tier is re-exported from catalog package.
type Tier = catalog.Tier

// BillingPeriod is re-exported from catalog package.
type BillingPeriod = catalog.BillingPeriod

// Outcome is re-exported from event package.
type Outcome = event.Outcome

// Re-export constructors
var (
	NewMoney  = types.NewMoney
	NewEntity = types.NewEntity
)
