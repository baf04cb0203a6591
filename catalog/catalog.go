// Package catalog maps sellable (tier, billing period) pairs to the payment
// processor's price references.
//
// A Catalog is built once at startup and passed by reference to whoever needs
// it. It never reads the environment on its own; FromEnv is the one place
// that does.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PricePrefix is the shape every processor price reference must start with.
const PricePrefix = "price_"

// Tier is a paid subscription tier. The free tier has no subscription record
// and therefore no price.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// BillingPeriod is the billing interval of a price.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodAnnual  BillingPeriod = "annual"
)

var (
	// ErrNotConfigured is returned when no price is mapped for a pair.
	ErrNotConfigured = errors.New("settle: price not configured")

	// ErrInvalidFormat is returned when a configured price reference does
	// not carry the processor's price prefix.
	ErrInvalidFormat = errors.New("settle: invalid price reference format")
)

// Tiers returns every known tier in ascending order.
func Tiers() []Tier {
	return []Tier{TierStarter, TierProfessional, TierEnterprise}
}

// Rank orders tiers from 1 (starter) upwards. Unknown tiers rank 0.
func (t Tier) Rank() int {
	for i, known := range Tiers() {
		if known == t {
			return i + 1
		}
	}
	return 0
}

// Covers reports whether t grants at least the access of required.
func (t Tier) Covers(required Tier) bool {
	return t.Rank() > 0 && t.Rank() >= required.Rank()
}

// Periods returns every known billing period.
func Periods() []BillingPeriod {
	return []BillingPeriod{PeriodMonthly, PeriodAnnual}
}

// ParseTier validates s as a Tier. Matching is case-insensitive.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tiers() {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// ParseBillingPeriod validates s as a BillingPeriod. The processor's
// interval names ("month", "year") and "yearly" are accepted as aliases.
func ParseBillingPeriod(s string) (BillingPeriod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monthly", "month":
		return PeriodMonthly, true
	case "annual", "annually", "yearly", "year":
		return PeriodAnnual, true
	default:
		return "", false
	}
}

type key struct {
	tier   Tier
	period BillingPeriod
}

// Catalog is an immutable price mapping.
type Catalog struct {
	prices map[key]string
	// refs maps a price reference back to its pair. References configured
	// for more than one pair are left out.
	refs map[string]key
}

// Entry is one configured price.
type Entry struct {
	Tier     Tier
	Period   BillingPeriod
	PriceRef string
}

// New builds a Catalog from entries. Values are stored as given, including
// malformed ones: a bad value is reported by Resolve for that pair only, so
// one typo does not take every other price down at boot.
func New(entries ...Entry) *Catalog {
	c := &Catalog{prices: make(map[key]string, len(entries))}
	for _, e := range entries {
		ref := strings.TrimSpace(e.PriceRef)
		if ref == "" {
			continue
		}
		c.prices[key{e.Tier, e.Period}] = ref
	}

	c.refs = make(map[string]key, len(c.prices))
	shared := make(map[string]bool)
	for k, ref := range c.prices {
		if _, dup := c.refs[ref]; dup {
			shared[ref] = true
			continue
		}
		c.refs[ref] = k
	}
	for ref := range shared {
		delete(c.refs, ref)
	}
	return c
}

// Resolve returns the processor price reference for tier and period.
func (c *Catalog) Resolve(tier Tier, period BillingPeriod) (string, error) {
	ref, ok := c.prices[key{tier, period}]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrNotConfigured, tier, period)
	}
	if !strings.HasPrefix(ref, PricePrefix) || len(ref) == len(PricePrefix) {
		return "", fmt.Errorf("%w: %s/%s has %q", ErrInvalidFormat, tier, period, ref)
	}
	return ref, nil
}

// Lookup finds the tier and period a price reference is configured for.
// A reference shared by several pairs is ambiguous and never found.
func (c *Catalog) Lookup(priceRef string) (Tier, BillingPeriod, bool) {
	k, ok := c.refs[priceRef]
	if !ok {
		return "", "", false
	}
	return k.tier, k.period, true
}

// Entries returns the configured prices sorted by tier then period.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.prices))
	for k, ref := range c.prices {
		out = append(out, Entry{Tier: k.tier, Period: k.period, PriceRef: ref})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// EnvKey returns the environment variable holding the price for a pair,
// e.g. SETTLE_PRICE_STARTER_MONTHLY.
func EnvKey(tier Tier, period BillingPeriod) string {
	return "SETTLE_PRICE_" + strings.ToUpper(string(tier)) + "_" + strings.ToUpper(string(period))
}

// FromEnv builds a Catalog from every EnvKey the lookup function knows.
// Pass os.LookupEnv in production.
func FromEnv(lookup func(string) (string, bool)) *Catalog {
	var entries []Entry
	for _, t := range Tiers() {
		for _, p := range Periods() {
			if v, ok := lookup(EnvKey(t, p)); ok {
				entries = append(entries, Entry{Tier: t, Period: p, PriceRef: v})
			}
		}
	}
	return New(entries...)
}
