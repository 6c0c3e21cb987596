package currency

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/vibeforge/vibeforge/internal/pkg/cache"
)

// DefaultRateTTL is how long a fetched exchange rate stays valid.
const DefaultRateTTL = 12 * time.Hour

const rateCacheKey = "billing:fx:usd_inr"

// RateSource fetches the current USD->INR exchange rate.
type RateSource interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// Converter translates between the internal reference currency (USD) and
// the charge currency (INR). The rate is cached in-process with a TTL and
// mirrored to Redis so sibling processes share fetches. Rate lookup never
// fails: on an unreachable source the converter serves the last cached
// value, then the static fallback rate.
type Converter struct {
	mu        sync.Mutex
	source    RateSource
	fallback  decimal.Decimal
	ttl       time.Duration
	now       func() time.Time
	useRedis  bool
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Option configures a Converter.
type Option func(*Converter)

// WithClock injects the time source, used by tests to drive TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Converter) { c.ttl = ttl }
}

// WithRedisMirror shares fetched rates through the process-wide Redis cache.
func WithRedisMirror() Option {
	return func(c *Converter) { c.useRedis = true }
}

// NewConverter builds a converter around a rate source and a static
// fallback rate. The fallback must be positive.
func NewConverter(source RateSource, fallback decimal.Decimal, opts ...Option) *Converter {
	c := &Converter{
		source:   source,
		fallback: fallback,
		ttl:      DefaultRateTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetReferenceRate returns the USD->INR rate: cached if fresh, freshly
// fetched on expiry, the stale cached value if the fetch fails, and the
// static fallback if nothing was ever fetched.
func (c *Converter) GetReferenceRate(ctx context.Context) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.rate.IsZero() && now.Sub(c.fetchedAt) < c.ttl {
		return c.rate
	}

	if c.useRedis {
		if rate, ok := c.readRedisRate(); ok {
			c.rate = rate
			c.fetchedAt = now
			return rate
		}
	}

	rate, err := c.source.FetchRate(ctx)
	if err != nil || !rate.IsPositive() {
		if err != nil {
			log.Warnf("[Currency] rate fetch failed, using %s: %v", c.fallbackKind(), err)
		} else {
			log.Warnf("[Currency] rate source returned non-positive rate, using %s", c.fallbackKind())
		}
		if !c.rate.IsZero() {
			return c.rate
		}
		return c.fallback
	}

	c.rate = rate
	c.fetchedAt = now
	if c.useRedis {
		c.writeRedisRate(rate)
	}
	return rate
}

func (c *Converter) fallbackKind() string {
	if !c.rate.IsZero() {
		return "stale cached rate"
	}
	return "static fallback rate"
}

func (c *Converter) readRedisRate() (decimal.Decimal, bool) {
	val, err := cache.Get(rateCacheKey)
	if err != nil {
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(val)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

func (c *Converter) writeRedisRate(rate decimal.Decimal) {
	if err := cache.Set(rateCacheKey, rate.String(), c.ttl); err != nil {
		log.Warnf("[Currency] failed to mirror rate to redis: %v", err)
	}
}

// Convert applies rate to amount and rounds to 2 decimal places, half up.
// shopspring rounds half away from zero, which is half up for the positive
// amounts money paths deal in; the same rounding is used in both directions
// so a round trip stays within one cent.
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// ToChargeAmount converts a reference (USD) amount into the charge currency
// and reports the rate used.
func (c *Converter) ToChargeAmount(ctx context.Context, reference decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	rate := c.GetReferenceRate(ctx)
	return Convert(reference, rate), rate
}

// ToReferenceAmount converts a charge-currency amount back to the reference
// currency and reports the rate used.
func (c *Converter) ToReferenceAmount(ctx context.Context, charge decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	rate := c.GetReferenceRate(ctx)
	return charge.DivRound(rate, 2), rate
}
