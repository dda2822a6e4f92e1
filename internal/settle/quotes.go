package settle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
	"github.com/bullionworks/trade-engine/internal/pricing"
)

// lockedQuote is a server-issued buy quote with its price frozen. A trade
// executed against the quote id settles at this price even if the spot feed
// refreshes mid-flow.
type lockedQuote struct {
	Quote        pricing.Quote
	Fulfillment  model.Fulfillment
	StorageClass model.StorageClass
	WeightOz     decimal.Decimal
	TotalCost    decimal.Decimal
	ExpiresAt    time.Time
}

// quoteBook holds issued quotes until execution or expiry.
type quoteBook struct {
	mu     sync.Mutex
	ttl    time.Duration
	quotes map[string]lockedQuote
}

func newQuoteBook(ttl time.Duration) *quoteBook {
	return &quoteBook{
		ttl:    ttl,
		quotes: make(map[string]lockedQuote),
	}
}

// Issue stores a quote and returns its id.
func (b *quoteBook) Issue(q lockedQuote) string {
	id := uuid.New().String()
	q.ExpiresAt = time.Now().Add(b.ttl)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Opportunistic sweep; the book stays small at interactive rates.
	now := time.Now()
	for k, v := range b.quotes {
		if now.After(v.ExpiresAt) {
			delete(b.quotes, k)
		}
	}

	b.quotes[id] = q
	return id
}

// Take removes and returns a quote if it exists and has not expired.
func (b *quoteBook) Take(id string) (lockedQuote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.quotes[id]
	if !ok {
		return lockedQuote{}, false
	}
	delete(b.quotes, id)
	if time.Now().After(q.ExpiresAt) {
		return lockedQuote{}, false
	}
	return q, true
}
