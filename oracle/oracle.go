package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Quote captures one price observation. Prices are fixed point scaled
// by 1e8, timestamps come from the upstream source.
type Quote struct {
	Price     *big.Int  `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Clone returns a deep copy of the quote so callers cannot mutate
// shared state.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed supplies price observations from one upstream source.
type Feed interface {
	Quote() (Quote, error)
}

// Checkpoints persists accepted observations so the deviation baseline
// survives restarts.
type Checkpoints interface {
	SaveLast(q Quote) error
	LoadLast() (Quote, bool, error)
	AppendHistory(q Quote) error
}

// ErrNoQuote indicates that no feed produced a usable observation.
var ErrNoQuote = errors.New("oracle: no price observation available")

// ErrNoFreshQuote indicates that every feed quote fell outside the
// freshness window.
var ErrNoFreshQuote = errors.New("oracle: no fresh price available")

// Config bounds how the aggregator screens feed observations.
type Config struct {
	// MaxDeviationPct is the largest plain-percent move accepted
	// between the last accepted price and a new observation. Negative
	// values are coerced to zero.
	MaxDeviationPct int64
	// MaxAge rejects feed quotes older than this. Zero disables the
	// freshness screen; the consuming engine still applies its own
	// heartbeat against LastUpdate.
	MaxAge time.Duration
	// HistoryCap bounds the in-memory observation history. Non-positive
	// values select the default of 128.
	HistoryCap int
}

type namedFeed struct {
	name string
	feed Feed
}

// Aggregator consults registered feeds in priority order until one
// produces a positive, fresh quote within the deviation bound, then
// records it as the new baseline. It satisfies the lending engine's
// price oracle contract.
type Aggregator struct {
	mu          sync.RWMutex
	feeds       []namedFeed
	maxDev      int64
	maxAge      time.Duration
	historyCap  int
	history     []Quote
	last        *Quote
	checkpoints Checkpoints
	now         func() time.Time
}

// NewAggregator constructs an aggregator with no feeds registered.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.MaxDeviationPct < 0 {
		cfg.MaxDeviationPct = 0
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 128
	}
	return &Aggregator{
		maxDev:     cfg.MaxDeviationPct,
		maxAge:     cfg.MaxAge,
		historyCap: cfg.HistoryCap,
		now:        time.Now,
	}
}

// Register adds or replaces a feed under the supplied identifier.
// Identifiers are stored in lowercase; registration order fixes the
// consultation priority.
func (a *Aggregator) Register(name string, feed Feed) {
	if a == nil || feed == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.feeds {
		if a.feeds[i].name == trimmed {
			a.feeds[i].feed = feed
			return
		}
	}
	a.feeds = append(a.feeds, namedFeed{name: trimmed, feed: feed})
}

// SetCheckpoints wires a persistence backend and warm-starts the
// deviation baseline from the stored last observation.
func (a *Aggregator) SetCheckpoints(store Checkpoints) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	a.checkpoints = store
	a.mu.Unlock()
	if store == nil {
		return nil
	}
	stored, ok, err := store.LoadLast()
	if err != nil {
		return fmt.Errorf("oracle: load checkpoint: %w", err)
	}
	if !ok {
		return nil
	}
	clone := stored.Clone()
	a.mu.Lock()
	if a.last == nil {
		a.last = &clone
	}
	a.mu.Unlock()
	return nil
}

// SetClock overrides the freshness clock.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Price polls the feeds in priority order and returns the first
// acceptable observation, recording it as the new baseline. Feed
// faults, stale quotes and deviation rejections all fall through to
// the next feed; the last failure surfaces when every feed misbehaves.
func (a *Aggregator) Price() (*big.Int, error) {
	if a == nil {
		return nil, ErrNoQuote
	}
	a.mu.RLock()
	feeds := append([]namedFeed{}, a.feeds...)
	maxAge := a.maxAge
	now := a.now
	a.mu.RUnlock()

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = now().Add(-maxAge)
	}

	var lastErr error
	for _, entry := range feeds {
		quote, err := entry.feed.Quote()
		if err != nil {
			lastErr = fmt.Errorf("oracle: feed %s: %w", entry.name, err)
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: feed %s returned invalid price", entry.name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = fmt.Errorf("%w: feed %s", ErrNoFreshQuote, entry.name)
			continue
		}
		if !a.ValidatePrice(quote.Price) {
			lastErr = fmt.Errorf("oracle: feed %s deviates beyond %d%% from last accepted price", entry.name, a.maxDev)
			continue
		}
		if strings.TrimSpace(quote.Source) == "" {
			quote.Source = entry.name
		}
		a.accept(quote)
		return new(big.Int).Set(quote.Price), nil
	}
	if lastErr == nil {
		lastErr = ErrNoQuote
	}
	return nil, lastErr
}

// LastUpdate returns the unix timestamp of the last accepted
// observation.
func (a *Aggregator) LastUpdate() (uint64, error) {
	if a == nil {
		return 0, ErrNoQuote
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return 0, ErrNoQuote
	}
	ts := a.last.Timestamp.Unix()
	if ts < 0 {
		ts = 0
	}
	return uint64(ts), nil
}

// ValidatePrice bounds a candidate against the last accepted price:
// the absolute move must stay within MaxDeviationPct. The first
// observation is always valid.
func (a *Aggregator) ValidatePrice(candidate *big.Int) bool {
	if a == nil || candidate == nil || candidate.Sign() <= 0 {
		return false
	}
	a.mu.RLock()
	last := a.last
	maxDev := a.maxDev
	a.mu.RUnlock()
	if last == nil || last.Price == nil || last.Price.Sign() <= 0 {
		return true
	}
	diff := new(big.Int).Sub(last.Price, candidate)
	diff.Abs(diff)
	lhs := new(big.Int).Mul(diff, big.NewInt(100))
	rhs := new(big.Int).Mul(last.Price, big.NewInt(maxDev))
	return lhs.Cmp(rhs) <= 0
}

// LastQuote returns a copy of the current baseline observation.
func (a *Aggregator) LastQuote() (Quote, bool) {
	if a == nil {
		return Quote{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return Quote{}, false
	}
	return a.last.Clone(), true
}

// History returns up to n recent accepted observations, newest first.
func (a *Aggregator) History(n int) []Quote {
	if a == nil || n <= 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n > len(a.history) {
		n = len(a.history)
	}
	out := make([]Quote, 0, n)
	for i := len(a.history) - 1; i >= len(a.history)-n; i-- {
		out = append(out, a.history[i].Clone())
	}
	return out
}

func (a *Aggregator) accept(quote Quote) {
	clone := quote.Clone()
	a.mu.Lock()
	a.last = &clone
	a.history = append(a.history, clone.Clone())
	if len(a.history) > a.historyCap {
		a.history = a.history[len(a.history)-a.historyCap:]
	}
	store := a.checkpoints
	a.mu.Unlock()
	if store == nil {
		return
	}
	// Checkpoint faults must not fail a good read; the next accepted
	// observation retries the write.
	_ = store.SaveLast(clone)
	_ = store.AppendHistory(clone)
}
