package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-relay circuit breakers guarding publishes.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used when none are
// configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      3,
	}
}

// Breakers keeps one circuit breaker per relay URL so a relay that keeps
// failing stops being dialled for a while.
type Breakers struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates an empty breaker set.
func NewBreakers(cfg BreakerConfig, logger *slog.Logger) *Breakers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breakers{cfg: cfg, logger: logger, m: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *Breakers) get(url string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.m[url]; ok {
		return cb
	}
	cfg := b.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("relay: breaker state changed",
				slog.String("relay", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	b.m[url] = cb
	return cb
}

// Do runs fn through url's breaker. An open breaker fails fast with
// gobreaker.ErrOpenState.
func (b *Breakers) Do(url string, fn func() error) error {
	_, err := b.get(url).Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the breaker state name for url.
func (b *Breakers) State(url string) string {
	return b.get(url).State().String()
}
