package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/ports"
)

type BreakerConfig struct {
	Name        string
	MaxRequests uint32        // requêtes autorisées en half-open
	Interval    time.Duration // remise à zéro des compteurs en état fermé
	Timeout     time.Duration // durée de l'état ouvert avant half-open
	MinRequests uint32
	// Ratio d'échecs au-delà duquel le circuit s'ouvre
	FailureThreshold float64
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "cache-store",
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.6,
	}
}

// BreakerStore entoure un CacheStore d'un circuit breaker : quand Redis
// tombe, les lectures échouent tout de suite au lieu d'attendre le timeout
// réseau à chaque requête.
type BreakerStore struct {
	next ports.CacheStore
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next ports.CacheStore, cfg BreakerConfig) *BreakerStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("🔌 Cache breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// Seules les pannes du store comptent, pas les annulations de l'appelant
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerStore{next: next, cb: cb}
}

func (b *BreakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	type result struct {
		value string
		ok    bool
	}
	res, err := b.cb.Execute(func() (any, error) {
		v, ok, err := b.next.Get(ctx, key)
		return result{v, ok}, err
	})
	if err != nil {
		return "", false, breakerErr(err)
	}
	r := res.(result)
	return r.value, r.ok, nil
}

func (b *BreakerStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Set(ctx, key, value, ttl)
	})
	return breakerErr(err)
}

func (b *BreakerStore) Delete(ctx context.Context, keys ...string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Delete(ctx, keys...)
	})
	return breakerErr(err)
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// breakerErr : circuit ouvert => le store est considéré indisponible
func breakerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
