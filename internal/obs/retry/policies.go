package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultRelayPolicy covers one outbox row being published to the bus. After
// it gives up the row stays claimed and is picked again once its ttl expires.
func DefaultRelayPolicy(log *zap.Logger) Policy {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("policy", "outbox_relay"))
	return Policy{
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		OnAttempt: func(i int, err error) {
			if !errors.Is(err, ErrPermanent) {
				log.Debug("relay attempt failed", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrPermanent) {
				log.Warn("relay retries exhausted", zap.Error(err))
			}
		},
	}
}

// StateStorePolicy guards short cache round-trips inside a monitor cycle. It
// must finish well within the cycle lock timeout.
func StateStorePolicy() Policy {
	return Policy{
		Name:     "state_store",
		Attempts: 3,
		Backoff:  ExpoJitter{Base: 50 * time.Millisecond, Max: 500 * time.Millisecond, Jitter: 0.1},
	}
}
