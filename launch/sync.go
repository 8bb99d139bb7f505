package launch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultModeKey     = "launch:mode"
	defaultModeChannel = "launch:updates"
)

// ErrSyncUnavailable wraps Redis failures while sharing launch state.
var ErrSyncUnavailable = errors.New("launch sync unavailable")

// RedisSync shares operator mode changes across instances. The latest mode is
// stored under a key for instances that start later, and every change is
// published so running instances apply it immediately.
type RedisSync struct {
	redis      redis.UniversalClient
	controller *Controller
	key        string
	channel    string
	logger     zerolog.Logger
}

// NewRedisSync creates a sync for controller. controller may be nil for
// operator tooling that only reads and publishes.
func NewRedisSync(redisClient redis.UniversalClient, controller *Controller, logger zerolog.Logger) *RedisSync {
	return &RedisSync{
		redis:      redisClient,
		controller: controller,
		key:        defaultModeKey,
		channel:    defaultModeChannel,
		logger:     logger,
	}
}

// Stored returns the shared mode. ok is false when none was ever published.
func (s *RedisSync) Stored(ctx context.Context) (Mode, bool, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Mode{}, false, nil
		}
		return Mode{}, false, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}

	var m Mode
	if err := json.Unmarshal(data, &m); err != nil {
		return Mode{}, false, fmt.Errorf("decode launch mode: %w", err)
	}
	return m, true, nil
}

// Load seeds the controller from the shared mode, if any.
func (s *RedisSync) Load(ctx context.Context) error {
	m, ok, err := s.Stored(ctx)
	if err != nil || !ok || s.controller == nil {
		return err
	}
	_, err = s.controller.Replace(m)
	return err
}

// Apply merges u into the shared mode and publishes the result. The
// read-modify-write is guarded by WATCH so concurrent operators cannot lose
// each other's fields.
func (s *RedisSync) Apply(ctx context.Context, u Update) (Mode, error) {
	var next Mode

	txf := func(tx *redis.Tx) error {
		current, ok, err := s.storedTx(ctx, tx)
		if err != nil {
			return err
		}
		if !ok && s.controller != nil {
			current = s.controller.GetMode()
		}

		next, err = u.Apply(current)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, payload, 0)
			pipe.Publish(ctx, s.channel, payload)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.redis.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrInvalidMode) {
				return Mode{}, err
			}
			return Mode{}, fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
		}
		if s.controller != nil {
			return s.controller.Replace(next)
		}
		return next, nil
	}

	return Mode{}, fmt.Errorf("%w: concurrent launch updates", ErrSyncUnavailable)
}

// Run applies published modes to the controller until ctx is done.
func (s *RedisSync) Run(ctx context.Context) error {
	if s.controller == nil {
		return errors.New("launch sync has no controller")
	}

	pubsub := s.redis.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m Mode
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				s.logger.Warn().Err(err).Msg("discarding malformed launch mode update")
				continue
			}
			if _, err := s.controller.Replace(m); err != nil {
				s.logger.Warn().Err(err).Msg("rejected launch mode update")
			}
		}
	}
}

func (s *RedisSync) storedTx(ctx context.Context, tx *redis.Tx) (Mode, bool, error) {
	data, err := tx.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Mode{}, false, nil
		}
		return Mode{}, false, err
	}
	var m Mode
	if err := json.Unmarshal(data, &m); err != nil {
		return Mode{}, false, err
	}
	return m, true, nil
}
