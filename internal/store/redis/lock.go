package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medibook/schedula/internal/store"
)

const retryInterval = 25 * time.Millisecond

// BookingLocker serializes bookings for one doctor and calendar day across processes.
// The lock is advisory: the database transaction remains the authority.
type BookingLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewBookingLocker(client *redis.Client, ttl, wait time.Duration) *BookingLocker {
	return &BookingLocker{client: client, ttl: ttl, wait: wait}
}

func bookingKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("lock:booking:%s:%s", doctorID, date.Format(time.DateOnly))
}

// WithBookingLock runs fn while holding the (doctor, date) key. It retries until wait elapses
// and then returns store.ErrLocked.
func (l *BookingLocker) WithBookingLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	key := bookingKey(doctorID, date)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	lockedCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockedCtx)
}

func (l *BookingLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire booking lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return store.ErrLocked
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *BookingLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}
