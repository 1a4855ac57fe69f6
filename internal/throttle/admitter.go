package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"papersift/internal/config"
	"papersift/internal/logging"
	"papersift/internal/services"
)

// Admitter grants permission to issue one oracle call, blocking until it can.
type Admitter interface {
	Admit(ctx context.Context) error
	Close() error
}

// NewAdmitter builds the admitter selected by cfg.Throttle.
func NewAdmitter(cfg *config.Config, logger *slog.Logger) (Admitter, error) {
	logger = logging.NewComponentLogger(logger, "throttle")
	rps := cfg.Throttle.RequestsPerSecond
	switch {
	case rps <= 0:
		logger.Info("admission unlimited")
		return Unlimited{}, nil
	case cfg.Throttle.RedisURL != "":
		admitter, err := NewRedisAdmitter(cfg.Throttle.RedisURL, cfg.Throttle.RedisKey, rps)
		if err != nil {
			return nil, err
		}
		logger.Info("admission shared through redis",
			logging.Float64("requests_per_second", rps),
			logging.String("key", cfg.Throttle.RedisKey),
		)
		return admitter, nil
	default:
		logger.Info("admission rate limited",
			logging.Float64("requests_per_second", rps),
			logging.Int("burst", cfg.Throttle.Burst),
		)
		return NewLocalAdmitter(rps, cfg.Throttle.Burst), nil
	}
}

// Unlimited admits every call immediately.
type Unlimited struct{}

// Admit returns ctx.Err() and never waits.
func (Unlimited) Admit(ctx context.Context) error { return ctx.Err() }

// Close implements Admitter.
func (Unlimited) Close() error { return nil }

// LocalAdmitter is an in-process token bucket.
type LocalAdmitter struct {
	limiter *rate.Limiter
}

// NewLocalAdmitter returns a token bucket refilled at rps with the given burst.
func NewLocalAdmitter(rps float64, burst int) *LocalAdmitter {
	if burst <= 0 {
		burst = 1
	}
	return &LocalAdmitter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Admit waits for a token.
func (a *LocalAdmitter) Admit(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Close implements Admitter.
func (a *LocalAdmitter) Close() error { return nil }

// RedisAdmitter counts admissions per fixed window in Redis so several
// processes sharing one API key share one budget.
type RedisAdmitter struct {
	client *redis.Client
	key    string
	window time.Duration
	limit  int64
	now    func() time.Time
}

// NewRedisAdmitter connects to url and admits rps calls per second across
// every process using the same key prefix.
func NewRedisAdmitter(url, key string, rps float64) (*RedisAdmitter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, services.Infrastructure("throttle", "connect redis", err)
	}
	return newRedisAdmitter(client, key, rps), nil
}

func newRedisAdmitter(client *redis.Client, key string, rps float64) *RedisAdmitter {
	window, limit := windowFor(rps)
	return &RedisAdmitter{client: client, key: key, window: window, limit: limit, now: time.Now}
}

// windowFor converts a rate into a window length and per-window allowance.
// Rates below one per second widen the window instead of rounding to zero.
func windowFor(rps float64) (time.Duration, int64) {
	if rps >= 1 {
		return time.Second, int64(math.Floor(rps))
	}
	return time.Duration(float64(time.Second) / rps), 1
}

// Admit increments the current window's counter; when the window is full it
// sleeps until the next one and tries again.
func (a *RedisAdmitter) Admit(ctx context.Context) error {
	for {
		now := a.now()
		slot := now.UnixNano() / a.window.Nanoseconds()
		key := fmt.Sprintf("%s:%d", a.key, slot)

		pipe := a.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*a.window)
		if _, err := pipe.Exec(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return services.Infrastructure("throttle", "redis admit", err)
		}
		if incr.Val() <= a.limit {
			return nil
		}

		next := time.Unix(0, (slot+1)*a.window.Nanoseconds())
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close releases the Redis connection.
func (a *RedisAdmitter) Close() error {
	return a.client.Close()
}
