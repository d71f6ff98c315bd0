package db

import (
	"context"
	"time"

	"github.com/crucial707/equipment-manager/internal/metrics"
	"go.uber.org/zap"
)

// Pinger is satisfied by *sql.DB and *goqu.Database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Retrier runs database operations with a per-attempt timeout and at most one
// reconnect-and-retry after a retryable failure. Terminal failures are returned
// after the first attempt.
type Retrier struct {
	DB      Pinger
	Timeout time.Duration
	Log     *zap.Logger
}

// NewRetrier returns a Retrier; a zero timeout means attempts are bounded only by ctx.
func NewRetrier(db Pinger, timeout time.Duration, log *zap.Logger) *Retrier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrier{DB: db, Timeout: timeout, Log: log}
}

// Do runs fn, retrying it once when it fails with a retryable error and the
// pool answers a ping. The returned error is always classified.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := r.attempt(ctx, fn)
	if err == nil || !IsRetryable(err) || ctx.Err() != nil {
		return Wrap(op, err)
	}

	metrics.IncDBRetry(op)
	r.Log.Warn("transient database error, reconnecting",
		zap.String("op", op),
		zap.Error(err))

	if perr := r.attempt(ctx, r.DB.PingContext); perr != nil {
		r.Log.Error("reconnect failed", zap.String("op", op), zap.Error(perr))
		return Wrap(op, perr)
	}

	if err := r.attempt(ctx, fn); err != nil {
		return Wrap(op, err)
	}
	return nil
}

func (r *Retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.Timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return fn(actx)
}
