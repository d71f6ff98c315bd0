package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePinger struct {
	calls int
	err   error
}

func (p *fakePinger) PingContext(context.Context) error {
	p.calls++
	return p.err
}

func TestRetrier_RetriesOnceOnTransientError(t *testing.T) {
	pinger := &fakePinger{}
	r := NewRetrier(pinger, 0, zap.NewNop())

	attempts := 0
	err := r.Do(context.Background(), "equipment.fetch", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return &pq.Error{Code: "57P01"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, pinger.calls)
}

func TestRetrier_GivesUpAfterSecondFailure(t *testing.T) {
	r := NewRetrier(&fakePinger{}, 0, zap.NewNop())

	attempts := 0
	err := r.Do(context.Background(), "equipment.fetch", func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, IsRetryable(err))
}

func TestRetrier_DoesNotRetryTerminal(t *testing.T) {
	pinger := &fakePinger{}
	r := NewRetrier(pinger, 0, zap.NewNop())

	attempts := 0
	err := r.Do(context.Background(), "equipment.fetch", func(context.Context) error {
		attempts++
		return &pq.Error{Code: "28P01"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, pinger.calls)
	assert.Equal(t, KindTerminal, KindOf(err))
}

func TestRetrier_ReconnectFailureStops(t *testing.T) {
	pinger := &fakePinger{err: &pq.Error{Code: "28P01"}}
	r := NewRetrier(pinger, 0, zap.NewNop())

	attempts := 0
	err := r.Do(context.Background(), "equipment.fetch", func(context.Context) error {
		attempts++
		return &pq.Error{Code: "08006"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, KindTerminal, KindOf(err))
}

func TestRetrier_PerAttemptTimeout(t *testing.T) {
	r := NewRetrier(&fakePinger{}, 10*time.Millisecond, zap.NewNop())

	attempts := 0
	err := r.Do(context.Background(), "slow", func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2, attempts)
}

func TestRetrier_WithSQLMockPing(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing()
	r := NewRetrier(sqlDB, time.Second, zap.NewNop())

	attempts := 0
	err = r.Do(context.Background(), "ready", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return &pq.Error{Code: "08003"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
